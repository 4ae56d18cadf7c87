package am

import (
	"os"
	"sort"
	"strings"

	"github.com/teranos/janus/errors"
)

// Origin names the layer an effective setting was taken from.
type Origin string

const (
	OriginDefault Origin = "default"
	OriginSystem  Origin = "system"      // /etc/janus/am.toml
	OriginUser    Origin = "user"        // ~/.janus/am.toml
	OriginProject Origin = "project"     // nearest am.toml above the working directory
	OriginEnv     Origin = "environment" // JANUS_* variables
)

// Origins lists every layer from lowest to highest precedence.
var Origins = []Origin{OriginDefault, OriginSystem, OriginUser, OriginProject, OriginEnv}

// Provenance is where one key was set.
type Provenance struct {
	Origin Origin
	From   string // file path or variable name
}

// Setting is one effective leaf of the configuration.
type Setting struct {
	Key    string      `json:"key"`
	Value  interface{} `json:"value"`
	Origin Origin      `json:"origin"`
	From   string      `json:"from,omitempty"`
}

// opaqueMaps are values that stay whole instead of being split into keys.
var opaqueMaps = map[string]bool{"native.purposes": true}

// Where loads the configuration and returns each setting with its origin,
// sorted by key.
func Where() ([]Setting, error) {
	if _, err := Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	all := GetViper().AllSettings()

	loadMu.Lock()
	known := make(map[string]Provenance, len(provenance))
	for k, p := range provenance {
		known[k] = p
	}
	loadMu.Unlock()

	return settingsOf(all, known, os.Getenv), nil
}

func settingsOf(tree map[string]interface{}, known map[string]Provenance, getenv func(string) string) []Setting {
	var out []Setting
	var walk func(prefix string, node map[string]interface{})
	walk = func(prefix string, node map[string]interface{}) {
		for name, value := range node {
			key := name
			if prefix != "" {
				key = prefix + "." + name
			}
			if sub, ok := value.(map[string]interface{}); ok && !opaqueMaps[key] {
				walk(key, sub)
				continue
			}
			p, ok := known[key]
			if !ok {
				p = Provenance{Origin: OriginDefault}
			}
			if env := envName(key); getenv(env) != "" {
				p = Provenance{Origin: OriginEnv, From: env}
			}
			out = append(out, Setting{Key: key, Value: value, Origin: p.Origin, From: p.From})
		}
	}
	walk("", tree)
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func envName(key string) string {
	return "JANUS_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

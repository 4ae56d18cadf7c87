package am

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/teranos/janus/errors"
)

// backupDepth is how many previous versions SetValue keeps next to am.toml.
const backupDepth = 3

func backupName(configPath string, n int) string {
	return fmt.Sprintf("%s.back%d", configPath, n)
}

// createBackup shifts .backN up by one, dropping the oldest, and copies the
// current file to .back1. A missing file needs no backup.
func createBackup(configPath string) error {
	current, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "read %s for backup", configPath)
	}

	for n := backupDepth; n > 1; n-- {
		older, newer := backupName(configPath, n), backupName(configPath, n-1)
		if err := os.Rename(newer, older); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "rotate %s", newer)
		}
	}
	return errors.Wrap(
		os.WriteFile(backupName(configPath, 1), current, DefaultFilePermissions),
		"write newest backup")
}

// loadOrInitialize reads a TOML file into a generic map, or returns an empty map if it is missing
func loadOrInitialize(configPath string) (map[string]interface{}, error) {
	if err := os.MkdirAll(filepath.Dir(configPath), 0750); err != nil {
		return nil, errors.Wrap(err, "failed to create config directory")
	}

	config := make(map[string]interface{})
	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		return config, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", configPath)
	}
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", configPath)
	}
	return config, nil
}

// save writes the config with a backup and marks the write as ours for the watcher
func save(config map[string]interface{}, configPath string) error {
	if err := createBackup(configPath); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}

	data, err := toml.Marshal(config)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	if w := activeWatcher(); w != nil {
		w.Quiet(2 * Settle)
	}

	if err := os.WriteFile(configPath, data, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to write config")
	}

	return nil
}

// SetValue sets a dotted key (e.g. "bridge.destination_url") in the TOML file at configPath
func SetValue(configPath, key string, value interface{}) error {
	parts := strings.Split(key, ".")
	for _, p := range parts {
		if p == "" {
			return errors.NewInvalidRequestError("invalid config key %q", key)
		}
	}

	config, err := loadOrInitialize(configPath)
	if err != nil {
		return err
	}

	section := config
	for _, p := range parts[:len(parts)-1] {
		next, ok := section[p].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			section[p] = next
		}
		section = next
	}
	section[parts[len(parts)-1]] = value

	return save(config, configPath)
}

// SetUserValue sets a dotted key in ~/.janus/am.toml
func SetUserValue(key string, value interface{}) error {
	path := UserConfigPath()
	if path == "" {
		return errors.New("could not determine home directory")
	}
	return SetValue(path, key, value)
}

package commands

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/janus/am"
	"github.com/teranos/janus/inject"
)

func run(t *testing.T, cmd *cobra.Command, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return out.String()
}

func TestScriptListenerUsesChannelFlag(t *testing.T) {
	out := run(t, ScriptCmd, "listener", "--channel", "customChannel")
	assert.Equal(t, inject.ListenerBundle("customChannel")+"\n", out)
	scriptChannel = ""
}

func TestScriptQueryAndModal(t *testing.T) {
	assert.Equal(t, inject.QuerySnippet()+"\n", run(t, ScriptCmd, "query"))
	assert.Equal(t, inject.ShowModalSnippet()+"\n", run(t, ScriptCmd, "modal"))
}

func TestAmShowTOML(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("JANUS_BRIDGE_DESTINATION_URL", "https://example.com/privacy")
	am.Reset()
	defer am.Reset()

	out := run(t, AmCmd, "show")
	require.True(t, strings.HasPrefix(out, "# janus configuration\n"))

	var parsed map[string]map[string]interface{}
	require.NoError(t, toml.Unmarshal([]byte(out), &parsed))
	assert.Equal(t, "https://example.com/privacy", parsed["bridge"]["destination_url"])
	assert.Equal(t, am.DefaultChannel, parsed["bridge"]["channel"])
}

func TestAmGet(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	am.Reset()
	defer am.Reset()

	assert.Equal(t, am.DefaultChannel+"\n", run(t, AmCmd, "get", "bridge.channel"))
}

func TestAmWhereGroupsByOrigin(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("JANUS_SERVER_PORT", "9100")
	am.Reset()
	defer am.Reset()

	out := run(t, AmCmd, "where")
	assert.Contains(t, out, "[default]\n")
	assert.Contains(t, out, "[environment]\n")
	assert.Contains(t, out, "server.port = 9100  (JANUS_SERVER_PORT)")
}

func TestAmSetWritesUserConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	am.Reset()
	defer am.Reset()

	run(t, AmCmd, "set", "server.port", "9000")

	cfg, err := am.Load()
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.GetServerPort())
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, true, parseValue("true"))
	assert.Equal(t, int64(42), parseValue("42"))
	assert.Equal(t, int64(1), parseValue("1"))
	assert.Equal(t, "https://ethyca.com", parseValue("https://ethyca.com"))
}

func TestVersionJSON(t *testing.T) {
	out := run(t, VersionCmd, "--json")
	assert.Contains(t, out, `"commit_hash"`)
}

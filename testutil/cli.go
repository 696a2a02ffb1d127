package testutil

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// CLITestContext is a config directory wired to a running RPCNode.
type CLITestContext struct {
	Node      *RPCNode
	ConfigDir string
}

// CLITestOptions tune the generated config.yaml.
type CLITestOptions struct {
	// Config is merged over the generated settings, section by section.
	Config map[string]interface{}
}

// NewCLITestContext starts a node and writes a config.yaml pointing the
// accountsync section at it, with logging on stdout only.
//
//	tc := testutil.NewCLITestContext(t, testutil.CLITestOptions{})
//	tc.Node.SetAccount(addr, []byte("v1"), "")
//	out, err := testutil.ExecuteCommand(newRootCmd(), "--config", tc.ConfigDir, "fetch", addr)
func NewCLITestContext(t *testing.T, opts CLITestOptions) *CLITestContext {
	t.Helper()
	node := NewRPCNode(t)

	cfg := map[string]interface{}{
		"accountsync": map[string]interface{}{
			"rpc": map[string]interface{}{"endpoint": node.URL()},
			"logger": map[string]interface{}{
				"level":          "error",
				"enable_console": true,
				"enable_file":    false,
			},
			"subscription": map[string]interface{}{"reconnect_delay": "10ms"},
		},
	}
	for section, v := range opts.Config {
		overlay, ok := v.(map[string]interface{})
		base, isMap := cfg[section].(map[string]interface{})
		if !ok || !isMap {
			cfg[section] = v
			continue
		}
		for k, val := range overlay {
			base[k] = val
		}
	}

	// JSON is valid YAML.
	raw, err := json.MarshalIndent(cfg, "", "  ")
	require.NoError(t, err)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), raw, 0o644))

	return &CLITestContext{Node: node, ConfigDir: dir}
}

// ExecuteCommand runs cmd with args and returns what it wrote to its out
// and err streams.
func ExecuteCommand(cmd *cobra.Command, args ...string) (string, error) {
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

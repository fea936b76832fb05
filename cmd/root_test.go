package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/tether/internal/apply"
	"grimm.is/tether/internal/watchdog"
)

// testConfig writes an HCL file that keeps every directory inside a temp
// dir and returns its path.
func testConfig(t *testing.T, extra string) (path, dir string) {
	t.Helper()
	dir = t.TempDir()
	path = filepath.Join(dir, "tether.hcl")
	hcl := fmt.Sprintf(`
run_dir   = %q
state_dir = %q
log_dir   = %q
dependent_services = []
%s
`, filepath.Join(dir, "run"), filepath.Join(dir, "state"), filepath.Join(dir, "log"), extra)
	require.NoError(t, os.WriteFile(path, []byte(hcl), 0600))
	return path, dir
}

func execute(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = Execute(args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestRootCommand(t *testing.T) {
	cmd, _ := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "tether", cmd.Use)
	assert.True(t, cmd.SilenceUsage)
}

func TestCommandPresence(t *testing.T) {
	cmd, _ := NewRootCommand()
	for _, name := range []string{"apply", "status", "unlock", "history", "check", "version"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd, _ := NewRootCommand()

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)

	output := cmd.PersistentFlags().Lookup("output")
	require.NotNil(t, output)
	assert.Equal(t, "text", output.DefValue)

	config := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, config)
	assert.Equal(t, "c", config.Shorthand)
}

func TestApplyFlags(t *testing.T) {
	cmd, _ := NewRootCommand()
	applyCmd, _, err := cmd.Find([]string{"apply"})
	require.NoError(t, err)

	tests := []struct {
		name, short, def string
	}{
		{"timeout", "t", "10"},
		{"write", "w", ""},
		{"ipv4", "4", "false"},
		{"ipv6", "6", "false"},
		{"backend", "", ""},
		{"probe", "", "[]"},
	}
	for _, tt := range tests {
		f := applyCmd.Flags().Lookup(tt.name)
		require.NotNil(t, f, tt.name)
		assert.Equal(t, tt.short, f.Shorthand, tt.name)
		assert.Equal(t, tt.def, f.DefValue, tt.name)

		// The bare command accepts the same flags.
		assert.NotNil(t, cmd.Flags().Lookup(tt.name), tt.name)
	}
}

func TestExecute_ExitCodes(t *testing.T) {
	cfg, dir := testConfig(t, "")
	rules := filepath.Join(dir, "rules.v4")
	require.NoError(t, os.WriteFile(rules, []byte("*filter\nCOMMIT\n"), 0644))

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"unknown flag", []string{"--bogus"}, apply.ExitArgument},
		{"bad output format", []string{"status", "-c", cfg, "-o", "xml"}, apply.ExitArgument},
		{"missing config", []string{"status", "-c", filepath.Join(dir, "nope.hcl")}, apply.ExitFileAccess},
		{"negative timeout", []string{"apply", "-c", cfg, "-t", "-5", rules}, apply.ExitArgument},
		{"non-numeric timeout", []string{"apply", "-c", cfg, "-t", "abc", rules}, apply.ExitArgument},
		{"non-numeric timeout on bare command", []string{"-c", cfg, "--timeout=ten", rules}, apply.ExitArgument},
		{"both families", []string{"-c", cfg, "-4", "-6", rules}, apply.ExitArgument},
		{"unknown backend", []string{"apply", "-c", cfg, "--backend", "pf", rules}, apply.ExitArgument},
		{"unreadable ruleset", []string{"apply", "-c", cfg, filepath.Join(dir, "absent")}, apply.ExitFileAccess},
		{"too many args", []string{"apply", "-c", cfg, rules, rules}, apply.ExitArgument},
		{"version", []string{"version"}, apply.ExitOK},
		{"status", []string{"status", "-c", cfg}, apply.ExitOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := execute(t, tt.args...)
			assert.Equal(t, tt.want, code, "stderr: %s", stderr)
		})
	}
}

func TestExecute_MalformedConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tether.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`timeout = "soon`), 0600))

	code, _, stderr := execute(t, "status", "-c", path)
	assert.Equal(t, apply.ExitArgument, code)
	assert.Contains(t, stderr, "tether:")
}

func TestRunWatchdog_BadParams(t *testing.T) {
	assert.Equal(t, watchdog.ExitBadParams, RunWatchdog("{not json"))
	assert.Equal(t, watchdog.ExitBadParams, RunWatchdog(`{"tx_id":"tx-1"}`))
}

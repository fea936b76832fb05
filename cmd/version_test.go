package cmd

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/tether/internal/brand"
)

func TestVersionCommand(t *testing.T) {
	code, out, _ := execute(t, "version")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, brand.Version)
	assert.Contains(t, out, "commit")

	code, out, _ = execute(t, "version", "-o", "json")
	assert.Equal(t, 0, code)
	var info VersionInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, brand.Name, info.Name)
}

func TestVersionFlag(t *testing.T) {
	code, out, _ := execute(t, "--version")
	assert.Equal(t, 0, code)
	assert.Equal(t, brand.VersionString()+"\n", out)
}

func TestCheckCommand(t *testing.T) {
	cfg, _ := testConfig(t, "timeout = 25\nbackend = \"nft\"\nfamily = \"inet\"\n")

	code, out, stderr := execute(t, "check", cfg)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "Configuration valid!")
	assert.Contains(t, out, "nft-inet")
	assert.Contains(t, out, "/etc/nftables.conf")
	assert.Contains(t, out, "25s")
}

func TestCheckCommand_Invalid(t *testing.T) {
	cfg, _ := testConfig(t, "backend = \"pf\"\n")
	code, _, _ := execute(t, "check", cfg)
	assert.Equal(t, 1, code)
}

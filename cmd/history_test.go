package cmd

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/tether/internal/apply"
	"grimm.is/tether/internal/audit"
)

func TestHistoryCommand(t *testing.T) {
	cfg, dir := testConfig(t, "")

	store, err := audit.Open(filepath.Join(dir, "state", "tether.db"), 0, nil)
	require.NoError(t, err)
	ctx := context.Background()
	for _, e := range []audit.Event{
		{TxID: "11111111-aaaa", Target: "iptables-ipv4", Actor: audit.ActorController, Action: audit.ActionStarted},
		{TxID: "11111111-aaaa", Target: "iptables-ipv4", Actor: audit.ActorController, Action: audit.ActionTimedOut},
		{TxID: "11111111-aaaa", Target: "iptables-ipv4", Actor: audit.ActorWatchdog, Action: audit.ActionWatchdogRestored,
			Details: map[string]any{"snapshot": "/run/tether/snapshots/a.snap"}},
		{TxID: "22222222-bbbb", Target: "nft-inet", Actor: audit.ActorController, Action: audit.ActionConfirmed},
	} {
		require.NoError(t, store.Record(ctx, e))
	}
	require.NoError(t, store.Close())

	code, out, stderr := execute(t, "history", "-c", cfg)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "ACTION")
	assert.Contains(t, out, "watchdog-restored")
	assert.Contains(t, out, "snapshot=/run/tether/snapshots/a.snap")
	assert.Contains(t, out, "11111111")

	code, out, _ = execute(t, "history", "-c", cfg, "-o", "json", "--tx", "11111111-aaaa", "-n", "2")
	require.Equal(t, 0, code)
	var events []audit.Event
	require.NoError(t, json.Unmarshal([]byte(out), &events))
	require.Len(t, events, 2)
	for _, e := range events {
		assert.Equal(t, "11111111-aaaa", e.TxID)
	}

	code, out, _ = execute(t, "history", "-c", cfg, "-o", "json", "--action", "confirmed")
	require.Equal(t, 0, code)
	require.NoError(t, json.Unmarshal([]byte(out), &events))
	require.Len(t, events, 1)
	assert.Equal(t, "nft-inet", events[0].Target)
}

func TestHistoryCommand_Disabled(t *testing.T) {
	cfg, _ := testConfig(t, "journal {\n  enabled = false\n}\n")
	code, _, stderr := execute(t, "history", "-c", cfg)
	assert.Equal(t, apply.ExitArgument, code)
	assert.Contains(t, stderr, "disabled")
}

func TestFormatDetails(t *testing.T) {
	assert.Equal(t, "-", formatDetails(nil))
	assert.Equal(t, "a=1 b=x", formatDetails(map[string]any{"b": "x", "a": 1}))
}

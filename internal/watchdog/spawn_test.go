package watchdog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/tether/internal/firewall"
)

func TestParams_EncodeDecode(t *testing.T) {
	f := newFixture(t)

	encoded, err := f.params.Encode()
	require.NoError(t, err)
	assert.NotContains(t, encoded, "\n")

	decoded, err := DecodeParams(encoded)
	require.NoError(t, err)
	assert.Equal(t, f.params.TxID, decoded.TxID)
	assert.Equal(t, f.params.Directive, decoded.Directive)
	assert.Equal(t, f.params.Timeout, decoded.Timeout)
	assert.Equal(t, f.params.Snapshot.Digest, decoded.Snapshot.Digest)
	assert.True(t, f.params.Deadline.Equal(decoded.Deadline))
	assert.Equal(t, "iptables-ipv4", decoded.Target())
}

func TestDecodeParams_Invalid(t *testing.T) {
	_, err := DecodeParams("not json")
	assert.Error(t, err)

	_, err = DecodeParams(`{"tx_id":"tx","timeout":-1}`)
	require.Error(t, err)
	for _, want := range []string{"restore directive", "negative timeout", "snapshot path", "lock directory"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestParams_TargetFallsBackToDirective(t *testing.T) {
	p := Params{Directive: firewall.Directive{Backend: "nft", Family: firewall.FamilyInet}}
	assert.Equal(t, "nft-inet", p.Target())
}

func TestInProcessSpawner_Stop(t *testing.T) {
	f := newFixture(t)
	s := &InProcessSpawner{Deps: f.deps}

	h, err := s.Spawn(context.Background(), f.params)
	require.NoError(t, err)
	require.True(t, f.clk.BlockUntilWaiters(1, time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	outcome, err := h.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, Cancelled, outcome)
	assert.Equal(t, 0, f.backend.RestoreCount())
}

func TestInProcessSpawner_StopAfterFire(t *testing.T) {
	f := newFixture(t)
	s := &InProcessSpawner{Deps: f.deps}

	_, err := s.Spawn(context.Background(), f.params)
	require.NoError(t, err)
	require.True(t, f.clk.BlockUntilWaiters(1, time.Second))
	f.clk.Advance(10 * time.Second)

	handles := s.Handles()
	require.Len(t, handles, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = handles[0].Wait(ctx)
	require.NoError(t, err)

	outcome, err := handles[0].Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, Restored, outcome, "a late stop reports the restore")
}

func TestInProcessSpawner_SurvivesCallerContext(t *testing.T) {
	f := newFixture(t)
	s := &InProcessSpawner{Deps: f.deps}

	ctx, cancel := context.WithCancel(context.Background())
	_, err := s.Spawn(ctx, f.params)
	require.NoError(t, err)
	cancel()

	require.True(t, f.clk.BlockUntilWaiters(1, time.Second))
	f.clk.Advance(10 * time.Second)

	wctx, wcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer wcancel()
	outcome, err := s.Handles()[0].Wait(wctx)
	require.NoError(t, err)
	assert.Equal(t, Restored, outcome)
}

func TestInProcessSpawner_RejectsInvalidParams(t *testing.T) {
	s := &InProcessSpawner{}
	_, err := s.Spawn(context.Background(), Params{})
	assert.Error(t, err)
}

package apply

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		res  *Result
		err  error
		want int
	}{
		{"confirmed", &Result{Outcome: Confirmed}, nil, 0},
		{"declined", &Result{Outcome: Declined}, nil, 255},
		{"late confirm", &Result{Outcome: LateConfirm}, nil, 255},
		{"apply failed outcome", &Result{Outcome: ApplyFailed}, nil, 5},
		{"no result", nil, nil, 0},
		{"plain error", nil, errors.New("unknown flag: --bogus"), 1},
		{"argument", nil, newError(KindArgument, "timeout", nil), 1},
		{"file access", nil, newError(KindFileAccess, "/etc/rules", nil), 2},
		{"backend unavailable", nil, newError(KindBackendUnavailable, "nft-inet", nil), 3},
		{"snapshot", nil, newError(KindSnapshot, "iptables-ipv4", nil), 4},
		{"lock conflict", nil, newError(KindLockConflict, "iptables-ipv4", nil), 6},
		{"dependency missing", nil, newError(KindDependencyMissing, "nft", nil), 127},
		{"apply", nil, &Error{Kind: KindApply, Phase: PhaseApply}, 5},
		{"arm", nil, &Error{Kind: KindApply, Phase: PhaseArm}, 5},
		{"decline restore", &Result{Outcome: RestoreFailed}, &Error{Kind: KindApply, Phase: PhaseRestore}, 255},
		{"stop", &Result{Outcome: Confirmed}, &Error{Kind: KindApply, Phase: PhaseStop}, 255},
		{"timeout", &Result{Outcome: TimedOut}, newError(KindConfirmationTimeout, "iptables-ipv4", nil), 255},
		{"wrapped", nil, fmt.Errorf("run: %w", newError(KindLockConflict, "x", nil)), 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.res, tt.err))
		})
	}
}

func TestError(t *testing.T) {
	cause := errors.New("line 3 failed")
	err := &Error{Kind: KindApply, Phase: PhaseApply, Op: "/etc/iptables/rules.v4", Err: cause}

	assert.Equal(t, "ApplyError (apply): /etc/iptables/rules.v4: line 3 failed", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.True(t, err.PostMutation())
	assert.False(t, (&Error{Kind: KindApply, Phase: PhaseArm}).PostMutation())
	assert.False(t, newError(KindSnapshot, "", nil).PostMutation())

	kind, ok := KindOf(fmt.Errorf("wrapped: %w", err))
	assert.True(t, ok)
	assert.Equal(t, KindApply, kind)

	_, ok = KindOf(cause)
	assert.False(t, ok)
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "timed_out", TimedOut.String())
	assert.Equal(t, "late_confirm", LateConfirm.String())
	assert.True(t, Confirmed.Kept())
	assert.False(t, LateConfirm.Kept())
}

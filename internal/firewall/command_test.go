package firewall

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealCommandRunner(t *testing.T) {
	r := &RealCommandRunner{}
	ctx := context.Background()

	if _, err := r.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	out, err := r.Output(ctx, "sh", "-c", "printf saved")
	require.NoError(t, err)
	assert.Equal(t, "saved", string(out))

	require.NoError(t, r.RunInput(ctx, []byte("restored"), "sh", "-c", "test \"$(cat)\" = restored"))

	err = r.Run(ctx, "sh", "-c", "echo broken >&2; exit 3")
	require.Error(t, err)
	var cmdErr *CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, "broken", cmdErr.Output)

	_, err = r.Output(ctx, "sh", "-c", "echo nope >&2; exit 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestIsNotFound(t *testing.T) {
	r := &RealCommandRunner{}
	_, err := r.LookPath("tether-definitely-not-installed")
	assert.True(t, IsNotFound(err))
}

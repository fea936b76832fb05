package firewall

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockCommandRunner is a testify mock of CommandRunner. Contexts are not
// recorded: expectations match on the argv, with stdin first for RunInput.
type MockCommandRunner struct {
	mock.Mock
}

func argv(prefix []any, name string, args []string) []any {
	out := append(prefix, name)
	for _, a := range args {
		out = append(out, a)
	}
	return out
}

func (m *MockCommandRunner) Run(_ context.Context, name string, args ...string) error {
	return m.Called(argv(nil, name, args)...).Error(0)
}

func (m *MockCommandRunner) Output(_ context.Context, name string, args ...string) ([]byte, error) {
	ret := m.Called(argv(nil, name, args)...)
	out, _ := ret.Get(0).([]byte)
	return out, ret.Error(1)
}

func (m *MockCommandRunner) RunInput(_ context.Context, input []byte, name string, args ...string) error {
	return m.Called(argv([]any{string(input)}, name, args)...).Error(0)
}

func (m *MockCommandRunner) LookPath(name string) (string, error) {
	ret := m.Called(name)
	return ret.String(0), ret.Error(1)
}

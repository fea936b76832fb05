package firewall

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// CommandRunner abstracts external command execution so backends can be
// tested without touching the kernel.
type CommandRunner interface {
	// Run executes a command, discarding stdout.
	Run(ctx context.Context, name string, args ...string) error
	// Output executes a command and returns its stdout.
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
	// RunInput executes a command with input fed to stdin.
	RunInput(ctx context.Context, input []byte, name string, args ...string) error
	// LookPath resolves an executable name against PATH.
	LookPath(name string) (string, error)
}

// RealCommandRunner executes actual commands.
type RealCommandRunner struct{}

// DefaultCommandRunner is the default command runner.
var DefaultCommandRunner CommandRunner = &RealCommandRunner{}

// Run executes a command without capturing output.
func (r *RealCommandRunner) Run(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return commandError(name, err, out)
	}
	return nil
}

// Output executes a command and returns its stdout. Stderr is folded into
// the error on failure.
func (r *RealCommandRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, commandError(name, err, stderr.Bytes())
	}
	return out, nil
}

// RunInput executes a command with input via stdin.
func (r *RealCommandRunner) RunInput(ctx context.Context, input []byte, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(input)
	if out, err := cmd.CombinedOutput(); err != nil {
		return commandError(name, err, out)
	}
	return nil
}

// LookPath resolves name against PATH.
func (r *RealCommandRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// CommandError is returned when an external command exits unsuccessfully.
type CommandError struct {
	Command string
	Output  string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("command %s failed: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("command %s failed: %v: %s", e.Command, e.Err, e.Output)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

func commandError(name string, err error, out []byte) error {
	return &CommandError{
		Command: name,
		Output:  strings.TrimSpace(string(out)),
		Err:     err,
	}
}

// MissingCommands returns the subset of names that cannot be resolved.
func MissingCommands(r CommandRunner, names ...string) []string {
	var missing []string
	for _, name := range names {
		if _, err := r.LookPath(name); err != nil {
			missing = append(missing, name)
		}
	}
	return missing
}

// IsNotFound reports whether err means the executable does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, exec.ErrNotFound)
}

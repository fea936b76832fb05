// Package confirm asks the operator, within a deadline, whether the host
// is still reachable after a ruleset change.
package confirm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
	"golang.org/x/text/message"

	"grimm.is/tether/internal/clock"
	"grimm.is/tether/internal/i18n"
)

// Answer is the result of a confirmation round.
type Answer int

const (
	// Confirmed: an affirmative answer arrived before the deadline.
	Confirmed Answer = iota
	// Declined: any other answer, end of input, or an interrupt.
	Declined
	// TimedOut: nothing arrived before the deadline.
	TimedOut
)

func (a Answer) String() string {
	switch a {
	case Confirmed:
		return "confirmed"
	case Declined:
		return "declined"
	case TimedOut:
		return "timed-out"
	}
	return fmt.Sprintf("answer(%d)", int(a))
}

var (
	bannerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#DC3545")).
			Padding(0, 1).
			Bold(true)

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFC107")).
			Bold(true)
)

// Prompter reads one answer from In. When In is a terminal it reads a
// single key in raw mode, otherwise one line.
type Prompter struct {
	In      io.Reader
	Out     io.Writer
	Printer *message.Printer
	Clock   clock.Clock
}

// New returns a Prompter on stdin/stdout.
func New(printer *message.Printer) *Prompter {
	return &Prompter{In: os.Stdin, Out: os.Stdout, Printer: printer}
}

type reply struct {
	text string
	err  error
}

// Ask prompts and waits for an answer, at most timeout. A cancelled ctx
// (the operator pressed Ctrl-C) counts as Declined.
func (p *Prompter) Ask(ctx context.Context, timeout time.Duration) Answer {
	clk := clock.Or(p.Clock)
	printer := p.Printer
	if printer == nil {
		printer = i18n.NewCLIPrinter()
	}

	fd, tty := p.terminal()
	banner := fmt.Sprintf("%s[%ds] ", printer.Sprintf(i18n.MsgPrompt), int(timeout.Round(time.Second)/time.Second))
	if tty {
		banner = bannerStyle.Render("tether") + " " + promptStyle.Render(banner)
	}
	fmt.Fprint(p.Out, banner)

	replies := make(chan reply, 1)
	if tty {
		state, err := term.MakeRaw(fd)
		if err == nil {
			defer func() {
				term.Restore(fd, state)
				fmt.Fprintln(p.Out)
			}()
			go readKey(p.In, replies)
		} else {
			go readLine(p.In, replies)
		}
	} else {
		go readLine(p.In, replies)
	}

	select {
	case r := <-replies:
		if r.err != nil && r.text == "" {
			return Declined
		}
		if i18n.Affirmative(r.text) {
			return Confirmed
		}
		return Declined
	case <-clk.After(timeout):
		return TimedOut
	case <-ctx.Done():
		return Declined
	}
}

func (p *Prompter) terminal() (int, bool) {
	f, ok := p.In.(*os.File)
	if !ok {
		return 0, false
	}
	fd := int(f.Fd())
	return fd, term.IsTerminal(fd)
}

// readKey reads one byte. Ctrl-C in raw mode arrives as 0x03 and is not
// affirmative.
func readKey(in io.Reader, out chan<- reply) {
	var b [1]byte
	n, err := in.Read(b[:])
	out <- reply{text: string(b[:n]), err: err}
}

func readLine(in io.Reader, out chan<- reply) {
	line, err := bufio.NewReader(in).ReadString('\n')
	if errors.Is(err, io.EOF) && line != "" {
		err = nil
	}
	out <- reply{text: line, err: err}
}

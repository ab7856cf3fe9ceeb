package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/glinharesb/hwhash/internal/hsm"
)

// Terminal reads operator input. It doubles as the PIN entry and the confirm
// buttons of a software device.
type Terminal struct {
	in  io.Reader
	r   *bufio.Reader
	out io.Writer
}

var (
	_ hsm.PinPrompter = (*Terminal)(nil)
	_ hsm.Confirmer   = (*Terminal)(nil)
)

// NewTerminal reads from in and writes prompts to out.
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{in: in, r: bufio.NewReader(in), out: out}
}

// ReadLine prompts and returns one line without its line ending. End of input
// yields the text read so far.
func (t *Terminal) ReadLine(prompt string) (string, error) {
	line, err := t.readLine(prompt)
	if errors.Is(err, io.EOF) {
		return "", nil
	}
	return line, err
}

// readLine is ReadLine reporting io.EOF when the input ended before any text.
func (t *Terminal) readLine(prompt string) (string, error) {
	fmt.Fprint(t.out, prompt)
	line, err := t.r.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// ReadSecret prompts for a value without echo when attached to a terminal.
// Closed input is reported as io.EOF, never as an empty secret.
func (t *Terminal) ReadSecret(prompt string) (string, error) {
	f, ok := t.in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return t.readLine(prompt)
	}
	fmt.Fprint(t.out, prompt)
	b, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(t.out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// PIN asks for the device PIN. An empty entry cancels; closed input is an error.
func (t *Terminal) PIN(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	pin, err := t.ReadSecret("Enter device PIN: ")
	if err != nil {
		return "", err
	}
	if pin == "" {
		return "", hsm.ErrUserCancelled
	}
	return pin, nil
}

// Confirm shows the device prompt and waits for y or n.
func (t *Terminal) Confirm(ctx context.Context, prompt string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	fmt.Fprintf(t.out, "Device: %s\n", strings.ReplaceAll(prompt, "\n", " "))
	answer, err := t.ReadLine("Confirm on device? [y/N] ")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/glinharesb/hwhash/internal/hsm"
)

// Process exit codes.
const (
	ExitOK         = 0
	ExitFailure    = 1
	ExitUsage      = 2
	ExitAbandoned  = 3
	ExitCancelled  = 6
	ExitInvalidPin = 8
)

var (
	// ErrUsage marks invalid command-line arguments.
	ErrUsage = errors.New("usage")
	// ErrAbandoned is returned when the operator enters no input.
	ErrAbandoned = errors.New("abandoned by user")
)

func usageErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUsage, fmt.Sprintf(format, args...))
}

func flagError(_ *cobra.Command, err error) error {
	return fmt.Errorf("%w: %v", ErrUsage, err)
}

// ExitCode maps a command error to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrUsage):
		return ExitUsage
	case errors.Is(err, ErrAbandoned):
		return ExitAbandoned
	case errors.Is(err, hsm.ErrUserCancelled):
		return ExitCancelled
	case errors.Is(err, hsm.ErrInvalidPin):
		return ExitInvalidPin
	default:
		return ExitFailure
	}
}

// Main executes cmd, reports a failure on its error stream and returns the
// exit code.
func Main(cmd *cobra.Command) int {
	err := cmd.Execute()
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", cmd.Name(), err)
	}
	return ExitCode(err)
}

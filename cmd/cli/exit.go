package cli

import (
	stderrors "errors"
	"fmt"
	"io"

	"github.com/anstrom/portsweep/internal/errors"
)

// Process exit codes.
const (
	ExitSuccess        = 0
	ExitUnknown        = 1
	ExitInvalidInput   = 2
	ExitInvalidNetwork = 3
	ExitInternal       = 4
	ExitConfiguration  = 5
)

// exitCode maps an error returned by a command to the process exit status.
func exitCode(err error) int {
	if err == nil || stderrors.Is(err, errExitRequested) {
		return ExitSuccess
	}

	switch errors.GetCode(err) {
	case errors.CodeValidation:
		return ExitInvalidInput
	case errors.CodeInvalidNetwork:
		return ExitInvalidNetwork
	case errors.CodeEndpointConstruction:
		return ExitInternal
	case errors.CodeConfiguration:
		return ExitConfiguration
	default:
		return ExitUnknown
	}
}

// handleExit reports err and returns the exit status for it.
func handleExit(err error, stdout, stderr io.Writer) int {
	switch {
	case err == nil:
		return ExitSuccess
	case stderrors.Is(err, errExitRequested):
		_, _ = fmt.Fprintln(stdout, "Exiting")
		return ExitSuccess
	}

	_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
	return exitCode(err)
}

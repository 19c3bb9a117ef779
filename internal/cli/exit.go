package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/uayebforever/clan-stats/internal/bungie"
	"github.com/uayebforever/clan-stats/internal/core"
	"github.com/uayebforever/clan-stats/internal/model"
	"github.com/uayebforever/clan-stats/internal/retrieval"
	"github.com/uayebforever/clan-stats/internal/roster"
	"github.com/uayebforever/clan-stats/internal/timeperiod"
)

// Process exit codes. Error codes start at 100.
const (
	ExitOK               = 0
	ExitUserInterrupt    = 100
	ExitArgumentError    = 101
	ExitUserError        = 102
	ExitApplicationError = 103
	ExitUnexpectedError  = 105
)

// ExitError carries the exit code a failure should end the process with.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

func argumentError(format string, args ...any) error {
	return &ExitError{Code: ExitArgumentError, Err: fmt.Errorf(format, args...)}
}

// ExitCode maps an error to a process exit code.
func ExitCode(err error) int {
	var exit *ExitError
	var apiErr *bungie.APIError
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &exit):
		return exit.Code
	case errors.Is(err, context.Canceled):
		return ExitUserInterrupt
	case errors.Is(err, core.ErrMissingAPIKey),
		errors.Is(err, model.ErrInvalidMembership),
		errors.Is(err, timeperiod.ErrMalformedRange),
		errors.Is(err, roster.ErrMemberNotFound),
		errors.Is(err, retrieval.ErrPrivate),
		errors.Is(err, bungie.ErrNotFound):
		return ExitUserError
	case errors.As(err, &apiErr):
		return ExitApplicationError
	default:
		return ExitUnexpectedError
	}
}

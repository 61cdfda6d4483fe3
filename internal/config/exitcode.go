package config

import (
	"errors"

	"github.com/opencircle/insights-core/internal/coreerrors"
)

// Process exit codes from spec §6 "Exit codes (if exposed as a
// process)".
const (
	ExitOK                 = 0
	ExitConfigInvalid      = 64
	ExitStorageUnavailable = 74
	ExitProviderUnavailable = 75
	ExitOther              = 1
)

// ErrStorageUnavailable and ErrProviderUnavailable let cmd/insights-core tag
// a startup failure with the exit code spec §6 wants without this
// package importing the storage or provider packages just for two
// sentinel wrapper errors.
var (
	ErrStorageUnavailable  = errors.New("config: storage unavailable")
	ErrProviderUnavailable = errors.New("config: provider unavailable")
)

// ExitCodeFor maps a startup or fatal run error to the process exit
// code spec §6 mandates. InvalidError-shaped failures (from Load/
// Validate) map to 64; storage/provider reachability failures map to
// 74/75; a coreerrors TransientError also maps to 75; every other error
// is 1; nil is 0.
func ExitCodeFor(err error) int {
	var invalid *InvalidError
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrStorageUnavailable):
		return ExitStorageUnavailable
	case errors.Is(err, ErrProviderUnavailable):
		return ExitProviderUnavailable
	case errors.As(err, &invalid):
		return ExitConfigInvalid
	case coreerrors.IsKind(err, coreerrors.KindTransientError):
		return ExitProviderUnavailable
	default:
		return ExitOther
	}
}

// InvalidError marks an error as originating from this package's own
// Load/Validate, so ExitCodeFor can map it to 64 without string
// sniffing. Load wraps every failure it returns with this.
type InvalidError struct {
	Err error
}

func (e *InvalidError) Error() string { return e.Err.Error() }
func (e *InvalidError) Unwrap() error { return e.Err }

func invalid(err error) error {
	if err == nil {
		return nil
	}
	return &InvalidError{Err: err}
}

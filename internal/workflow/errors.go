package workflow

import (
	"errors"
	"fmt"

	"github.com/sqlcrew/sqlcrew/internal/gateway"
)

var (
	ErrRunNotFound        = errors.New("run not found")
	ErrRunExists          = errors.New("run already exists")
	ErrCheckpointConflict = errors.New("checkpoint sequence conflict")
	ErrEmptyQuestion      = errors.New("question is required")
)

// ConfigurationError is returned before any gateway call when a required
// parameter is missing or invalid.
// It is shared with gateway construction.
type ConfigurationError = gateway.ConfigurationError

// StageError aborts a run. Err is usually a *gateway.Error.
type StageError struct {
	RunID string
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("run %s: stage %s: %v", e.RunID, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

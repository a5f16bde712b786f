package controlplane

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/playsafesec/upgradeboard/internal/session"
	"github.com/playsafesec/upgradeboard/internal/store"
	"github.com/playsafesec/upgradeboard/internal/workflow"
)

// Sentinel errors for control plane operations.
var (
	ErrNoEngine       = errors.New("workflow engine not configured")
	ErrNoRun          = errors.New("no workflow run to cancel")
	ErrAlreadyRunning = errors.New("an upgrade is already running")
)

// ValidationError is a user input problem. The operation made no changes.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }

func (e *ValidationError) Unwrap() error { return e.Err }

// TransientIOError is a failed call to an external collaborator.
type TransientIOError struct {
	Op  string
	Err error
}

func (e *TransientIOError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientIOError) Unwrap() error { return e.Err }

func invalid(err error) error {
	return &ValidationError{Err: err}
}

func transient(op string, err error) error {
	return &TransientIOError{Op: op, Err: err}
}

// statusCode maps an operation error to an HTTP status.
func statusCode(err error) int {
	var verr *ValidationError
	var terr *TransientIOError
	switch {
	case errors.As(err, &verr), errors.Is(err, ErrAlreadyRunning):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrPhaseNotFound),
		errors.Is(err, store.ErrReportNotFound),
		errors.Is(err, ErrNoRun):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, ErrNoEngine):
		return http.StatusServiceUnavailable
	case errors.As(err, &terr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

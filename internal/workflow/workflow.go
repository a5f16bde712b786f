// Package workflow defines the interfaces the dashboard uses to drive and
// observe the external upgrade workflow.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/playsafesec/upgradeboard/internal/models"
)

var (
	// ErrVersionConflict is returned by PutFile when the stored version no
	// longer matches the caller's version token.
	ErrVersionConflict = errors.New("version conflict")
	// ErrNotFound is returned when a file or run does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInputs wraps dispatch input validation failures.
	ErrInvalidInputs = errors.New("invalid dispatch inputs")
)

var validate = validator.New()

// DispatchInputs are the inputs of one workflow dispatch.
type DispatchInputs struct {
	TargetMode models.UpgradeMode `json:"target_mode" validate:"required,oneof=single_server all_servers_in_class"`
	HostClass  string             `json:"host_class" validate:"required"`
	ServerName string             `json:"server_name,omitempty" validate:"required_if=TargetMode single_server"`
	PackageID  string             `json:"package_id" validate:"required"`
}

// Validate checks required selections before a dispatch.
func (in DispatchInputs) Validate() error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidInputs, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidInputs, strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	switch fe.Field() {
	case "HostClass":
		return "host class is required"
	case "PackageID":
		return "package is required"
	case "ServerName":
		return "server is required in single server mode"
	case "TargetMode":
		return fmt.Sprintf("unknown target mode %q", fe.Value())
	}
	return fe.Error()
}

// Map renders the inputs in the workflow's wire form. server_name is only
// sent when set.
func (in DispatchInputs) Map() map[string]interface{} {
	m := map[string]interface{}{
		"target_mode": string(in.TargetMode),
		"host_class":  in.HostClass,
		"package_id":  in.PackageID,
	}
	if in.ServerName != "" {
		m["server_name"] = in.ServerName
	}
	return m
}

// Engine drives the external workflow.
type Engine interface {
	// Name returns the engine identifier.
	Name() string

	// Dispatch triggers a new workflow run.
	Dispatch(ctx context.Context, in DispatchInputs) error

	// LatestRun returns the most recent run, or nil when there is none.
	LatestRun(ctx context.Context) (*models.WorkflowRun, error)

	// Jobs lists the jobs of a run.
	Jobs(ctx context.Context, runID int64) ([]models.WorkflowJob, error)

	// JobLogs returns the raw log text of a job.
	JobLogs(ctx context.Context, jobID int64) (string, error)

	// RunLogs returns the raw log text of every job of a run.
	RunLogs(ctx context.Context, runID int64) (string, error)

	// CancelRun requests cancellation of a run.
	CancelRun(ctx context.Context, runID int64) error
}

// FileStore reads and writes versioned files. The version token returned by
// GetFile must be passed back to PutFile; an empty token creates the file.
type FileStore interface {
	GetFile(ctx context.Context, path string) (content []byte, version string, err error)
	PutFile(ctx context.Context, path string, content []byte, version, message string) error
}

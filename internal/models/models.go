// Package models defines the core domain types for the upgrade dashboard.
package models

import "time"

// PhaseStatus represents the current state of a phase or checklist item.
type PhaseStatus string

const (
	PhaseStatusPending    PhaseStatus = "pending"
	PhaseStatusInProgress PhaseStatus = "in-progress"
	PhaseStatusCompleted  PhaseStatus = "completed"
	PhaseStatusFailed     PhaseStatus = "failed"
)

// Valid reports whether s is one of the known phase statuses.
func (s PhaseStatus) Valid() bool {
	switch s {
	case PhaseStatusPending, PhaseStatusInProgress, PhaseStatusCompleted, PhaseStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether the status ends the phase.
func (s PhaseStatus) Terminal() bool {
	return s == PhaseStatusCompleted || s == PhaseStatusFailed
}

// UpgradeMode selects which servers of a host class are upgraded.
type UpgradeMode string

const (
	ModeSingleServer      UpgradeMode = "single_server"
	ModeAllServersInClass UpgradeMode = "all_servers_in_class"
)

// ChecklistItem is a task within a phase. Subtasks nest one level only.
type ChecklistItem struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Status      PhaseStatus     `json:"status"`
	Required    bool            `json:"required"`
	Subtasks    []ChecklistItem `json:"subtasks,omitempty"`
}

// Phase is one of the five fixed stages of an upgrade.
type Phase struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Status            PhaseStatus     `json:"status"`
	Progress          int             `json:"progress"`
	StartTime         *time.Time      `json:"startTime,omitempty"`
	EndTime           *time.Time      `json:"endTime,omitempty"`
	EstimatedDuration int             `json:"estimatedDuration"` // minutes
	Tasks             []ChecklistItem `json:"tasks"`
}

// Server is a single host of a host class.
type Server struct {
	SN   string `json:"sn"`
	IP   string `json:"ip" validate:"required,ip"`
	Name string `json:"name" validate:"required"`
	Role string `json:"role"`
	OS   string `json:"os"`
}

// HostClass is a named group of servers sharing a role.
type HostClass struct {
	Name    string   `json:"name" validate:"required"`
	Servers []Server `json:"servers" validate:"dive"`
}

// HostInventory is the host inventory document.
type HostInventory struct {
	Classes []HostClass `json:"classes" validate:"dive"`
}

// Package is an installable Splunk build.
type Package struct {
	ID          string `json:"id" validate:"required"`
	Name        string `json:"name"`
	Type        string `json:"type" validate:"oneof=enterprise forwarder"`
	Version     string `json:"version" validate:"required"`
	Build       string `json:"build"`
	Platform    string `json:"platform"`
	DownloadURL string `json:"download_url" validate:"omitempty,url"`
	Filename    string `json:"filename"`
	InstallPath string `json:"install_path"`
}

// PackageInventory is the package inventory document.
type PackageInventory struct {
	Packages []Package `json:"packages" validate:"dive"`
}

// HealthStatus grades a resource metric.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
)

// ResourceMetric is a single usage measurement. Total is zero for
// percentage-only metrics such as CPU.
type ResourceMetric struct {
	Usage     float64      `json:"usage" validate:"gte=0"`
	Total     float64      `json:"total,omitempty" validate:"gte=0"`
	Threshold float64      `json:"threshold" validate:"gt=0,lte=100"`
	Status    HealthStatus `json:"status"`
}

// HealthMetrics holds the last known health of the Splunk deployment.
type HealthMetrics struct {
	CPU         ResourceMetric `json:"cpu"`
	Memory      ResourceMetric `json:"memory"`
	Disk        ResourceMetric `json:"disk"`
	License     ResourceMetric `json:"license"`
	LastChecked time.Time      `json:"lastChecked"`
}

// WorkflowRun is one execution of the external workflow.
type WorkflowRun struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	Conclusion string    `json:"conclusion,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	HTMLURL    string    `json:"html_url"`
	RunNumber  int       `json:"run_number"`
}

// WorkflowStep is a step of a workflow job.
type WorkflowStep struct {
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	Conclusion  string     `json:"conclusion,omitempty"`
	Number      int64      `json:"number"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// WorkflowJob is a job of a workflow run.
type WorkflowJob struct {
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	Status      string         `json:"status"`
	Conclusion  string         `json:"conclusion,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Steps       []WorkflowStep `json:"steps"`
}

// Workflow job and run states reported by the engine.
const (
	JobQueued     = "queued"
	JobInProgress = "in_progress"
	JobCompleted  = "completed"

	ConclusionSuccess   = "success"
	ConclusionFailure   = "failure"
	ConclusionCancelled = "cancelled"
	ConclusionSkipped   = "skipped"
)

// LogLevel classifies a log entry.
type LogLevel string

const (
	LevelInfo    LogLevel = "info"
	LevelWarning LogLevel = "warning"
	LevelError   LogLevel = "error"
	LevelSuccess LogLevel = "success"
)

// LogEntry is a single structured workflow log line.
type LogEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	Phase     string    `json:"phase,omitempty"`
	Server    string    `json:"server,omitempty"`
}

// Session is the full mutable state of one upgrade attempt.
type Session struct {
	// Version increases with every change; newer views supersede older ones.
	Version uint64 `json:"version"`

	IsRunning         bool       `json:"isRunning"`
	IsPaused          bool       `json:"isPaused"`
	CurrentPhaseIndex int        `json:"currentPhaseIndex"`
	OverallProgress   int        `json:"overallProgress"`
	StartTime         *time.Time `json:"startTime,omitempty"`
	EstimatedEndTime  *time.Time `json:"estimatedEndTime,omitempty"`

	Phases []Phase `json:"phases"`

	SelectedHostClass string      `json:"selectedHostClass,omitempty"`
	SelectedServer    string      `json:"selectedServer,omitempty"`
	SelectedPackage   string      `json:"selectedPackage,omitempty"`
	UpgradeMode       UpgradeMode `json:"upgradeMode"`

	CurrentWorkflowRun *WorkflowRun  `json:"currentWorkflowRun,omitempty"`
	WorkflowJobs       []WorkflowJob `json:"workflowJobs"`
	Logs               []LogEntry    `json:"logs"`

	HealthMetrics    *HealthMetrics    `json:"healthMetrics,omitempty"`
	HostInventory    *HostInventory    `json:"hostInventory,omitempty"`
	PackageInventory *PackageInventory `json:"packageInventory,omitempty"`
}

// PDREntry represents a Process Decision Record for audit.
type PDREntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ReportIssue is a problem surfaced in an upgrade report.
type ReportIssue struct {
	Phase       string `json:"phase"`
	Description string `json:"description"`
	Severity    string `json:"severity"` // low, medium, high
}

// ReportMetadata describes what a report covers.
type ReportMetadata struct {
	ExportedAt     time.Time   `json:"exportedAt"`
	UpgradeMode    UpgradeMode `json:"upgradeMode"`
	TargetServers  []string    `json:"targetServers"`
	PackageVersion string      `json:"packageVersion"`
}

// ReportSummary is the aggregate outcome of a session.
type ReportSummary struct {
	StartTime       time.Time   `json:"startTime"`
	EndTime         *time.Time  `json:"endTime,omitempty"`
	TotalDuration   int         `json:"totalDuration"` // minutes
	OverallStatus   PhaseStatus `json:"overallStatus"`
	PhasesCompleted int         `json:"phasesCompleted"`
	TotalPhases     int         `json:"totalPhases"`
}

// UpgradeReport is the exportable JSON report of a session.
type UpgradeReport struct {
	Metadata      ReportMetadata `json:"metadata"`
	Summary       ReportSummary  `json:"summary"`
	Phases        []Phase        `json:"phases"`
	Logs          []LogEntry     `json:"logs"`
	HealthMetrics *HealthMetrics `json:"healthMetrics,omitempty"`
	Issues        []ReportIssue  `json:"issues,omitempty"`
}

// StoredReport is an archived report.
type StoredReport struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	CreatedAt time.Time `json:"created_at"`
	Data      []byte    `json:"-"`
}

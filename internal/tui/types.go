package tui

import (
	"time"

	"github.com/playsafesec/upgradeboard/internal/models"
)

// SessionView is the session as served by the daemon.
type SessionView struct {
	models.Session
	OverallStatus   models.PhaseStatus `json:"overallStatus"`
	PhasesCompleted int                `json:"phasesCompleted"`
	TotalPhases     int                `json:"totalPhases"`
	Engine          string             `json:"engine"`
}

// LogsView is a filtered log listing.
type LogsView struct {
	Entries []models.LogEntry       `json:"entries"`
	Counts  map[models.LogLevel]int `json:"counts"`
}

// ReportItem is an archived report without its data.
type ReportItem struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	CreatedAt time.Time `json:"created_at"`
}

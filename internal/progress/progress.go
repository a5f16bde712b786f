// Package progress derives aggregate progress, ETA and phase status from
// workflow job signals. All functions are pure.
package progress

import (
	"fmt"
	"math"
	"time"

	"github.com/playsafesec/upgradeboard/internal/models"
)

// inProgressMark is the coarse progress reported for a running job. The
// workflow engine exposes no step-level percentage.
const inProgressMark = 50

// Clamp bounds a progress value to [0,100].
func Clamp(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Aggregate returns the rounded mean progress of phases, or 0 when empty.
func Aggregate(phases []models.Phase) int {
	if len(phases) == 0 {
		return 0
	}
	total := 0
	for _, p := range phases {
		total += Clamp(p.Progress)
	}
	return int(math.Round(float64(total) / float64(len(phases))))
}

// ApplyStatusSignal maps a job status/conclusion pair onto a phase:
//
//	queued                -> pending, 0
//	in_progress           -> in-progress, 50 (or task-derived progress)
//	completed + success   -> completed, 100
//	completed + failure   -> failed, progress frozen
//	completed + other     -> unchanged
//
// The input phase is not modified.
func ApplyStatusSignal(phase models.Phase, jobStatus, conclusion string) models.Phase {
	out := phase
	out.Progress = Clamp(phase.Progress)

	switch jobStatus {
	case models.JobQueued:
		out.Status = models.PhaseStatusPending
		out.Progress = 0
	case models.JobInProgress:
		out.Status = models.PhaseStatusInProgress
		next := inProgressMark
		if tp, ok := TaskProgress(phase); ok && tp < 100 {
			next = tp
		}
		if phase.Status == models.PhaseStatusInProgress && out.Progress > next {
			next = out.Progress
		}
		out.Progress = next
	case models.JobCompleted:
		switch conclusion {
		case models.ConclusionSuccess:
			out.Status = models.PhaseStatusCompleted
			out.Progress = 100
		case models.ConclusionFailure:
			out.Status = models.PhaseStatusFailed
		}
	}
	return out
}

// TaskProgress derives a percentage from checklist items: the share of
// completed leaf items. ok is false while every item is still pending.
func TaskProgress(phase models.Phase) (pct int, ok bool) {
	var total, done int
	var started bool
	var walk func(items []models.ChecklistItem)
	walk = func(items []models.ChecklistItem) {
		for _, it := range items {
			if it.Status != models.PhaseStatusPending {
				started = true
			}
			if len(it.Subtasks) > 0 {
				walk(it.Subtasks)
				continue
			}
			total++
			if it.Status == models.PhaseStatusCompleted {
				done++
			}
		}
	}
	walk(phase.Tasks)
	if total == 0 || !started {
		return 0, false
	}
	return done * 100 / total, true
}

// EstimateCompletion adds the remaining work of phases[currentIndex:] to
// start. Phases before currentIndex count as elapsed.
func EstimateCompletion(phases []models.Phase, currentIndex int, start time.Time) time.Time {
	if currentIndex < 0 {
		currentIndex = 0
	}
	var remaining float64
	for i := currentIndex; i < len(phases); i++ {
		p := phases[i]
		remaining += float64(p.EstimatedDuration) * float64(100-Clamp(p.Progress)) / 100
	}
	return start.Add(time.Duration(remaining * float64(time.Minute)))
}

// OverallStatus summarises phases for reporting.
func OverallStatus(phases []models.Phase) models.PhaseStatus {
	if len(phases) == 0 {
		return models.PhaseStatusPending
	}
	allDone := true
	var failed, running bool
	for _, p := range phases {
		switch p.Status {
		case models.PhaseStatusFailed:
			failed = true
		case models.PhaseStatusInProgress:
			running = true
		}
		if p.Status != models.PhaseStatusCompleted {
			allDone = false
		}
	}
	switch {
	case allDone:
		return models.PhaseStatusCompleted
	case failed:
		return models.PhaseStatusFailed
	case running:
		return models.PhaseStatusInProgress
	default:
		return models.PhaseStatusPending
	}
}

// CompletedCount returns how many phases are completed.
func CompletedCount(phases []models.Phase) int {
	n := 0
	for _, p := range phases {
		if p.Status == models.PhaseStatusCompleted {
			n++
		}
	}
	return n
}

// FormatDuration renders minutes as "1h 5m" or "45m".
func FormatDuration(minutes int) string {
	if minutes < 0 {
		minutes = 0
	}
	h, m := minutes/60, minutes%60
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}

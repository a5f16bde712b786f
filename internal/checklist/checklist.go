// Package checklist defines the five-phase Splunk upgrade template.
package checklist

import (
	"strings"

	"github.com/playsafesec/upgradeboard/internal/models"
)

// Phase identifiers in execution order.
const (
	PhasePreparation    = "preparation"
	PhaseClusterManager = "cluster-manager"
	PhaseSearchHeads    = "search-heads"
	PhaseIndexers       = "indexers"
	PhaseValidation     = "validation"
)

type phaseDef struct {
	id       string
	name     string
	duration int
	tasks    []taskDef
}

type taskDef struct {
	id    string
	title string
}

var template = []phaseDef{
	{
		id: PhasePreparation, name: "Preparation", duration: 5,
		tasks: []taskDef{
			{"prep-1", "Validate inventory configuration"},
			{"prep-2", "Download Splunk installer package"},
			{"prep-3", "Verify package integrity"},
			{"prep-4", "Setup SSH connectivity"},
			{"prep-5", "Run pre-upgrade health check"},
		},
	},
	{
		id: PhaseClusterManager, name: "Cluster Manager", duration: 15,
		tasks: []taskDef{
			{"cm-1", "Stop Cluster Manager service"},
			{"cm-2", "Backup current configuration"},
			{"cm-3", "Extract and install new version"},
			{"cm-4", "Migrate configuration files"},
			{"cm-5", "Start Cluster Manager service"},
			{"cm-6", "Verify cluster health"},
		},
	},
	{
		id: PhaseSearchHeads, name: "Search Heads", duration: 20,
		tasks: []taskDef{
			{"sh-1", "Put search heads in detention"},
			{"sh-2", "Stop search head services"},
			{"sh-3", "Backup search head configurations"},
			{"sh-4", "Install upgraded version"},
			{"sh-5", "Start search head services"},
			{"sh-6", "Remove from detention"},
			{"sh-7", "Verify search functionality"},
		},
	},
	{
		id: PhaseIndexers, name: "Indexers", duration: 30,
		tasks: []taskDef{
			{"idx-1", "Put indexers offline (rolling)"},
			{"idx-2", "Stop indexer services"},
			{"idx-3", "Backup indexer configurations"},
			{"idx-4", "Install upgraded version"},
			{"idx-5", "Start indexer services"},
			{"idx-6", "Bring indexers online"},
			{"idx-7", "Verify indexing functionality"},
			{"idx-8", "Check replication factor"},
		},
	},
	{
		id: PhaseValidation, name: "Validation", duration: 10,
		tasks: []taskDef{
			{"val-1", "Verify all services are running"},
			{"val-2", "Check cluster status"},
			{"val-3", "Run post-upgrade health check"},
			{"val-4", "Verify data flow"},
			{"val-5", "Test search functionality"},
			{"val-6", "Generate upgrade report"},
		},
	},
}

// NewPhases returns a fresh set of pending phases. Each call allocates new
// slices so sessions never share task state.
func NewPhases() []models.Phase {
	phases := make([]models.Phase, len(template))
	for i, def := range template {
		tasks := make([]models.ChecklistItem, len(def.tasks))
		for j, t := range def.tasks {
			tasks[j] = models.ChecklistItem{
				ID:       t.id,
				Title:    t.title,
				Status:   models.PhaseStatusPending,
				Required: true,
			}
		}
		phases[i] = models.Phase{
			ID:                def.id,
			Name:              def.name,
			Status:            models.PhaseStatusPending,
			Progress:          0,
			EstimatedDuration: def.duration,
			Tasks:             tasks,
		}
	}
	return phases
}

// PhaseIDs returns the phase identifiers in order.
func PhaseIDs() []string {
	ids := make([]string, len(template))
	for i, def := range template {
		ids[i] = def.id
	}
	return ids
}

// IsPhaseID reports whether id names a template phase (case-insensitive).
func IsPhaseID(id string) bool {
	id = strings.ToLower(id)
	for _, def := range template {
		if def.id == id {
			return true
		}
	}
	return false
}

// MatchPhase finds the phase a workflow job belongs to by looking for the
// phase id or display name inside the job name.
func MatchPhase(jobName string) (string, bool) {
	name := strings.ToLower(jobName)
	for _, def := range template {
		if strings.Contains(name, def.id) || strings.Contains(name, strings.ToLower(def.name)) {
			return def.id, true
		}
	}
	return "", false
}

// TotalEstimatedMinutes is the planned duration of a full upgrade.
func TotalEstimatedMinutes() int {
	total := 0
	for _, def := range template {
		total += def.duration
	}
	return total
}

// CloneItems deep-copies a checklist, including subtasks.
func CloneItems(items []models.ChecklistItem) []models.ChecklistItem {
	if items == nil {
		return nil
	}
	out := make([]models.ChecklistItem, len(items))
	for i, it := range items {
		out[i] = it
		out[i].Subtasks = CloneItems(it.Subtasks)
	}
	return out
}

// ClonePhases deep-copies phases, including timestamps and tasks.
func ClonePhases(phases []models.Phase) []models.Phase {
	if phases == nil {
		return nil
	}
	out := make([]models.Phase, len(phases))
	for i, p := range phases {
		out[i] = p
		if p.StartTime != nil {
			t := *p.StartTime
			out[i].StartTime = &t
		}
		if p.EndTime != nil {
			t := *p.EndTime
			out[i].EndTime = &t
		}
		out[i].Tasks = CloneItems(p.Tasks)
	}
	return out
}

package checklist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playsafesec/upgradeboard/internal/models"
)

func TestNewPhases_Template(t *testing.T) {
	phases := NewPhases()
	require.Len(t, phases, 5)

	want := []struct {
		id       string
		tasks    int
		duration int
	}{
		{PhasePreparation, 5, 5},
		{PhaseClusterManager, 6, 15},
		{PhaseSearchHeads, 7, 20},
		{PhaseIndexers, 8, 30},
		{PhaseValidation, 6, 10},
	}
	for i, w := range want {
		p := phases[i]
		assert.Equal(t, w.id, p.ID)
		assert.Len(t, p.Tasks, w.tasks, "tasks for %s", w.id)
		assert.Equal(t, w.duration, p.EstimatedDuration)
		assert.Equal(t, models.PhaseStatusPending, p.Status)
		assert.Zero(t, p.Progress)
		assert.Nil(t, p.StartTime)
		for _, task := range p.Tasks {
			assert.Equal(t, models.PhaseStatusPending, task.Status)
			assert.True(t, task.Required)
		}
	}
}

func TestNewPhases_NoSharedState(t *testing.T) {
	a := NewPhases()
	a[0].Status = models.PhaseStatusCompleted
	a[0].Tasks[0].Status = models.PhaseStatusCompleted

	b := NewPhases()
	assert.Equal(t, models.PhaseStatusPending, b[0].Status)
	assert.Equal(t, models.PhaseStatusPending, b[0].Tasks[0].Status)
}

func TestMatchPhase(t *testing.T) {
	tests := []struct {
		job  string
		want string
		ok   bool
	}{
		{"upgrade-cluster-manager", PhaseClusterManager, true},
		{"Search Heads rolling upgrade", PhaseSearchHeads, true},
		{"Indexers", PhaseIndexers, true},
		{"notify", "", false},
	}
	for _, tt := range tests {
		got, ok := MatchPhase(tt.job)
		assert.Equal(t, tt.ok, ok, tt.job)
		assert.Equal(t, tt.want, got, tt.job)
	}
}

func TestIsPhaseID(t *testing.T) {
	assert.True(t, IsPhaseID("VALIDATION"))
	assert.False(t, IsPhaseID("rollback"))
	assert.Equal(t, 80, TotalEstimatedMinutes())
	assert.Equal(t, []string{"preparation", "cluster-manager", "search-heads", "indexers", "validation"}, PhaseIDs())
}

func TestClonePhases_Deep(t *testing.T) {
	src := NewPhases()
	src[1].Tasks[0].Subtasks = []models.ChecklistItem{{ID: "cm-1a", Status: models.PhaseStatusPending}}

	dst := ClonePhases(src)
	dst[1].Tasks[0].Subtasks[0].Status = models.PhaseStatusFailed

	assert.Equal(t, models.PhaseStatusPending, src[1].Tasks[0].Subtasks[0].Status)
}

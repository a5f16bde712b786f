package session

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playsafesec/upgradeboard/internal/models"
	"github.com/playsafesec/upgradeboard/internal/store"
)

type memSnapshots struct {
	mu      sync.Mutex
	data    map[string][]byte
	saveErr error
}

func newMemSnapshots() *memSnapshots {
	return &memSnapshots{data: make(map[string][]byte)}
}

func (m *memSnapshots) SaveSnapshot(key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.data[key] = append([]byte(nil), data...)
	return nil
}

func (m *memSnapshots) LoadSnapshot(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *memSnapshots) DeleteSnapshot(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

var fixedNow = time.Date(2025, 12, 4, 15, 0, 0, 0, time.UTC)

func newTestStore(p Snapshotter) *Store {
	s := New(p)
	s.now = func() time.Time { return fixedNow }
	return s
}

func statusPtr(s models.PhaseStatus) *models.PhaseStatus { return &s }
func intPtr(i int) *int                                  { return &i }

func TestStartUpgrade(t *testing.T) {
	snaps := newMemSnapshots()
	s := newTestStore(snaps)
	s.AddLog(models.LogEntry{ID: "old", Message: "stale"})

	s.StartUpgrade("azure_hf", "splunk_enterprise_9.3.2", models.ModeSingleServer, "azure_hf_1")

	got := s.Snapshot()
	require.Len(t, got.Phases, 5)
	for _, p := range got.Phases {
		assert.Equal(t, models.PhaseStatusPending, p.Status)
	}
	assert.Zero(t, got.OverallProgress)
	assert.True(t, got.IsRunning)
	assert.False(t, got.IsPaused)
	assert.Zero(t, got.CurrentPhaseIndex)
	assert.Empty(t, got.Logs)
	assert.Equal(t, "azure_hf_1", got.SelectedServer)
	require.NotNil(t, got.StartTime)
	require.NotNil(t, got.EstimatedEndTime)
	assert.Equal(t, fixedNow.Add(80*time.Minute), *got.EstimatedEndTime)
	assert.NotNil(t, snaps.data[SnapshotKey], "start persists a snapshot")
	assert.True(t, s.IsRunning())
}

func TestNextPhase_FiveTimes(t *testing.T) {
	s := newTestStore(nil)
	for i := 0; i < 5; i++ {
		s.NextPhase()
	}
	got := s.Snapshot()
	assert.False(t, got.IsRunning)
	assert.Equal(t, 4, got.CurrentPhaseIndex)
	assert.Equal(t, models.PhaseStatusInProgress, got.Phases[4].Status)
	require.NotNil(t, got.Phases[4].StartTime)
	assert.Equal(t, fixedNow, *got.Phases[4].StartTime)
}

func TestNextPhase_AtLastIndex(t *testing.T) {
	s := newTestStore(nil)
	s.StartUpgrade("idx", "pkg", models.ModeAllServersInClass, "")
	for i := 0; i < 4; i++ {
		s.NextPhase()
	}
	require.Equal(t, 4, s.Snapshot().CurrentPhaseIndex)
	require.True(t, s.IsRunning())

	s.NextPhase()
	got := s.Snapshot()
	assert.Equal(t, 4, got.CurrentPhaseIndex)
	assert.False(t, got.IsRunning)
}

func TestUpdatePhase_MonotoneIndex(t *testing.T) {
	s := newTestStore(nil)
	s.StartUpgrade("idx", "pkg", models.ModeAllServersInClass, "")

	require.NoError(t, s.UpdatePhase("indexers", PhaseUpdate{Status: statusPtr(models.PhaseStatusInProgress)}))
	assert.Equal(t, 3, s.Snapshot().CurrentPhaseIndex)

	require.NoError(t, s.UpdatePhase("preparation", PhaseUpdate{Status: statusPtr(models.PhaseStatusInProgress)}))
	assert.Equal(t, 3, s.Snapshot().CurrentPhaseIndex, "index never moves backward")

	require.NoError(t, s.UpdatePhase("validation", PhaseUpdate{Status: statusPtr(models.PhaseStatusCompleted)}))
	assert.Equal(t, 3, s.Snapshot().CurrentPhaseIndex, "only in-progress advances")
}

func TestUpdatePhase_ProgressAndETA(t *testing.T) {
	s := newTestStore(nil)
	s.StartUpgrade("idx", "pkg", models.ModeAllServersInClass, "")

	require.NoError(t, s.UpdatePhase("preparation", PhaseUpdate{
		Status:   statusPtr(models.PhaseStatusCompleted),
		Progress: intPtr(100),
	}))
	got := s.Snapshot()
	assert.Equal(t, 20, got.OverallProgress)
	assert.Equal(t, fixedNow.Add(75*time.Minute), *got.EstimatedEndTime)

	require.NoError(t, s.UpdatePhase("cluster-manager", PhaseUpdate{Progress: intPtr(250)}))
	assert.Equal(t, 100, s.Snapshot().Phases[1].Progress, "progress is clamped")
}

func TestUpdatePhase_Errors(t *testing.T) {
	s := newTestStore(nil)
	before := s.Snapshot()

	err := s.UpdatePhase("rollback", PhaseUpdate{Progress: intPtr(10)})
	assert.True(t, errors.Is(err, ErrPhaseNotFound))

	err = s.UpdatePhase("preparation", PhaseUpdate{
		Progress: intPtr(40),
		Status:   statusPtr("bogus"),
	})
	assert.True(t, errors.Is(err, ErrInvalidUpdate))

	err = s.UpdatePhase("preparation", PhaseUpdate{
		Progress: intPtr(40),
		Tasks:    map[string]models.PhaseStatus{"cm-1": models.PhaseStatusCompleted},
	})
	assert.True(t, errors.Is(err, ErrInvalidUpdate), "task from another phase")

	assert.Equal(t, before, s.Snapshot(), "failed updates leave state untouched")
}

func TestUpdatePhase_TaskOverrides(t *testing.T) {
	s := newTestStore(nil)
	require.NoError(t, s.UpdatePhase("preparation", PhaseUpdate{
		Tasks: map[string]models.PhaseStatus{
			"prep-1": models.PhaseStatusCompleted,
			"prep-2": models.PhaseStatusInProgress,
		},
	}))
	tasks := s.Snapshot().Phases[0].Tasks
	assert.Equal(t, models.PhaseStatusCompleted, tasks[0].Status)
	assert.Equal(t, models.PhaseStatusInProgress, tasks[1].Status)
	assert.Equal(t, models.PhaseStatusPending, tasks[2].Status)
}

func TestResetUpgrade_PreservesCaches(t *testing.T) {
	snaps := newMemSnapshots()
	s := newTestStore(snaps)

	hosts := &models.HostInventory{Classes: []models.HostClass{{Name: "azure_hf", Servers: []models.Server{{Name: "azure_hf_1", IP: "10.0.0.1"}}}}}
	pkgs := &models.PackageInventory{Packages: []models.Package{{ID: "p1", Type: "enterprise", Version: "9.3.2"}}}
	s.SetInventories(hosts, pkgs)
	s.SetHealthMetrics(models.HealthMetrics{CPU: models.ResourceMetric{Usage: 40, Threshold: 80}})

	s.StartUpgrade("azure_hf", "p1", models.ModeSingleServer, "azure_hf_1")
	s.NextPhase()
	s.AddLog(models.LogEntry{ID: "1", Message: "hello"})
	require.NotNil(t, snaps.data[SnapshotKey])

	s.ResetUpgrade()
	got := s.Snapshot()

	assert.False(t, got.IsRunning)
	assert.Zero(t, got.CurrentPhaseIndex)
	assert.Nil(t, got.StartTime)
	assert.Empty(t, got.Logs)
	assert.Empty(t, got.SelectedHostClass)
	assert.Equal(t, models.PhaseStatusPending, got.Phases[1].Status)
	assert.Equal(t, hosts, got.HostInventory)
	assert.Equal(t, pkgs, got.PackageInventory)
	require.NotNil(t, got.HealthMetrics)
	assert.Equal(t, 40.0, got.HealthMetrics.CPU.Usage)
	assert.Nil(t, snaps.data[SnapshotKey], "reset deletes the snapshot")
}

func TestLoadSavedState_RoundTrip(t *testing.T) {
	db, err := store.New(filepath.Join(t.TempDir(), "session.db"))
	require.NoError(t, err)
	defer db.Close()

	s := newTestStore(db)
	s.StartUpgrade("azure_hf", "splunk_enterprise_9.3.2", models.ModeSingleServer, "azure_hf_1")
	s.NextPhase()
	require.NoError(t, s.UpdatePhase("cluster-manager", PhaseUpdate{Progress: intPtr(50), EndTime: &fixedNow}))
	s.AddLog(models.LogEntry{ID: "1", Message: "not persisted"})
	want := s.Snapshot()

	restored := newTestStore(db)
	require.NoError(t, restored.LoadSavedState())
	got := restored.Snapshot()

	assert.Empty(t, got.Logs)
	assert.Equal(t, uint64(1), got.Version, "a restore is one change of the new store")
	want.Logs = []models.LogEntry{}
	want.Version = got.Version
	assert.Equal(t, want, got)
	require.NotNil(t, got.Phases[1].StartTime)
	assert.Equal(t, fixedNow, *got.Phases[1].StartTime)
}

func TestLoadSavedState_InMemoryCachesWin(t *testing.T) {
	snaps := newMemSnapshots()
	s := newTestStore(snaps)
	s.SetHealthMetrics(models.HealthMetrics{CPU: models.ResourceMetric{Usage: 10}})
	s.StartUpgrade("a", "b", models.ModeAllServersInClass, "")

	live := newTestStore(snaps)
	live.SetHealthMetrics(models.HealthMetrics{CPU: models.ResourceMetric{Usage: 90}})
	require.NoError(t, live.LoadSavedState())
	got := live.Snapshot()
	assert.Equal(t, 90.0, got.HealthMetrics.CPU.Usage)
	assert.True(t, got.IsRunning)

	fresh := newTestStore(snaps)
	require.NoError(t, fresh.LoadSavedState())
	assert.Equal(t, 10.0, fresh.Snapshot().HealthMetrics.CPU.Usage, "snapshot fills empty caches")
}

func TestLoadSavedState_CorruptAndMissing(t *testing.T) {
	snaps := newMemSnapshots()
	s := newTestStore(snaps)
	require.NoError(t, s.LoadSavedState(), "missing snapshot is not an error")

	snaps.data[SnapshotKey] = []byte("{not json")
	before := s.Snapshot()
	err := s.LoadSavedState()
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, before, s.Snapshot())

	snaps.data[SnapshotKey] = []byte(`{"isRunning":true}`)
	require.NoError(t, s.LoadSavedState())
	assert.Len(t, s.Snapshot().Phases, 5, "missing phases fall back to the template")
}

func TestLoadSavedState_NormalizesPhases(t *testing.T) {
	snaps := newMemSnapshots()
	snaps.data[SnapshotKey] = []byte(`{"isRunning":true,"currentPhaseIndex":9,"phases":[` +
		`{"id":"preparation","status":"completed"},` +
		`{"id":"cluster-manager","status":"in_progress"},` +
		`{"id":"search-heads","status":"pending"}]}`)

	s := newTestStore(snaps)
	require.NoError(t, s.LoadSavedState())
	got := s.Snapshot()
	require.Len(t, got.Phases, 5, "short phase list is replaced by the template")
	assert.Equal(t, models.PhaseStatusPending, got.Phases[0].Status)
	assert.Equal(t, 4, got.CurrentPhaseIndex, "index is clamped to the last phase")
	assert.True(t, got.IsRunning)

	// the restored session stays usable
	s.NextPhase()
	assert.Equal(t, 4, s.Snapshot().CurrentPhaseIndex)

	snaps.data[SnapshotKey] = []byte(`{"currentPhaseIndex":-3}`)
	require.NoError(t, s.LoadSavedState())
	assert.Equal(t, 0, s.Snapshot().CurrentPhaseIndex)
}

func TestSaveFailureDoesNotFailOperation(t *testing.T) {
	snaps := newMemSnapshots()
	snaps.saveErr = errors.New("disk full")
	s := newTestStore(snaps)

	s.StartUpgrade("a", "b", models.ModeAllServersInClass, "")
	assert.True(t, s.IsRunning())
}

func TestSubscribe(t *testing.T) {
	s := newTestStore(nil)
	var seen []bool
	cancel := s.Subscribe(func(sess models.Session) {
		seen = append(seen, sess.IsRunning)
		// listeners run outside the lock
		_ = s.IsRunning()
	})

	s.StartUpgrade("a", "b", models.ModeAllServersInClass, "")
	s.PauseUpgrade()
	cancel()
	s.ResumeUpgrade()

	assert.Equal(t, []bool{true, true}, seen)
	assert.True(t, s.Snapshot().IsRunning)
	assert.False(t, s.Snapshot().IsPaused)
}

func TestVersionIncreasesPerChange(t *testing.T) {
	s := newTestStore(nil)
	var versions []uint64
	cancel := s.Subscribe(func(sess models.Session) {
		versions = append(versions, sess.Version)
	})
	defer cancel()

	s.StartUpgrade("a", "b", models.ModeAllServersInClass, "")
	s.PauseUpgrade()
	s.PauseUpgrade()
	s.ResetUpgrade()
	s.StartUpgrade("a", "b", models.ModeAllServersInClass, "")

	require.NotEmpty(t, versions)
	for i := 1; i < len(versions); i++ {
		assert.Greater(t, versions[i], versions[i-1], "versions survive a reset")
	}
	assert.Equal(t, versions[len(versions)-1], s.Snapshot().Version)
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	s := newTestStore(nil)
	snap := s.Snapshot()
	snap.Phases[0].Tasks[0].Status = models.PhaseStatusFailed
	assert.Equal(t, models.PhaseStatusPending, s.Snapshot().Phases[0].Tasks[0].Status)
}

func TestConcurrentUpdates(t *testing.T) {
	s := newTestStore(newMemSnapshots())
	s.StartUpgrade("a", "b", models.ModeAllServersInClass, "")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.UpdatePhase("indexers", PhaseUpdate{Progress: intPtr(i)})
			s.AddLog(models.LogEntry{ID: "x"})
		}(i)
	}
	wg.Wait()
	assert.Len(t, s.Snapshot().Logs, 50)
}

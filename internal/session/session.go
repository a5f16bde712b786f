// Package session holds the single mutable upgrade session and persists
// snapshots of it.
//
// Every public operation runs under one mutex, so readers never observe a
// partially applied transition. Listeners registered with Subscribe are
// called after the lock is released with a copy of the new state; that copy
// carries the session Version, so a listener racing a later change can tell
// which state is newer.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/playsafesec/upgradeboard/internal/checklist"
	"github.com/playsafesec/upgradeboard/internal/models"
	"github.com/playsafesec/upgradeboard/internal/progress"
)

// SnapshotKey is the key the session snapshot is persisted under.
const SnapshotKey = "splunk_upgrade_state"

var (
	// ErrPhaseNotFound is returned by UpdatePhase for an unknown phase id.
	ErrPhaseNotFound = errors.New("phase not found")
	// ErrInvalidUpdate is returned when a PhaseUpdate fails validation.
	ErrInvalidUpdate = errors.New("invalid phase update")
)

var (
	overallProgressGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "upgradeboard_session_overall_progress",
		Help: "Aggregate progress of the current upgrade session (0-100).",
	})
	runningGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "upgradeboard_session_running",
		Help: "1 while an upgrade session is running.",
	})
)

// PersistenceError wraps a failed snapshot read or write.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("session %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Snapshotter persists opaque snapshot blobs. *store.Store implements it.
type Snapshotter interface {
	SaveSnapshot(key string, data []byte) error
	LoadSnapshot(key string) ([]byte, error)
	DeleteSnapshot(key string) error
}

// PhaseUpdate is a partial update to a phase. Nil fields are left untouched.
// Tasks overrides checklist item statuses by item id, subtasks included.
type PhaseUpdate struct {
	Status    *models.PhaseStatus           `json:"status,omitempty"`
	Progress  *int                          `json:"progress,omitempty"`
	StartTime *time.Time                    `json:"startTime,omitempty"`
	EndTime   *time.Time                    `json:"endTime,omitempty"`
	Tasks     map[string]models.PhaseStatus `json:"tasks,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u PhaseUpdate) Empty() bool {
	return u.Status == nil && u.Progress == nil && u.StartTime == nil && u.EndTime == nil && len(u.Tasks) == 0
}

// validate checks u against the phase it targets.
func (u PhaseUpdate) validate(phase models.Phase) error {
	if u.Status != nil && !u.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidUpdate, *u.Status)
	}
	for id, st := range u.Tasks {
		if !st.Valid() {
			return fmt.Errorf("%w: unknown status %q for task %s", ErrInvalidUpdate, st, id)
		}
		if !hasItem(phase.Tasks, id) {
			return fmt.Errorf("%w: task %s not in phase %s", ErrInvalidUpdate, id, phase.ID)
		}
	}
	return nil
}

// Store owns the upgrade session.
type Store struct {
	mu        sync.Mutex
	state     models.Session
	persist   Snapshotter
	listeners map[int]func(models.Session)
	nextID    int

	now func() time.Time
}

// New creates a store holding the empty template session. persist may be nil
// for an in-memory only store.
func New(persist Snapshotter) *Store {
	s := &Store{
		persist:   persist,
		listeners: make(map[int]func(models.Session)),
		now:       time.Now,
	}
	s.state = initialState()
	return s
}

func initialState() models.Session {
	return models.Session{
		Phases:       checklist.NewPhases(),
		UpgradeMode:  models.ModeSingleServer,
		WorkflowJobs: []models.WorkflowJob{},
		Logs:         []models.LogEntry{},
	}
}

// Subscribe registers fn to be called with a copy of the session after every
// mutation. The returned func removes the listener.
func (s *Store) Subscribe(fn func(models.Session)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Snapshot returns a deep copy of the current session.
func (s *Store) Snapshot() models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneSession(s.state)
}

// IsRunning reports whether an upgrade is running.
func (s *Store) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.IsRunning
}

// mutate applies fn under the lock, refreshes gauges, optionally persists,
// then notifies listeners. fn returns false to signal no change.
func (s *Store) mutate(save bool, fn func(st *models.Session) bool) {
	s.mu.Lock()
	version := s.state.Version
	if !fn(&s.state) {
		s.mu.Unlock()
		return
	}
	s.state.Version = version + 1
	s.observe()
	if save {
		s.saveLocked()
	}
	snap := cloneSession(s.state)
	listeners := make([]func(models.Session), 0, len(s.listeners))
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		listeners = append(listeners, s.listeners[id])
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(cloneSession(snap))
	}
}

func (s *Store) observe() {
	overallProgressGauge.Set(float64(s.state.OverallProgress))
	if s.state.IsRunning {
		runningGauge.Set(1)
	} else {
		runningGauge.Set(0)
	}
}

// StartUpgrade begins a fresh session. Selections are not re-validated.
func (s *Store) StartUpgrade(hostClass, packageID string, mode models.UpgradeMode, serverName string) {
	s.mutate(true, func(st *models.Session) bool {
		start := s.now().UTC()
		phases := checklist.NewPhases()
		eta := progress.EstimateCompletion(phases, 0, start)

		st.IsRunning = true
		st.IsPaused = false
		st.CurrentPhaseIndex = 0
		st.OverallProgress = 0
		st.StartTime = &start
		st.EstimatedEndTime = &eta
		st.SelectedHostClass = hostClass
		st.SelectedPackage = packageID
		st.SelectedServer = serverName
		st.UpgradeMode = mode
		st.Phases = phases
		st.Logs = []models.LogEntry{}
		st.CurrentWorkflowRun = nil
		st.WorkflowJobs = []models.WorkflowJob{}
		return true
	})
	logrus.WithFields(logrus.Fields{
		"host_class": hostClass,
		"package":    packageID,
		"mode":       mode,
		"server":     serverName,
	}).Info("upgrade session started")
}

// PauseUpgrade marks the session paused. Polling is not suspended.
func (s *Store) PauseUpgrade() {
	s.mutate(true, func(st *models.Session) bool {
		st.IsPaused = true
		return true
	})
}

// ResumeUpgrade clears the paused flag.
func (s *Store) ResumeUpgrade() {
	s.mutate(true, func(st *models.Session) bool {
		st.IsPaused = false
		return true
	})
}

// ResetUpgrade returns to the template session, keeping inventories and
// health metrics, and deletes the persisted snapshot.
func (s *Store) ResetUpgrade() {
	s.mutate(false, func(st *models.Session) bool {
		fresh := initialState()
		fresh.HostInventory = st.HostInventory
		fresh.PackageInventory = st.PackageInventory
		fresh.HealthMetrics = st.HealthMetrics
		*st = fresh
		if s.persist != nil {
			if err := s.persist.DeleteSnapshot(SnapshotKey); err != nil {
				logrus.Warnf("session: %v", &PersistenceError{Op: "delete snapshot", Err: err})
			}
		}
		return true
	})
	logrus.Info("upgrade session reset")
}

// UpdatePhase merges u into the phase with id phaseID.
func (s *Store) UpdatePhase(phaseID string, u PhaseUpdate) error {
	var err error
	s.mutate(true, func(st *models.Session) bool {
		err = s.updatePhaseLocked(st, phaseID, u)
		return err == nil
	})
	if errors.Is(err, ErrPhaseNotFound) {
		logrus.WithField("phase", phaseID).Warn("session: update for unknown phase ignored")
	}
	return err
}

func (s *Store) updatePhaseLocked(st *models.Session, phaseID string, u PhaseUpdate) error {
	idx := -1
	for i := range st.Phases {
		if st.Phases[i].ID == phaseID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrPhaseNotFound, phaseID)
	}
	if err := u.validate(st.Phases[idx]); err != nil {
		return err
	}

	p := &st.Phases[idx]
	if u.Status != nil {
		p.Status = *u.Status
	}
	if u.Progress != nil {
		p.Progress = progress.Clamp(*u.Progress)
	}
	if u.StartTime != nil {
		t := u.StartTime.UTC()
		p.StartTime = &t
	}
	if u.EndTime != nil {
		t := u.EndTime.UTC()
		p.EndTime = &t
	}
	for id, status := range u.Tasks {
		setItemStatus(p.Tasks, id, status)
	}

	st.OverallProgress = progress.Aggregate(st.Phases)
	if u.Status != nil && *u.Status == models.PhaseStatusInProgress && idx > st.CurrentPhaseIndex {
		st.CurrentPhaseIndex = idx
	}
	if st.StartTime != nil {
		eta := progress.EstimateCompletion(st.Phases, st.CurrentPhaseIndex, *st.StartTime)
		st.EstimatedEndTime = &eta
	}
	return nil
}

// NextPhase advances to the next phase and starts it, or ends the session
// when the current phase is the last one.
func (s *Store) NextPhase() {
	s.mutate(true, func(st *models.Session) bool {
		if st.CurrentPhaseIndex < len(st.Phases)-1 {
			st.CurrentPhaseIndex++
			status := models.PhaseStatusInProgress
			now := s.now().UTC()
			_ = s.updatePhaseLocked(st, st.Phases[st.CurrentPhaseIndex].ID, PhaseUpdate{
				Status:    &status,
				StartTime: &now,
			})
			return true
		}
		st.IsRunning = false
		return true
	})
}

// SetCurrentWorkflowRun records the latest workflow run.
func (s *Store) SetCurrentWorkflowRun(run *models.WorkflowRun) {
	s.mutate(true, func(st *models.Session) bool {
		if run == nil {
			st.CurrentWorkflowRun = nil
			return true
		}
		r := *run
		st.CurrentWorkflowRun = &r
		return true
	})
}

// SetWorkflowJobs replaces the job list of the current run.
func (s *Store) SetWorkflowJobs(jobs []models.WorkflowJob) {
	s.mutate(true, func(st *models.Session) bool {
		st.WorkflowJobs = cloneJobs(jobs)
		return true
	})
}

// AddLog appends one entry. Logs are never persisted.
func (s *Store) AddLog(entry models.LogEntry) {
	s.AddLogs([]models.LogEntry{entry})
}

// AddLogs appends entries in order.
func (s *Store) AddLogs(entries []models.LogEntry) {
	if len(entries) == 0 {
		return
	}
	s.mutate(false, func(st *models.Session) bool {
		st.Logs = append(st.Logs, entries...)
		return true
	})
}

// ClearLogs drops all log entries.
func (s *Store) ClearLogs() {
	s.mutate(false, func(st *models.Session) bool {
		st.Logs = []models.LogEntry{}
		return true
	})
}

// SetHealthMetrics stores the last known health metrics.
func (s *Store) SetHealthMetrics(m models.HealthMetrics) {
	s.mutate(true, func(st *models.Session) bool {
		st.HealthMetrics = &m
		return true
	})
}

// SetInventories replaces both inventory caches. Not persisted on its own.
func (s *Store) SetInventories(hosts *models.HostInventory, packages *models.PackageInventory) {
	s.mutate(false, func(st *models.Session) bool {
		st.HostInventory = hosts
		st.PackageInventory = packages
		return true
	})
}

// UpdateHostInventory replaces the host inventory cache.
func (s *Store) UpdateHostInventory(inv *models.HostInventory) {
	s.mutate(false, func(st *models.Session) bool {
		st.HostInventory = inv
		return true
	})
}

// UpdatePackageInventory replaces the package inventory cache.
func (s *Store) UpdatePackageInventory(inv *models.PackageInventory) {
	s.mutate(false, func(st *models.Session) bool {
		st.PackageInventory = inv
		return true
	})
}

// LoadSavedState restores the persisted snapshot if one exists. Inventory
// and health values already held in memory win over the snapshot's. A
// snapshot whose phase list does not match the checklist gets the template
// phases, and the phase index is clamped into range. A
// corrupt snapshot leaves the in-memory session untouched and is returned
// as a *PersistenceError.
func (s *Store) LoadSavedState() error {
	if s.persist == nil {
		return nil
	}
	data, err := s.persist.LoadSnapshot(SnapshotKey)
	if err != nil {
		perr := &PersistenceError{Op: "load snapshot", Err: err}
		logrus.Warnf("%v", perr)
		return perr
	}
	if data == nil {
		return nil
	}

	var saved models.Session
	if err := json.Unmarshal(data, &saved); err != nil {
		perr := &PersistenceError{Op: "decode snapshot", Err: err}
		logrus.Warnf("%v", perr)
		return perr
	}

	s.mutate(false, func(st *models.Session) bool {
		restored := saved
		if st.HostInventory != nil || restored.HostInventory == nil {
			restored.HostInventory = st.HostInventory
		}
		if st.PackageInventory != nil || restored.PackageInventory == nil {
			restored.PackageInventory = st.PackageInventory
		}
		if st.HealthMetrics != nil || restored.HealthMetrics == nil {
			restored.HealthMetrics = st.HealthMetrics
		}
		if len(restored.Phases) != len(checklist.PhaseIDs()) {
			restored.Phases = checklist.NewPhases()
		}
		restored.CurrentPhaseIndex = max(0, min(restored.CurrentPhaseIndex, len(restored.Phases)-1))
		if restored.WorkflowJobs == nil {
			restored.WorkflowJobs = []models.WorkflowJob{}
		}
		restored.Logs = st.Logs
		*st = restored
		return true
	})
	logrus.Info("restored saved upgrade session")
	return nil
}

// saveLocked writes the snapshot. Errors are logged and swallowed.
func (s *Store) saveLocked() {
	if s.persist == nil {
		return
	}
	snap := cloneSession(s.state)
	snap.Logs = nil
	data, err := json.Marshal(snap)
	if err == nil {
		err = s.persist.SaveSnapshot(SnapshotKey, data)
	}
	if err != nil {
		logrus.Warnf("session: %v", &PersistenceError{Op: "save snapshot", Err: err})
	}
}

func hasItem(items []models.ChecklistItem, id string) bool {
	for _, it := range items {
		if it.ID == id || hasItem(it.Subtasks, id) {
			return true
		}
	}
	return false
}

func setItemStatus(items []models.ChecklistItem, id string, status models.PhaseStatus) {
	for i := range items {
		if items[i].ID == id {
			items[i].Status = status
			return
		}
		setItemStatus(items[i].Subtasks, id, status)
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneJobs(jobs []models.WorkflowJob) []models.WorkflowJob {
	if jobs == nil {
		return []models.WorkflowJob{}
	}
	out := make([]models.WorkflowJob, len(jobs))
	for i, j := range jobs {
		j.CompletedAt = cloneTime(j.CompletedAt)
		j.Steps = append([]models.WorkflowStep(nil), j.Steps...)
		out[i] = j
	}
	return out
}

func cloneSession(src models.Session) models.Session {
	dst := src
	dst.StartTime = cloneTime(src.StartTime)
	dst.EstimatedEndTime = cloneTime(src.EstimatedEndTime)
	dst.Phases = checklist.ClonePhases(src.Phases)
	dst.WorkflowJobs = cloneJobs(src.WorkflowJobs)
	if src.Logs != nil {
		dst.Logs = append([]models.LogEntry{}, src.Logs...)
	}
	if src.CurrentWorkflowRun != nil {
		r := *src.CurrentWorkflowRun
		dst.CurrentWorkflowRun = &r
	}
	if src.HealthMetrics != nil {
		m := *src.HealthMetrics
		dst.HealthMetrics = &m
	}
	if src.HostInventory != nil {
		inv := models.HostInventory{Classes: make([]models.HostClass, len(src.HostInventory.Classes))}
		for i, c := range src.HostInventory.Classes {
			c.Servers = append([]models.Server(nil), c.Servers...)
			inv.Classes[i] = c
		}
		dst.HostInventory = &inv
	}
	if src.PackageInventory != nil {
		inv := models.PackageInventory{Packages: append([]models.Package(nil), src.PackageInventory.Packages...)}
		dst.PackageInventory = &inv
	}
	return dst
}

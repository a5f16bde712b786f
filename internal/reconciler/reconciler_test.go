package reconciler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playsafesec/upgradeboard/internal/models"
	"github.com/playsafesec/upgradeboard/internal/session"
	"github.com/playsafesec/upgradeboard/internal/workflow"
)

type fakeEngine struct {
	mu       sync.Mutex
	run      *models.WorkflowRun
	jobs     []models.WorkflowJob
	logs     map[int64]string
	runLogs  map[int64]string
	runErrs  []error
	runCalls int
	logCalls map[int64]int

	// called inside Jobs, before returning
	onJobs func(ctx context.Context)
}

var _ workflow.Engine = (*fakeEngine)(nil)

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		logs:     make(map[int64]string),
		runLogs:  make(map[int64]string),
		logCalls: make(map[int64]int),
	}
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Dispatch(ctx context.Context, in workflow.DispatchInputs) error { return nil }

func (f *fakeEngine) LatestRun(ctx context.Context) (*models.WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runCalls++
	if len(f.runErrs) > 0 {
		err := f.runErrs[0]
		f.runErrs = f.runErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if f.run == nil {
		return nil, nil
	}
	r := *f.run
	return &r, nil
}

func (f *fakeEngine) Jobs(ctx context.Context, runID int64) ([]models.WorkflowJob, error) {
	f.mu.Lock()
	jobs := append([]models.WorkflowJob(nil), f.jobs...)
	hook := f.onJobs
	f.mu.Unlock()
	if hook != nil {
		hook(ctx)
	}
	return jobs, nil
}

func (f *fakeEngine) JobLogs(ctx context.Context, jobID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logCalls[jobID]++
	raw, ok := f.logs[jobID]
	if !ok {
		return "", errors.New("no logs")
	}
	return raw, nil
}

func (f *fakeEngine) RunLogs(ctx context.Context, runID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.runLogs[runID]
	if !ok {
		return "", errors.New("no run logs")
	}
	return raw, nil
}

func (f *fakeEngine) CancelRun(ctx context.Context, runID int64) error { return nil }

func (f *fakeEngine) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runCalls
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Interval = 10 * time.Millisecond
	cfg.RetryBackoff = time.Millisecond
	return cfg
}

func startedStore() *session.Store {
	s := session.New(nil)
	s.StartUpgrade("azure_hf", "splunk_enterprise_9.3.2", models.ModeSingleServer, "azure_hf_1")
	return s
}

func TestPollOnce_AppliesJobs(t *testing.T) {
	s := startedStore()
	eng := newFakeEngine()
	now := time.Now().UTC()
	eng.run = &models.WorkflowRun{ID: 1, Status: models.JobInProgress, CreatedAt: now}
	eng.jobs = []models.WorkflowJob{
		{ID: 10, Name: "preparation", Status: models.JobCompleted, Conclusion: models.ConclusionSuccess, StartedAt: now, CompletedAt: &now},
		{ID: 11, Name: "upgrade-cluster-manager", Status: models.JobInProgress, StartedAt: now},
		{ID: 12, Name: "search-heads", Status: models.JobQueued},
		{ID: 13, Name: "notify", Status: models.JobInProgress},
	}
	eng.logs[10] = "[preparation] SUCCESS downloaded\n[preparation] checksum ok"
	eng.logs[11] = "[cluster-manager] Server: cm1 stopping"

	r := New(s, eng, testConfig())
	ran, err := r.PollOnce(context.Background())
	require.True(t, ran)
	require.NoError(t, err)

	got := s.Snapshot()
	require.NotNil(t, got.CurrentWorkflowRun)
	assert.Equal(t, int64(1), got.CurrentWorkflowRun.ID)
	assert.Len(t, got.WorkflowJobs, 4)

	assert.Equal(t, models.PhaseStatusCompleted, got.Phases[0].Status)
	assert.Equal(t, 100, got.Phases[0].Progress)
	require.NotNil(t, got.Phases[0].EndTime)
	assert.Equal(t, models.PhaseStatusInProgress, got.Phases[1].Status)
	assert.Equal(t, 50, got.Phases[1].Progress)
	require.NotNil(t, got.Phases[1].StartTime)
	assert.Equal(t, models.PhaseStatusPending, got.Phases[2].Status)
	assert.Equal(t, 1, got.CurrentPhaseIndex)
	assert.Equal(t, 30, got.OverallProgress)

	require.Len(t, got.Logs, 3)
	assert.Equal(t, models.LevelSuccess, got.Logs[0].Level)
	assert.Equal(t, "cm1", got.Logs[2].Server)
	assert.Zero(t, eng.logCalls[12], "queued jobs have no logs yet")

	// second poll only appends new lines
	eng.mu.Lock()
	eng.logs[10] += "\n[preparation] ERROR late failure"
	eng.mu.Unlock()
	_, err = r.PollOnce(context.Background())
	require.NoError(t, err)
	logs := s.Snapshot().Logs
	require.Len(t, logs, 4)
	assert.Equal(t, models.LevelError, logs[3].Level)
}

func TestPollOnce_NewRunResetsSeenLogs(t *testing.T) {
	s := startedStore()
	eng := newFakeEngine()
	eng.run = &models.WorkflowRun{ID: 1}
	eng.jobs = []models.WorkflowJob{{ID: 10, Name: "preparation", Status: models.JobInProgress}}
	eng.logs[10] = "one"

	r := New(s, eng, testConfig())
	_, err := r.PollOnce(context.Background())
	require.NoError(t, err)

	eng.run = &models.WorkflowRun{ID: 2}
	_, err = r.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, s.Snapshot().Logs, 2)
}

func TestPollOnce_CompletedRunFallsBackToRunLogs(t *testing.T) {
	s := startedStore()
	eng := newFakeEngine()
	eng.run = &models.WorkflowRun{ID: 7, Status: models.JobInProgress}
	eng.jobs = []models.WorkflowJob{{ID: 70, Name: "preparation", Status: models.JobCompleted, Conclusion: models.ConclusionSuccess}}
	eng.runLogs[7] = "[preparation] SUCCESS downloaded\n[preparation] ERROR checksum mismatch"

	r := New(s, eng, testConfig())
	_, err := r.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, s.Snapshot().Logs, "run archive is only read once the run completed")

	eng.mu.Lock()
	eng.run.Status = models.JobCompleted
	eng.mu.Unlock()
	_, err = r.PollOnce(context.Background())
	require.NoError(t, err)
	logs := s.Snapshot().Logs
	require.Len(t, logs, 2)
	assert.Equal(t, models.LevelSuccess, logs[0].Level)
	assert.Equal(t, models.LevelError, logs[1].Level)

	// polling again does not repeat archive lines
	_, err = r.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, s.Snapshot().Logs, 2)
}

func TestPollOnce_NoRunAndStaleRun(t *testing.T) {
	s := startedStore()
	before := s.Snapshot()
	eng := newFakeEngine()
	r := New(s, eng, testConfig())

	_, err := r.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before, s.Snapshot())

	eng.run = &models.WorkflowRun{ID: 9, CreatedAt: before.StartTime.Add(-2 * time.Hour)}
	eng.jobs = []models.WorkflowJob{{ID: 1, Name: "preparation", Status: models.JobCompleted, Conclusion: models.ConclusionSuccess}}
	_, err = r.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before, s.Snapshot(), "runs from a previous session are ignored")
}

func TestPollOnce_ErrorsLeaveStateUntouched(t *testing.T) {
	s := startedStore()
	before := s.Snapshot()
	eng := newFakeEngine()
	eng.runErrs = []error{errors.New("boom")}
	eng.run = &models.WorkflowRun{ID: 1}

	r := New(s, eng, testConfig())
	_, err := r.PollOnce(context.Background())
	assert.Error(t, err)
	assert.Equal(t, before, s.Snapshot())
	assert.Equal(t, 1, eng.calls(), "no retries by default")
}

func TestPollOnce_RetryPolicy(t *testing.T) {
	s := startedStore()
	eng := newFakeEngine()
	eng.runErrs = []error{errors.New("flaky"), errors.New("flaky")}
	eng.run = &models.WorkflowRun{ID: 1}

	cfg := testConfig()
	cfg.RetryPolicy = RetryExponential
	cfg.MaxRetries = 2
	r := New(s, eng, cfg)

	_, err := r.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, eng.calls())
	assert.NotNil(t, s.Snapshot().CurrentWorkflowRun)
}

func TestPollOnce_DiscardsAfterCancel(t *testing.T) {
	s := startedStore()
	before := s.Snapshot()
	eng := newFakeEngine()
	eng.run = &models.WorkflowRun{ID: 1}
	eng.jobs = []models.WorkflowJob{{ID: 10, Name: "preparation", Status: models.JobCompleted, Conclusion: models.ConclusionSuccess}}

	ctx, cancel := context.WithCancel(context.Background())
	eng.onJobs = func(context.Context) { cancel() }

	r := New(s, eng, testConfig())
	_, err := r.PollOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, before, s.Snapshot())
}

func TestPollOnce_Serialized(t *testing.T) {
	s := startedStore()
	eng := newFakeEngine()
	eng.run = &models.WorkflowRun{ID: 1}

	entered := make(chan struct{})
	release := make(chan struct{})
	eng.onJobs = func(context.Context) {
		close(entered)
		<-release
	}

	r := New(s, eng, testConfig())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.PollOnce(context.Background())
	}()

	<-entered
	ran, err := r.PollOnce(context.Background())
	assert.False(t, ran)
	assert.NoError(t, err)

	close(release)
	<-done
}

func TestSync_FollowsSession(t *testing.T) {
	s := session.New(nil)
	eng := newFakeEngine()
	r := New(s, eng, testConfig())
	cancel := s.Subscribe(func(sess models.Session) { r.Sync(sess.IsRunning) })
	defer cancel()
	defer r.Stop()

	r.Sync(true)
	assert.False(t, r.Active(), "stale notification is ignored")

	s.StartUpgrade("azure_hf", "pkg", models.ModeAllServersInClass, "")
	require.True(t, r.Active())
	require.Eventually(t, func() bool { return eng.calls() >= 2 }, time.Second, 5*time.Millisecond)

	s.ResetUpgrade()
	assert.False(t, r.Active())

	calls := eng.calls()
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, eng.calls(), calls+1, "polling stops after the session ends")
}

func TestStop_PreventsRestart(t *testing.T) {
	s := startedStore()
	r := New(s, newFakeEngine(), testConfig())
	r.Start()
	r.Stop()
	r.Start()
	assert.False(t, r.Active())
}

func TestConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10*time.Second, cfg.Interval)
	assert.Equal(t, 30*time.Second, cfg.PollTimeout)
	assert.Equal(t, 1, cfg.attempts())

	cfg.RetryPolicy = RetryFixed
	assert.Equal(t, 3, cfg.attempts())
	assert.Equal(t, time.Second, cfg.Backoff(2))

	cfg.RetryPolicy = RetryExponential
	assert.Equal(t, time.Second, cfg.Backoff(1))
	assert.Equal(t, 4*time.Second, cfg.Backoff(3))

	cfg.RetryPolicy = "sometimes"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Interval = 0
	assert.Error(t, cfg.Validate())
}

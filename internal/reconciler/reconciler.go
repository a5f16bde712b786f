package reconciler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/playsafesec/upgradeboard/internal/checklist"
	"github.com/playsafesec/upgradeboard/internal/logparse"
	"github.com/playsafesec/upgradeboard/internal/models"
	"github.com/playsafesec/upgradeboard/internal/progress"
	"github.com/playsafesec/upgradeboard/internal/session"
	"github.com/playsafesec/upgradeboard/internal/workflow"
)

// Poll results.
const (
	resultSuccess   = "success"
	resultError     = "error"
	resultNoRun     = "no_run"
	resultSkipped   = "skipped"
	resultDiscarded = "discarded"
)

const clockSkew = time.Minute

// runLogsKey tracks lines taken from the whole-run log archive in seenLogs.
// Job IDs are always positive.
const runLogsKey int64 = 0

var pollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "upgradeboard_reconciler_polls_total",
	Help: "Workflow status polls by result.",
}, []string{"result"})

// Reconciler polls the workflow engine while an upgrade is running.
type Reconciler struct {
	store  *session.Store
	engine workflow.Engine
	config *Config

	// lifecycle
	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
	wg      sync.WaitGroup

	// at most one poll at a time across loops
	inFlight atomic.Bool

	// per-run bookkeeping, only touched by the poll holding inFlight
	runID    int64
	seenLogs map[int64]int
}

// New creates a reconciler. A nil cfg uses DefaultConfig.
func New(s *session.Store, engine workflow.Engine, cfg *Config) *Reconciler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Reconciler{
		store:    s,
		engine:   engine,
		config:   cfg,
		seenLogs: make(map[int64]int),
	}
}

// Start begins the polling loop. It is a no-op while a loop is active.
func (r *Reconciler) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil || r.stopped {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.wg.Add(1)
	go r.loop(ctx)
	logrus.Infof("Reconciler started (engine=%s, interval=%s)", r.engine.Name(), r.config.Interval)
}

// halt cancels the active loop without waiting for it to exit.
func (r *Reconciler) halt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel == nil {
		return
	}
	r.cancel()
	r.cancel = nil
	logrus.Info("Reconciler halted")
}

// Stop cancels polling and waits for in-flight work. The reconciler cannot
// be restarted afterwards.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	r.stopped = true
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.mu.Unlock()
	r.wg.Wait()
	logrus.Info("Reconciler stopped")
}

// Sync starts polling when running is true and halts it otherwise. It is
// meant to be driven by session change notifications; a notification that
// no longer matches the session is ignored because a newer one follows.
func (r *Reconciler) Sync(running bool) {
	if running != r.store.IsRunning() {
		return
	}
	if running {
		r.Start()
		return
	}
	r.halt()
}

// Active reports whether a polling loop is running.
func (r *Reconciler) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel != nil
}

func (r *Reconciler) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reconciler) tick(ctx context.Context) {
	if !r.inFlight.CompareAndSwap(false, true) {
		pollsTotal.WithLabelValues(resultSkipped).Inc()
		return
	}
	defer r.inFlight.Store(false)

	if err := r.poll(ctx); err != nil && ctx.Err() == nil {
		logrus.Warnf("Reconciler poll failed: %v", err)
	}
}

// PollOnce performs a single poll outside the loop. It returns false when
// another poll is in flight.
func (r *Reconciler) PollOnce(ctx context.Context) (bool, error) {
	if !r.inFlight.CompareAndSwap(false, true) {
		pollsTotal.WithLabelValues(resultSkipped).Inc()
		return false, nil
	}
	defer r.inFlight.Store(false)
	return true, r.poll(ctx)
}

func (r *Reconciler) poll(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, r.config.PollTimeout)
	defer cancel()

	run, err := withRetry(ctx, r.config, r.engine.LatestRun)
	if err != nil {
		pollsTotal.WithLabelValues(resultError).Inc()
		return err
	}
	if parent.Err() != nil {
		pollsTotal.WithLabelValues(resultDiscarded).Inc()
		return parent.Err()
	}
	if run == nil || r.predatesSession(run) {
		pollsTotal.WithLabelValues(resultNoRun).Inc()
		return nil
	}
	if run.ID != r.runID {
		r.runID = run.ID
		r.seenLogs = make(map[int64]int)
	}

	jobs, err := withRetry(ctx, r.config, func(ctx context.Context) ([]models.WorkflowJob, error) {
		return r.engine.Jobs(ctx, run.ID)
	})
	if err != nil {
		pollsTotal.WithLabelValues(resultError).Inc()
		return err
	}

	logs := r.collectLogs(ctx, run, jobs)

	// discard results that arrive after cancellation
	if parent.Err() != nil {
		pollsTotal.WithLabelValues(resultDiscarded).Inc()
		return parent.Err()
	}

	r.store.SetCurrentWorkflowRun(run)
	r.store.SetWorkflowJobs(jobs)
	r.applyJobs(jobs)
	for _, l := range logs {
		r.seenLogs[l.jobID] += len(l.entries)
		r.store.AddLogs(l.entries)
	}

	pollsTotal.WithLabelValues(resultSuccess).Inc()
	return nil
}

// predatesSession reports whether run was created before the current
// session started, allowing for clock skew with the engine.
func (r *Reconciler) predatesSession(run *models.WorkflowRun) bool {
	start := r.store.Snapshot().StartTime
	if start == nil || run.CreatedAt.IsZero() {
		return false
	}
	return run.CreatedAt.Before(start.Add(-clockSkew))
}

// applyJobs folds job status into matching phases, writing only changes.
func (r *Reconciler) applyJobs(jobs []models.WorkflowJob) {
	phases := r.store.Snapshot().Phases
	for _, job := range jobs {
		phaseID, ok := checklist.MatchPhase(job.Name)
		if !ok {
			continue
		}
		idx := indexOf(phases, phaseID)
		if idx < 0 {
			continue
		}
		cur := phases[idx]
		next := progress.ApplyStatusSignal(cur, job.Status, job.Conclusion)
		if next.Status == cur.Status && next.Progress == cur.Progress {
			continue
		}

		u := session.PhaseUpdate{Status: &next.Status, Progress: &next.Progress}
		if next.Status == models.PhaseStatusInProgress && cur.StartTime == nil && !job.StartedAt.IsZero() {
			started := job.StartedAt
			u.StartTime = &started
		}
		if next.Status.Terminal() && job.CompletedAt != nil {
			u.EndTime = job.CompletedAt
		}
		if err := r.store.UpdatePhase(phaseID, u); err != nil {
			logrus.WithField("phase", phaseID).Warnf("Reconciler: update phase: %v", err)
			continue
		}
		phases[idx] = next
		logrus.WithFields(logrus.Fields{
			"phase":    phaseID,
			"status":   next.Status,
			"progress": next.Progress,
		}).Info("Phase updated from workflow job")
	}
}

type jobLogs struct {
	jobID   int64
	entries []models.LogEntry
}

// collectLogs fetches logs of started jobs and keeps only unseen lines.
// A failed fetch skips that job until the next poll, unless the run has
// completed: then the run's log archive is read instead.
func (r *Reconciler) collectLogs(ctx context.Context, run *models.WorkflowRun, jobs []models.WorkflowJob) []jobLogs {
	var out []jobLogs
	failed := 0
	for _, job := range jobs {
		if job.Status == models.JobQueued {
			continue
		}
		raw, err := withRetry(ctx, r.config, func(ctx context.Context) (string, error) {
			return r.engine.JobLogs(ctx, job.ID)
		})
		if err != nil {
			failed++
			logrus.WithField("job", job.Name).Debugf("Reconciler: job logs: %v", err)
			continue
		}
		if fresh := r.unseen(job.ID, raw); len(fresh) > 0 {
			out = append(out, jobLogs{jobID: job.ID, entries: fresh})
		}
	}

	if failed == 0 || run.Status != models.JobCompleted {
		return out
	}
	raw, err := withRetry(ctx, r.config, func(ctx context.Context) (string, error) {
		return r.engine.RunLogs(ctx, run.ID)
	})
	if err != nil {
		logrus.WithField("run", run.ID).Debugf("Reconciler: run logs: %v", err)
		return out
	}
	if fresh := r.unseen(runLogsKey, raw); len(fresh) > 0 {
		out = append(out, jobLogs{jobID: runLogsKey, entries: fresh})
	}
	return out
}

// unseen parses raw and drops the lines already recorded under key.
func (r *Reconciler) unseen(key int64, raw string) []models.LogEntry {
	skip := r.seenLogs[key]
	var fresh []models.LogEntry
	n := 0
	for e := range logparse.Parse(raw) {
		n++
		if n > skip {
			fresh = append(fresh, e)
		}
	}
	return fresh
}

func indexOf(phases []models.Phase, id string) int {
	for i := range phases {
		if phases[i].ID == id {
			return i
		}
	}
	return -1
}

// withRetry calls fn according to the retry policy, stopping early when ctx
// is done.
func withRetry[T any](ctx context.Context, cfg *Config, fn func(context.Context) (T, error)) (T, error) {
	var (
		out T
		err error
	)
	attempts := cfg.attempts()
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return out, ctx.Err()
			case <-time.After(cfg.Backoff(i)):
			}
		}
		out, err = fn(ctx)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return out, err
		}
	}
	return out, err
}

// Package logarchive reads the static archive of past workflow runs that the
// upgrade workflow publishes next to the dashboard.
package logarchive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// IndexFile lists the run log files of the archive.
const IndexFile = "logs-index.json"

// DefaultRefresh is how often the archive reloads without file events.
const DefaultRefresh = 30 * time.Second

// Run statuses.
const (
	StatusSuccess    = "success"
	StatusFailure    = "failure"
	StatusInProgress = "in_progress"
)

// Index is the archive index document.
type Index struct {
	Files []string `json:"files"`
}

// LogLine is a timestamped job log message.
type LogLine struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// ServerStep is one step of a server upgrade.
type ServerStep struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Output    string    `json:"output,omitempty"`
}

// ServerUpgrade is the per-server outcome of the upgrade job.
type ServerUpgrade struct {
	Name   string       `json:"name"`
	IP     string       `json:"ip"`
	Status string       `json:"status"`
	Steps  []ServerStep `json:"steps,omitempty"`
}

// Job is one job of an archived run.
type Job struct {
	Status      string          `json:"status"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Logs        []LogLine       `json:"logs,omitempty"`
	Servers     []ServerUpgrade `json:"servers,omitempty"`
}

// Summary aggregates an archived run.
type Summary struct {
	TotalServers    int `json:"total_servers"`
	Successful      int `json:"successful"`
	Failed          int `json:"failed"`
	DurationSeconds int `json:"duration_seconds"`
}

// Run is one archived workflow run.
type Run struct {
	RunID        string            `json:"run_id"`
	WorkflowName string            `json:"workflow_name"`
	StartedAt    time.Time         `json:"started_at"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
	Status       string            `json:"status"`
	Inputs       map[string]string `json:"inputs"`
	Jobs         map[string]Job    `json:"jobs,omitempty"`
	Summary      *Summary          `json:"summary,omitempty"`
	Errors       []RunError        `json:"errors,omitempty"`
}

// RunError is an error recorded against an archived run.
type RunError struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Context   string    `json:"context,omitempty"`
}

// Stats counts runs by status.
type Stats struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	InProgress int `json:"in_progress"`
}

// Load reads the archive in dir, newest run first. A missing index yields
// an empty archive; unreadable run files are skipped.
func Load(dir string) ([]Run, error) {
	data, err := os.ReadFile(filepath.Join(dir, IndexFile))
	if errors.Is(err, fs.ErrNotExist) {
		logrus.Warnf("%s not found in %s, archive is empty", IndexFile, dir)
		return []Run{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("decode index: %w", err)
	}

	runs := make([]Run, 0, len(idx.Files))
	for _, name := range idx.Files {
		run, err := loadRun(dir, name)
		if err != nil {
			logrus.WithField("file", name).Warnf("Skipping archived run: %v", err)
			continue
		}
		runs = append(runs, run)
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs, nil
}

func loadRun(dir, name string) (Run, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return Run{}, fmt.Errorf("path not allowed: %s", name)
	}
	data, err := os.ReadFile(filepath.Join(dir, clean))
	if err != nil {
		return Run{}, err
	}
	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return Run{}, fmt.Errorf("decode: %w", err)
	}
	return run, nil
}

// ComputeStats counts runs by status.
func ComputeStats(runs []Run) Stats {
	st := Stats{Total: len(runs)}
	for _, r := range runs {
		switch r.Status {
		case StatusSuccess:
			st.Successful++
		case StatusFailure:
			st.Failed++
		case StatusInProgress:
			st.InProgress++
		}
	}
	return st
}

// Filter keeps runs with the given status ("" or "all" for any) whose run
// id, package, server or host class contains query.
func Filter(runs []Run, status, query string) []Run {
	query = strings.ToLower(strings.TrimSpace(query))
	out := make([]Run, 0, len(runs))
	for _, r := range runs {
		if status != "" && status != "all" && r.Status != status {
			continue
		}
		if query != "" {
			text := strings.ToLower(strings.Join([]string{
				r.RunID,
				r.Inputs["package_id"],
				r.Inputs["server_name"],
				r.Inputs["host_class"],
			}, " "))
			if !strings.Contains(text, query) {
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

// Archive caches the runs of a directory and keeps them fresh.
type Archive struct {
	dir     string
	refresh time.Duration

	mu       sync.RWMutex
	runs     []Run
	loadedAt time.Time
}

// New creates an archive for dir. refresh <= 0 uses DefaultRefresh.
func New(dir string, refresh time.Duration) *Archive {
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	return &Archive{dir: dir, refresh: refresh}
}

// Reload reads the directory again.
func (a *Archive) Reload() error {
	runs, err := Load(a.dir)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.runs = runs
	a.loadedAt = time.Now()
	a.mu.Unlock()
	return nil
}

// Runs returns the cached runs, loading them on first use.
func (a *Archive) Runs() ([]Run, error) {
	a.mu.RLock()
	loaded := !a.loadedAt.IsZero()
	runs := a.runs
	a.mu.RUnlock()
	if loaded {
		return runs, nil
	}
	if err := a.Reload(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.runs, nil
}

// Watch reloads on filesystem changes in the directory and on every refresh
// interval until ctx is done.
func (a *Archive) Watch(ctx context.Context) error {
	if err := os.MkdirAll(a.dir, 0755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(a.dir); err != nil {
		return fmt.Errorf("watch %s: %w", a.dir, err)
	}

	if err := a.Reload(); err != nil {
		logrus.Warnf("Archive reload failed: %v", err)
	}

	ticker := time.NewTicker(a.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(ev.Name, ".json") {
				continue
			}
			if err := a.Reload(); err != nil {
				logrus.Warnf("Archive reload failed: %v", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logrus.Warnf("Archive watcher error: %v", err)
		case <-ticker.C:
			if err := a.Reload(); err != nil {
				logrus.Warnf("Archive reload failed: %v", err)
			}
		}
	}
}

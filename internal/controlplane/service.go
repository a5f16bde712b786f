// Package controlplane provides the HTTP API and service layer for the
// upgrade dashboard.
package controlplane

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/playsafesec/upgradeboard/internal/audit"
	"github.com/playsafesec/upgradeboard/internal/health"
	"github.com/playsafesec/upgradeboard/internal/inventory"
	"github.com/playsafesec/upgradeboard/internal/logarchive"
	"github.com/playsafesec/upgradeboard/internal/logparse"
	"github.com/playsafesec/upgradeboard/internal/models"
	"github.com/playsafesec/upgradeboard/internal/progress"
	"github.com/playsafesec/upgradeboard/internal/report"
	"github.com/playsafesec/upgradeboard/internal/session"
	"github.com/playsafesec/upgradeboard/internal/store"
	"github.com/playsafesec/upgradeboard/internal/workflow"
)

// View is the session as served to clients.
type View struct {
	models.Session
	OverallStatus   models.PhaseStatus `json:"overallStatus"`
	PhasesCompleted int                `json:"phasesCompleted"`
	TotalPhases     int                `json:"totalPhases"`
	Engine          string             `json:"engine"`
}

// LogsResult is a filtered log listing.
type LogsResult struct {
	Entries []models.LogEntry       `json:"entries"`
	Counts  map[models.LogLevel]int `json:"counts"`
}

// ArchiveResult is a filtered listing of the run log archive.
type ArchiveResult struct {
	Runs  []logarchive.Run `json:"runs"`
	Stats logarchive.Stats `json:"stats"`
}

// Service provides the control plane business logic.
type Service struct {
	store     *store.Store
	session   *session.Store
	engine    workflow.Engine
	inventory *inventory.Service
	archive   *logarchive.Archive
	pdr       *audit.PDRWriter

	now func() time.Time
}

// NewService creates a new control plane service. engine may be nil, in
// which case upgrades are tracked without dispatching a workflow.
func NewService(st *store.Store, sess *session.Store, engine workflow.Engine, inv *inventory.Service, archive *logarchive.Archive, pdr *audit.PDRWriter) *Service {
	return &Service{
		store:     st,
		session:   sess,
		engine:    engine,
		inventory: inv,
		archive:   archive,
		pdr:       pdr,
		now:       time.Now,
	}
}

// Ping checks the database.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// View returns the current session view.
func (s *Service) View() View {
	return s.viewOf(s.session.Snapshot())
}

func (s *Service) viewOf(sess models.Session) View {
	v := View{
		Session:         sess,
		OverallStatus:   progress.OverallStatus(sess.Phases),
		PhasesCompleted: progress.CompletedCount(sess.Phases),
		TotalPhases:     len(sess.Phases),
		Engine:          "none",
	}
	if s.engine != nil {
		v.Engine = s.engine.Name()
	}
	return v
}

// Subscribe calls fn with a fresh view after every session change.
func (s *Service) Subscribe(fn func(View)) (cancel func()) {
	return s.session.Subscribe(func(sess models.Session) {
		fn(s.viewOf(sess))
	})
}

// --- Upgrade Operations ---

// StartUpgrade validates the selection, dispatches the workflow and starts
// tracking a new session.
func (s *Service) StartUpgrade(ctx context.Context, in workflow.DispatchInputs) error {
	err := s.startUpgrade(ctx, in)
	outcome, details := audit.Outcome(err)
	s.pdr.Record(audit.ActionUpgradeStart, in, outcome, details)
	return err
}

func (s *Service) startUpgrade(ctx context.Context, in workflow.DispatchInputs) error {
	if err := in.Validate(); err != nil {
		return invalid(err)
	}
	if s.session.IsRunning() {
		return ErrAlreadyRunning
	}

	if s.engine != nil {
		err := s.engine.Dispatch(ctx, in)
		outcome, details := audit.Outcome(err)
		s.pdr.Record(audit.ActionWorkflowDispatch, in, outcome, details)
		if err != nil {
			if errors.Is(err, workflow.ErrInvalidInputs) {
				return invalid(err)
			}
			return transient("dispatch workflow", err)
		}
	} else {
		logrus.Warn("No workflow engine configured, tracking upgrade without dispatch")
	}

	server := in.ServerName
	if in.TargetMode != models.ModeSingleServer {
		server = ""
	}
	s.session.StartUpgrade(in.HostClass, in.PackageID, in.TargetMode, server)
	logrus.WithFields(logrus.Fields{
		"host_class": in.HostClass,
		"package":    in.PackageID,
		"mode":       in.TargetMode,
	}).Info("Upgrade started")
	return nil
}

// PauseUpgrade pauses the session.
func (s *Service) PauseUpgrade() {
	s.session.PauseUpgrade()
	s.pdr.Record(audit.ActionUpgradePause, nil, audit.OutcomeSuccess, "")
}

// ResumeUpgrade resumes a paused session.
func (s *Service) ResumeUpgrade() {
	s.session.ResumeUpgrade()
	s.pdr.Record(audit.ActionUpgradeResume, nil, audit.OutcomeSuccess, "")
}

// ResetUpgrade discards the session, keeping inventories and health.
func (s *Service) ResetUpgrade() {
	s.session.ResetUpgrade()
	s.pdr.Record(audit.ActionUpgradeReset, nil, audit.OutcomeSuccess, "")
}

// NextPhase advances to the next phase.
func (s *Service) NextPhase() {
	s.session.NextPhase()
	s.pdr.Record(audit.ActionUpgradeNext, nil, audit.OutcomeSuccess, "")
}

// CancelRun cancels the current workflow run.
func (s *Service) CancelRun(ctx context.Context) error {
	if s.engine == nil {
		return ErrNoEngine
	}
	run := s.session.Snapshot().CurrentWorkflowRun
	if run == nil {
		return ErrNoRun
	}
	err := s.engine.CancelRun(ctx, run.ID)
	outcome, details := audit.Outcome(err)
	s.pdr.Record(audit.ActionWorkflowCancel, map[string]int64{"run_id": run.ID}, outcome, details)
	if err != nil {
		return transient("cancel run", err)
	}
	return nil
}

// UpdatePhase applies a partial update to a phase.
func (s *Service) UpdatePhase(phaseID string, u session.PhaseUpdate) error {
	err := s.session.UpdatePhase(phaseID, u)
	outcome, details := audit.Outcome(err)
	s.pdr.Record(audit.ActionPhaseUpdate, map[string]any{"phase": phaseID, "update": u}, outcome, details)
	if errors.Is(err, session.ErrInvalidUpdate) {
		return invalid(err)
	}
	return err
}

// --- Logs ---

// Logs returns the session logs matching q with per-level counts of the
// matching entries.
func (s *Service) Logs(q logparse.Query) LogsResult {
	entries := logparse.Filter(s.session.Snapshot().Logs, q)
	return LogsResult{Entries: entries, Counts: logparse.CountByLevel(entries)}
}

// LogsText renders the logs matching q as plain text.
func (s *Service) LogsText(q logparse.Query) string {
	return logparse.FormatText(logparse.Filter(s.session.Snapshot().Logs, q))
}

// --- Inventory ---

// Hosts returns the host inventory of the session, loading it when absent.
func (s *Service) Hosts(ctx context.Context) (*models.HostInventory, error) {
	if inv := s.session.Snapshot().HostInventory; inv != nil {
		return inv, nil
	}
	inv, err := s.inventory.LoadHosts(ctx)
	if err != nil {
		return nil, transient("load host inventory", err)
	}
	s.session.UpdateHostInventory(inv)
	return inv, nil
}

// Packages returns the package inventory of the session, loading it when absent.
func (s *Service) Packages(ctx context.Context) (*models.PackageInventory, error) {
	if inv := s.session.Snapshot().PackageInventory; inv != nil {
		return inv, nil
	}
	inv, err := s.inventory.LoadPackages(ctx)
	if err != nil {
		return nil, transient("load package inventory", err)
	}
	s.session.UpdatePackageInventory(inv)
	return inv, nil
}

// SaveHosts writes the host inventory and updates the session copy.
func (s *Service) SaveHosts(ctx context.Context, inv *models.HostInventory) error {
	err := s.saveInventory(s.inventory.SaveHosts(ctx, inv))
	s.recordInventory("hosts", inv, err)
	if err == nil {
		s.session.UpdateHostInventory(inv)
	}
	return err
}

// SavePackages writes the package inventory and updates the session copy.
func (s *Service) SavePackages(ctx context.Context, inv *models.PackageInventory) error {
	err := s.saveInventory(s.inventory.SavePackages(ctx, inv))
	s.recordInventory("packages", inv, err)
	if err == nil {
		s.session.UpdatePackageInventory(inv)
	}
	return err
}

func (s *Service) saveInventory(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, inventory.ErrInvalidInventory):
		return invalid(err)
	case errors.Is(err, workflow.ErrVersionConflict):
		return err
	default:
		return transient("save inventory", err)
	}
}

func (s *Service) recordInventory(kind string, inv any, err error) {
	outcome, details := audit.Outcome(err)
	s.pdr.Record(audit.ActionInventorySave, map[string]any{"kind": kind, "inventory": inv}, outcome, details)
}

// --- Health ---

// SetHealthMetrics grades and stores pushed health metrics.
func (s *Service) SetHealthMetrics(m models.HealthMetrics) (models.HealthMetrics, error) {
	evaluated, err := health.Evaluate(m, s.now())
	if err != nil {
		return m, invalid(err)
	}
	s.session.SetHealthMetrics(evaluated)
	health.Observe(evaluated)
	return evaluated, nil
}

// --- Reports ---

// ExportReport builds and archives a report of the current session.
func (s *Service) ExportReport() (*models.StoredReport, error) {
	stored, err := report.Export(s.store, s.session.Snapshot(), s.now())
	outcome, details := audit.Outcome(err)
	s.pdr.Record(audit.ActionReportExport, nil, outcome, details)
	return stored, err
}

// ListReports lists archived reports, newest first.
func (s *Service) ListReports() ([]models.StoredReport, error) {
	return s.store.ListReports()
}

// GetReport returns an archived report.
func (s *Service) GetReport(id string) (*models.StoredReport, error) {
	return s.store.GetReport(id)
}

// AuditLog returns the most recent decision records.
func (s *Service) AuditLog(limit int) ([]models.PDREntry, error) {
	return s.store.ListPDR(limit)
}

// --- Archive ---

// Archive lists archived workflow runs with the given status and search text.
func (s *Service) Archive(status, query string) (ArchiveResult, error) {
	runs, err := s.archive.Runs()
	if err != nil {
		return ArchiveResult{}, transient("load log archive", err)
	}
	return ArchiveResult{
		Runs:  logarchive.Filter(runs, status, query),
		Stats: logarchive.ComputeStats(runs),
	}, nil
}

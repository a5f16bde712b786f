// Package audit provides PDR (Process Decision Record) writing for upgrade actions.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/playsafesec/upgradeboard/internal/models"
	"github.com/playsafesec/upgradeboard/internal/store"
)

// Actions recorded by the control plane.
const (
	ActionUpgradeStart     = "upgrade.start"
	ActionUpgradePause     = "upgrade.pause"
	ActionUpgradeResume    = "upgrade.resume"
	ActionUpgradeReset     = "upgrade.reset"
	ActionUpgradeNext      = "upgrade.next"
	ActionPhaseUpdate      = "phase.update"
	ActionWorkflowDispatch = "workflow.dispatch"
	ActionWorkflowCancel   = "workflow.cancel"
	ActionInventorySave    = "inventory.save"
	ActionReportExport     = "report.export"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// PDRWriter writes Process Decision Records for audit trails.
type PDRWriter struct {
	store *store.Store
}

// NewPDRWriter creates a new PDR writer.
func NewPDRWriter(s *store.Store) *PDRWriter {
	return &PDRWriter{store: s}
}

// Record writes a PDR entry for a state-mutating action. Failures are
// logged and never propagate to the caller's operation.
func (w *PDRWriter) Record(action string, inputs any, outcome, details string) *models.PDREntry {
	entry, err := w.store.WritePDR(action, hashInputs(inputs), outcome, details)
	if err != nil {
		logrus.WithField("action", action).Warnf("audit: write pdr: %v", err)
		return nil
	}
	return entry
}

// Outcome maps an operation error to a PDR outcome and details string.
func Outcome(err error) (string, string) {
	if err != nil {
		return OutcomeFailure, err.Error()
	}
	return OutcomeSuccess, ""
}

// hashInputs creates a SHA256 hash of the inputs for reproducibility.
func hashInputs(inputs any) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

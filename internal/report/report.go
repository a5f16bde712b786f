// Package report builds the exportable summary of an upgrade session.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/playsafesec/upgradeboard/internal/health"
	"github.com/playsafesec/upgradeboard/internal/inventory"
	"github.com/playsafesec/upgradeboard/internal/models"
	"github.com/playsafesec/upgradeboard/internal/progress"
)

// Issue severities.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// UnknownVersion is reported when the selected package is not in the inventory.
const UnknownVersion = "Unknown"

// Archiver stores exported reports.
type Archiver interface {
	SaveReport(filename string, data []byte) (*models.StoredReport, error)
}

// Build assembles the report of s as of now.
func Build(s models.Session, now time.Time) models.UpgradeReport {
	now = now.UTC()

	version := UnknownVersion
	if pkg, ok := inventory.FindPackage(s.PackageInventory, s.SelectedPackage); ok {
		version = pkg.Version
	}

	summary := models.ReportSummary{
		StartTime:       now,
		OverallStatus:   progress.OverallStatus(s.Phases),
		PhasesCompleted: progress.CompletedCount(s.Phases),
		TotalPhases:     len(s.Phases),
	}
	if s.StartTime != nil {
		summary.StartTime = s.StartTime.UTC()
		summary.TotalDuration = int(math.Round(now.Sub(*s.StartTime).Minutes()))
	}
	if !s.IsRunning {
		end := now
		summary.EndTime = &end
	}

	logs := s.Logs
	if logs == nil {
		logs = []models.LogEntry{}
	}

	return models.UpgradeReport{
		Metadata: models.ReportMetadata{
			ExportedAt:     now,
			UpgradeMode:    s.UpgradeMode,
			TargetServers:  targetServers(s),
			PackageVersion: version,
		},
		Summary:       summary,
		Phases:        s.Phases,
		Logs:          logs,
		HealthMetrics: s.HealthMetrics,
		Issues:        Issues(s),
	}
}

// targetServers is the selected server, or every server of the selected class.
func targetServers(s models.Session) []string {
	if s.SelectedServer != "" {
		return []string{s.SelectedServer}
	}
	class, _ := inventory.FindClass(s.HostInventory, s.SelectedHostClass)
	names := inventory.ServerNames(class)
	if names == nil {
		names = []string{}
	}
	return names
}

// Issues lists one high issue per failed phase and one issue per unhealthy
// resource: medium when critical, low when warning.
func Issues(s models.Session) []models.ReportIssue {
	var issues []models.ReportIssue
	for _, p := range s.Phases {
		if p.Status == models.PhaseStatusFailed {
			issues = append(issues, models.ReportIssue{
				Phase:       p.ID,
				Description: fmt.Sprintf("%s failed", p.Name),
				Severity:    SeverityHigh,
			})
		}
	}
	if s.HealthMetrics != nil {
		for _, r := range health.Resources(*s.HealthMetrics) {
			var sev string
			switch r.Metric.Status {
			case models.HealthCritical:
				sev = SeverityMedium
			case models.HealthWarning:
				sev = SeverityLow
			default:
				continue
			}
			issues = append(issues, models.ReportIssue{
				Phase:       "health",
				Description: fmt.Sprintf("%s usage at %.1f%% (threshold %.0f%%)", r.Name, health.Percent(r.Metric), r.Metric.Threshold),
				Severity:    sev,
			})
		}
	}
	return issues
}

// Filename names the exported report file.
func Filename(now time.Time) string {
	return fmt.Sprintf("splunk-upgrade-report-%s.json", now.UTC().Format("2006-01-02T15-04-05.000Z"))
}

// Encode renders r as indented JSON.
func Encode(r models.UpgradeReport) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	return buf.Bytes(), nil
}

// Export builds, encodes and archives the report of s.
func Export(a Archiver, s models.Session, now time.Time) (*models.StoredReport, error) {
	data, err := Encode(Build(s, now))
	if err != nil {
		return nil, err
	}
	stored, err := a.SaveReport(Filename(now), data)
	if err != nil {
		return nil, fmt.Errorf("archive report: %w", err)
	}
	return stored, nil
}

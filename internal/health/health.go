// Package health grades the resource metrics reported for the Splunk
// deployment under upgrade.
package health

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/playsafesec/upgradeboard/internal/models"
)

// warnRatio is the fraction of the threshold at which a metric turns warning.
const warnRatio = 0.8

// ErrInvalidMetrics wraps validation failures of pushed metrics.
var ErrInvalidMetrics = errors.New("invalid health metrics")

var validate = validator.New()

var usageGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "upgradeboard_health_usage_percent",
	Help: "Last reported usage of a deployment resource, in percent.",
}, []string{"resource"})

// Classify grades a usage percentage against its threshold.
func Classify(usagePercent, threshold float64) models.HealthStatus {
	switch {
	case usagePercent >= threshold:
		return models.HealthCritical
	case usagePercent >= threshold*warnRatio:
		return models.HealthWarning
	default:
		return models.HealthHealthy
	}
}

// Percent returns the usage of m in percent.
func Percent(m models.ResourceMetric) float64 {
	if m.Total > 0 {
		return m.Usage / m.Total * 100
	}
	return m.Usage
}

// Evaluate validates m and fills in the status of every resource. A zero
// LastChecked is set to now.
func Evaluate(m models.HealthMetrics, now time.Time) (models.HealthMetrics, error) {
	if err := validate.Struct(m); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return m, fmt.Errorf("%w: %v", ErrInvalidMetrics, err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
		return m, fmt.Errorf("%w: %s", ErrInvalidMetrics, strings.Join(msgs, "; "))
	}

	for _, r := range resources(&m) {
		r.metric.Status = Classify(Percent(*r.metric), r.metric.Threshold)
	}
	if m.LastChecked.IsZero() {
		m.LastChecked = now.UTC()
	}
	return m, nil
}

// Overall is the worst status among the resources.
func Overall(m models.HealthMetrics) models.HealthStatus {
	overall := models.HealthHealthy
	for _, r := range resources(&m) {
		switch r.metric.Status {
		case models.HealthCritical:
			return models.HealthCritical
		case models.HealthWarning:
			overall = models.HealthWarning
		}
	}
	return overall
}

// Observe exports the metrics as gauges.
func Observe(m models.HealthMetrics) {
	for _, r := range resources(&m) {
		usageGauge.WithLabelValues(r.name).Set(Percent(*r.metric))
	}
}

// Resource is a named view of one metric.
type Resource struct {
	Name   string
	Metric models.ResourceMetric
}

// Resources lists the metrics in display order.
func Resources(m models.HealthMetrics) []Resource {
	rs := resources(&m)
	out := make([]Resource, len(rs))
	for i, r := range rs {
		out[i] = Resource{Name: r.name, Metric: *r.metric}
	}
	return out
}

type namedMetric struct {
	name   string
	metric *models.ResourceMetric
}

func resources(m *models.HealthMetrics) []namedMetric {
	return []namedMetric{
		{"cpu", &m.CPU},
		{"memory", &m.Memory},
		{"disk", &m.Disk},
		{"license", &m.License},
	}
}

// Package logparse turns raw workflow status text into leveled log entries.
package logparse

import (
	"fmt"
	"iter"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/playsafesec/upgradeboard/internal/checklist"
	"github.com/playsafesec/upgradeboard/internal/models"
)

var (
	timestampRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})?`)
	phaseRe     = regexp.MustCompile(`(?i)\[([a-z-]+)\]`)
	serverRe    = regexp.MustCompile(`(?i)Server:\s*(\S+)`)
)

// level markers in precedence order
var levelMarkers = []struct {
	level   models.LogLevel
	markers []string
}{
	{models.LevelError, []string{"ERROR", "❌"}},
	{models.LevelWarning, []string{"WARNING", "⚠"}},
	{models.LevelSuccess, []string{"SUCCESS", "✅"}},
}

// Clock supplies the timestamp for lines without one.
var Clock = time.Now

// Parse returns a lazy sequence of entries, one per non-blank line of raw.
// Iterating again re-parses from the start.
func Parse(raw string) iter.Seq[models.LogEntry] {
	return func(yield func(models.LogEntry) bool) {
		for line := range strings.Lines(raw) {
			if strings.TrimSpace(line) == "" {
				continue
			}
			if !yield(ParseLine(line)) {
				return
			}
		}
	}
}

// ParseAll collects Parse into a slice.
func ParseAll(raw string) []models.LogEntry {
	var out []models.LogEntry
	for e := range Parse(raw) {
		out = append(out, e)
	}
	return out
}

// ParseLine classifies a single line. Unmatched fields stay empty.
func ParseLine(line string) models.LogEntry {
	line = strings.TrimSpace(line)
	entry := models.LogEntry{
		ID:      uuid.New().String(),
		Level:   classify(line),
		Message: line,
	}

	entry.Timestamp = Clock().UTC()
	if m := timestampRe.FindString(line); m != "" {
		if ts, ok := parseTimestamp(m); ok {
			entry.Timestamp = ts
		}
	}

	for _, m := range phaseRe.FindAllStringSubmatch(line, -1) {
		if checklist.IsPhaseID(m[1]) {
			entry.Phase = strings.ToLower(m[1])
			break
		}
	}

	if m := serverRe.FindStringSubmatch(line); m != nil {
		entry.Server = m[1]
	}
	return entry
}

func classify(line string) models.LogLevel {
	for _, lm := range levelMarkers {
		for _, marker := range lm.markers {
			if strings.Contains(line, marker) {
				return lm.level
			}
		}
	}
	return models.LevelInfo
}

func parseTimestamp(s string) (time.Time, bool) {
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts.UTC(), true
	}
	// no zone: treat as UTC
	if ts, err := time.Parse("2006-01-02T15:04:05.999999999", s); err == nil {
		return ts.UTC(), true
	}
	return time.Time{}, false
}

// Query filters log entries. Empty fields match everything.
type Query struct {
	Level  models.LogLevel
	Phase  string
	Server string
	Text   string
}

// Match reports whether e satisfies q.
func (q Query) Match(e models.LogEntry) bool {
	if q.Level != "" && e.Level != q.Level {
		return false
	}
	if q.Phase != "" && !strings.EqualFold(e.Phase, q.Phase) {
		return false
	}
	if q.Server != "" && !strings.EqualFold(e.Server, q.Server) {
		return false
	}
	if q.Text != "" && !strings.Contains(strings.ToLower(e.Message), strings.ToLower(q.Text)) {
		return false
	}
	return true
}

// Filter returns the entries matching q, preserving order.
func Filter(entries []models.LogEntry, q Query) []models.LogEntry {
	out := make([]models.LogEntry, 0, len(entries))
	for _, e := range entries {
		if q.Match(e) {
			out = append(out, e)
		}
	}
	return out
}

// CountByLevel tallies entries per level; every level is present.
func CountByLevel(entries []models.LogEntry) map[models.LogLevel]int {
	counts := map[models.LogLevel]int{
		models.LevelInfo:    0,
		models.LevelSuccess: 0,
		models.LevelWarning: 0,
		models.LevelError:   0,
	}
	for _, e := range entries {
		counts[e.Level]++
	}
	return counts
}

// FormatText renders entries as "[timestamp] [LEVEL] message" lines.
func FormatText(entries []models.LogEntry) string {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "[%s] [%s] %s\n", e.Timestamp.UTC().Format(time.RFC3339), strings.ToUpper(string(e.Level)), e.Message)
	}
	return b.String()
}

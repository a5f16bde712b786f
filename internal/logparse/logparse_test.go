package logparse

import (
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playsafesec/upgradeboard/internal/models"
)

func fixedClock(t *testing.T, ts time.Time) {
	t.Helper()
	prev := Clock
	Clock = func() time.Time { return ts }
	t.Cleanup(func() { Clock = prev })
}

func TestParseLine_FullLine(t *testing.T) {
	line := "2025-12-04T15:23:45Z [cluster-manager] Server: azure_hf_1 ERROR disk full"
	e := ParseLine(line)

	assert.Equal(t, time.Date(2025, 12, 4, 15, 23, 45, 0, time.UTC), e.Timestamp)
	assert.Equal(t, models.LevelError, e.Level)
	assert.Equal(t, "cluster-manager", e.Phase)
	assert.Equal(t, "azure_hf_1", e.Server)
	assert.Equal(t, line, e.Message)
	assert.NotEmpty(t, e.ID)
}

func TestParseLine_LevelPrecedence(t *testing.T) {
	tests := []struct {
		line string
		want models.LogLevel
	}{
		{"ERROR and WARNING and SUCCESS", models.LevelError},
		{"❌ failed step", models.LevelError},
		{"WARNING: low disk, SUCCESS otherwise", models.LevelWarning},
		{"⚠️ retrying", models.LevelWarning},
		{"✅ package verified", models.LevelSuccess},
		{"SUCCESS", models.LevelSuccess},
		{"plain message", models.LevelInfo},
		{"error in lowercase is info", models.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLine(tt.line).Level, tt.line)
	}
}

func TestParseLine_Fields(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	fixedClock(t, now)

	e := ParseLine("  [INDEXERS] server:   idx01.example.com rolling restart  ")
	assert.Equal(t, "indexers", e.Phase)
	assert.Equal(t, "idx01.example.com", e.Server)
	assert.Equal(t, now, e.Timestamp, "missing timestamp falls back to clock")
	assert.Equal(t, "[INDEXERS] server:   idx01.example.com rolling restart", e.Message)

	e = ParseLine("[rollback] [validation] done")
	assert.Equal(t, "validation", e.Phase, "unknown tags are skipped")

	e = ParseLine("2025-12-04T15:23:45.123+02:00 something")
	assert.Equal(t, time.Date(2025, 12, 4, 13, 23, 45, 123000000, time.UTC), e.Timestamp)

	e = ParseLine("2025-12-04T15:23:45 no zone")
	assert.Equal(t, time.Date(2025, 12, 4, 15, 23, 45, 0, time.UTC), e.Timestamp)

	e = ParseLine("2025-13-45T99:99:99Z malformed")
	assert.Equal(t, now, e.Timestamp)
	assert.Empty(t, e.Phase)
	assert.Empty(t, e.Server)
}

func TestParse_LazyAndRestartable(t *testing.T) {
	raw := "first\n\n   \nsecond WARNING\r\nthird ✅"
	seq := Parse(raw)

	first := slices.Collect(seq)
	require.Len(t, first, 3)
	assert.Equal(t, []string{"first", "second WARNING", "third ✅"}, messages(first))

	second := slices.Collect(seq)
	assert.Equal(t, messages(first), messages(second))

	// early termination stops parsing
	n := 0
	for range seq {
		n++
		break
	}
	assert.Equal(t, 1, n)

	assert.Empty(t, ParseAll(""))
}

func TestFilterAndCounts(t *testing.T) {
	entries := ParseAll(strings.Join([]string{
		"[preparation] Server: hf1 SUCCESS downloaded",
		"[cluster-manager] Server: cm1 ERROR stop failed",
		"[cluster-manager] WARNING slow",
		"info line",
	}, "\n"))

	assert.Len(t, Filter(entries, Query{}), 4)
	assert.Len(t, Filter(entries, Query{Phase: "Cluster-Manager"}), 2)
	assert.Len(t, Filter(entries, Query{Level: models.LevelError}), 1)
	assert.Len(t, Filter(entries, Query{Server: "HF1"}), 1)
	assert.Len(t, Filter(entries, Query{Text: "SLOW"}), 1)

	counts := CountByLevel(entries)
	assert.Equal(t, 1, counts[models.LevelSuccess])
	assert.Equal(t, 1, counts[models.LevelError])
	assert.Equal(t, 1, counts[models.LevelWarning])
	assert.Equal(t, 1, counts[models.LevelInfo])
}

func TestFormatText(t *testing.T) {
	e := ParseLine("2025-12-04T15:23:45Z ERROR disk full")
	assert.Equal(t, "[2025-12-04T15:23:45Z] [ERROR] 2025-12-04T15:23:45Z ERROR disk full\n", FormatText([]models.LogEntry{e}))
}

func messages(entries []models.LogEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Message
	}
	return out
}

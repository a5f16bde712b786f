package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playsafesec/upgradeboard/internal/checklist"
	"github.com/playsafesec/upgradeboard/internal/models"
)

func TestParseStart(t *testing.T) {
	in, err := parseStart([]string{"start", "@indexers", "splunk-9.2.1", "idx01"})
	require.NoError(t, err)
	assert.Equal(t, models.ModeSingleServer, in.TargetMode)
	assert.Equal(t, "indexers", in.HostClass)
	assert.Equal(t, "splunk-9.2.1", in.PackageID)
	assert.Equal(t, "idx01", in.ServerName)

	in, err = parseStart([]string{"start-all", "search_heads", "splunk-9.2.1"})
	require.NoError(t, err)
	assert.Equal(t, models.ModeAllServersInClass, in.TargetMode)
	assert.Empty(t, in.ServerName)

	_, err = parseStart([]string{"start", "indexers"})
	assert.ErrorContains(t, err, "usage: start")
	_, err = parseStart([]string{"start-all", "indexers", "pkg", "extra"})
	assert.ErrorContains(t, err, "usage: start-all")
}

func TestSuggestions(t *testing.T) {
	s := NewSuggestions()
	s.SetInventory(
		&models.HostInventory{Classes: []models.HostClass{{
			Name:    "indexers",
			Servers: []models.Server{{Name: "idx01", IP: "10.0.0.1"}},
		}}},
		&models.PackageInventory{Packages: []models.Package{{ID: "splunk-9.2.1", Version: "9.2.1"}}},
	)

	s.Update("/pa")
	require.True(t, s.IsVisible())
	assert.Equal(t, "pause", s.Selected().Text)
	assert.Equal(t, "pause ", s.Complete("/pa"))

	s.Update("start @idx")
	require.True(t, s.IsVisible())
	assert.Equal(t, "server", s.Selected().Type)
	assert.Equal(t, "start idx01 ", s.Complete("start @idx"))

	s.Update("start indexers ")
	assert.False(t, s.IsVisible())

	s.Update("@nomatch")
	assert.False(t, s.IsVisible())
}

func TestRenderBar(t *testing.T) {
	assert.True(t, strings.HasSuffix(renderBar(40, 10), " 40%"))
	assert.True(t, strings.HasSuffix(renderBar(150, 10), "100%"))
	assert.True(t, strings.HasSuffix(renderBar(-5, 10), "  0%"))
}

func TestApp_TabCyclesViews(t *testing.T) {
	a := New("http://127.0.0.1:0")

	for _, want := range []view{viewProgress, viewHealth, viewInventory, viewLogs, viewReports, viewOverview} {
		a.Update(tea.KeyMsg{Type: tea.KeyTab})
		assert.Equal(t, want, a.view)
	}

	a.Update(tea.KeyMsg{Type: tea.KeyShiftTab})
	assert.Equal(t, viewReports, a.view)
}

func TestApp_FilterCommand(t *testing.T) {
	a := New("http://127.0.0.1:0")

	cmd := a.executeCommand("filter error")
	assert.NotNil(t, cmd)
	assert.Equal(t, models.LevelError, a.levelFilter)
	assert.Equal(t, viewLogs, a.view)

	a.executeCommand("filter all")
	assert.Equal(t, models.LogLevel(""), a.levelFilter)

	assert.Nil(t, a.executeCommand("filter verbose"))
	assert.Contains(t, a.message, "unknown level")
}

func TestApp_RefreshRendersViews(t *testing.T) {
	a := New("http://127.0.0.1:0")
	a.Update(tea.WindowSizeMsg{Width: 120, Height: 40})

	phases := checklist.NewPhases()
	phases[0].Status = models.PhaseStatusCompleted
	phases[0].Progress = 100
	a.Update(refreshedMsg{session: &SessionView{
		Session: models.Session{
			IsRunning:         true,
			CurrentPhaseIndex: 1,
			OverallProgress:   20,
			Phases:            phases,
			SelectedHostClass: "indexers",
			SelectedPackage:   "splunk-9.2.1",
			UpgradeMode:       models.ModeAllServersInClass,
		},
		PhasesCompleted: 1,
		TotalPhases:     len(phases),
		Engine:          "local",
	}})
	assert.True(t, a.daemonOnline)
	assert.True(t, a.tickPending)

	out := a.View()
	assert.Contains(t, out, "RUNNING")
	assert.Contains(t, out, "1/5 completed")
	assert.Contains(t, out, phases[1].Name)

	a.view = viewProgress
	out = a.View()
	for _, p := range phases {
		assert.Contains(t, out, p.Name)
	}

	a.view = viewHealth
	assert.Contains(t, a.View(), "No health metrics reported")
}

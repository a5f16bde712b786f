// Package tui provides the interactive terminal dashboard for upgradeboard.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/playsafesec/upgradeboard/internal/health"
	"github.com/playsafesec/upgradeboard/internal/models"
	"github.com/playsafesec/upgradeboard/internal/progress"
	"github.com/playsafesec/upgradeboard/internal/workflow"
)

var (
	// Colors
	primaryColor   = lipgloss.Color("#7C3AED")
	secondaryColor = lipgloss.Color("#6366F1")
	successColor   = lipgloss.Color("#10B981")
	warningColor   = lipgloss.Color("#F59E0B")
	errorColor     = lipgloss.Color("#EF4444")
	mutedColor     = lipgloss.Color("#6B7280")
	fgColor        = lipgloss.Color("#F9FAFB")
	cyanColor      = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	inputBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	selectedStyle = lipgloss.NewStyle().
			Background(primaryColor).
			Foreground(fgColor).
			Bold(true).
			Padding(0, 2)

	tabStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Padding(0, 1)

	activeTabStyle = lipgloss.NewStyle().
			Foreground(fgColor).
			Background(secondaryColor).
			Bold(true).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(cyanColor).
			Bold(true)

	onlineStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	offlineStyle = lipgloss.NewStyle().
			Foreground(errorColor)
)

type view int

const (
	viewOverview view = iota
	viewProgress
	viewHealth
	viewInventory
	viewLogs
	viewReports
)

var viewNames = []string{"Overview", "Progress", "Health", "Inventory", "Logs", "Reports"}

// refreshInterval is the delay between the end of one fetch and the next.
const refreshInterval = 2 * time.Second

// App is the main TUI application model.
type App struct {
	client       *Client
	input        textinput.Model
	viewport     viewport.Model
	width        int
	height       int
	view         view
	session      *SessionView
	logs         *LogsView
	reports      []ReportItem
	levelFilter  models.LogLevel
	phaseIdx     int
	message      string
	daemonOnline bool
	tickPending  bool
	suggestions  *Suggestions
}

// New creates a new TUI application.
func New(apiAddr string) *App {
	ti := textinput.New()
	ti.Placeholder = "Type: start <class> <package> <server> | pause | resume | next | report | / for commands"
	ti.Focus()
	ti.CharLimit = 256
	ti.Width = 80

	vp := viewport.New(80, 20)

	return &App{
		client:      NewClient(apiAddr),
		input:       ti,
		viewport:    vp,
		view:        viewOverview,
		suggestions: NewSuggestions(),
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		a.refresh(),
		a.checkDaemon(),
	)
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return a, tea.Quit

		case "esc":
			a.input.SetValue("")
			a.suggestions.Update("")
			a.message = ""
			return a, nil

		case "up":
			if a.suggestions.IsVisible() {
				a.suggestions.Prev()
				return a, nil
			}
			a.scroll(-1)
			return a, nil

		case "down":
			if a.suggestions.IsVisible() {
				a.suggestions.Next()
				return a, nil
			}
			a.scroll(1)
			return a, nil

		case "pgup", "pgdown":
			if a.view == viewLogs {
				var cmd tea.Cmd
				a.viewport, cmd = a.viewport.Update(msg)
				return a, cmd
			}

		case "tab", "shift+tab":
			if a.suggestions.IsVisible() {
				a.acceptSuggestion()
				return a, nil
			}
			step := 1
			if msg.String() == "shift+tab" {
				step = len(viewNames) - 1
			}
			a.view = view((int(a.view) + step) % len(viewNames))
			return a, a.refresh()

		case "enter":
			if a.suggestions.IsVisible() {
				a.acceptSuggestion()
				return a, nil
			}
			cmd := strings.TrimSpace(a.input.Value())
			if cmd != "" {
				a.input.SetValue("")
				a.suggestions.Update("")
				return a, a.executeCommand(cmd)
			}
			return a, nil
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.input.Width = msg.Width - 4
		a.viewport.Width = msg.Width
		a.viewport.Height = max(msg.Height-12, 3)
		a.syncViewport()

	case refreshedMsg:
		a.daemonOnline = msg.err == nil
		if msg.err != nil {
			a.message = "Error: " + msg.err.Error()
		} else {
			a.applyRefresh(msg)
		}
		// Schedule the next tick only after the current fetch is complete.
		if !a.tickPending {
			a.tickPending = true
			cmds = append(cmds, a.tickCmd())
		}

	case tickMsg:
		a.tickPending = false
		return a, a.refresh()

	case daemonStatusMsg:
		a.daemonOnline = msg.online

	case commandResultMsg:
		a.message = msg.message
		return a, a.refresh()

	case errMsg:
		a.message = "Error: " + msg.err.Error()
	}

	// Update input
	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	cmds = append(cmds, cmd)

	// Update suggestions based on input
	a.suggestions.Update(a.input.Value())

	return a, tea.Batch(cmds...)
}

func (a *App) acceptSuggestion() {
	a.input.SetValue(a.suggestions.Complete(a.input.Value()))
	a.input.CursorEnd()
	a.suggestions.Update("")
}

func (a *App) scroll(delta int) {
	switch a.view {
	case viewProgress:
		if a.session == nil {
			return
		}
		a.phaseIdx = min(max(a.phaseIdx+delta, 0), max(len(a.session.Phases)-1, 0))
	case viewLogs:
		if delta < 0 {
			a.viewport.LineUp(-delta)
		} else {
			a.viewport.LineDown(delta)
		}
	}
}

func (a *App) applyRefresh(msg refreshedMsg) {
	if msg.session != nil {
		a.session = msg.session
		a.suggestions.SetInventory(msg.session.HostInventory, msg.session.PackageInventory)
		if a.phaseIdx >= len(a.session.Phases) {
			a.phaseIdx = max(0, len(a.session.Phases)-1)
		}
	}
	if msg.logs != nil {
		atBottom := a.viewport.AtBottom()
		a.logs = msg.logs
		a.syncViewport()
		if atBottom {
			a.viewport.GotoBottom()
		}
	}
	if msg.reports != nil {
		a.reports = msg.reports
	}
}

func (a *App) syncViewport() {
	if a.logs == nil {
		return
	}
	a.viewport.SetContent(renderLogLines(a.logs.Entries))
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	daemonStatus := onlineStyle.Render("● DAEMON")
	if !a.daemonOnline {
		daemonStatus = offlineStyle.Render("○ DAEMON")
	}

	header := titleStyle.Render("📊 Splunk Upgrade Dashboard")
	header += "  " + daemonStatus
	if a.session != nil {
		header += "  " + lipgloss.NewStyle().Foreground(cyanColor).Render(fmt.Sprintf("[engine: %s]", a.session.Engine))
	}
	b.WriteString(header + "\n")
	b.WriteString(a.renderTabs() + "\n")

	contentHeight := a.height - 10
	if contentHeight < 5 {
		contentHeight = 10
	}

	switch a.view {
	case viewOverview:
		b.WriteString(a.renderOverview())
	case viewProgress:
		b.WriteString(a.renderProgress())
	case viewHealth:
		b.WriteString(a.renderHealth())
	case viewInventory:
		b.WriteString(a.renderInventory(contentHeight))
	case viewLogs:
		b.WriteString(a.renderLogs())
	case viewReports:
		b.WriteString(a.renderReports())
	}

	if a.message != "" {
		msgStyle := lipgloss.NewStyle().Foreground(successColor)
		if strings.HasPrefix(a.message, "Error") {
			msgStyle = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString("\n" + msgStyle.Render(a.message))
	}

	b.WriteString("\n")
	b.WriteString(inputBoxStyle.Render(a.input.View()))

	if a.suggestions.IsVisible() {
		b.WriteString("\n")
		b.WriteString(a.suggestions.Render(a.width))
	}

	b.WriteString("\n")
	status := "Tab: switch view • ↑/↓: select/scroll • /: commands • @: inventory • Ctrl+C: quit"
	b.WriteString(statusBarStyle.Width(a.width).Render(status))

	return b.String()
}

func (a *App) renderTabs() string {
	tabs := make([]string, len(viewNames))
	for i, name := range viewNames {
		if view(i) == a.view {
			tabs[i] = activeTabStyle.Render(name)
		} else {
			tabs[i] = tabStyle.Render(name)
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

func (a *App) renderOverview() string {
	var b strings.Builder
	s := a.session
	if s == nil {
		b.WriteString("\n  Loading...\n")
		return b.String()
	}

	state := lipgloss.NewStyle().Foreground(mutedColor).Render("○ IDLE")
	switch {
	case s.IsRunning && s.IsPaused:
		state = lipgloss.NewStyle().Foreground(warningColor).Render("⏸ PAUSED")
	case s.IsRunning:
		state = lipgloss.NewStyle().Foreground(primaryColor).Render("◑ RUNNING")
	case s.OverallStatus == models.PhaseStatusCompleted:
		state = lipgloss.NewStyle().Foreground(successColor).Render("● COMPLETED")
	case s.OverallStatus == models.PhaseStatusFailed:
		state = lipgloss.NewStyle().Foreground(errorColor).Render("✗ FAILED")
	}

	b.WriteString("\n")
	fmt.Fprintf(&b, "  %s %s\n", labelStyle.Render("Status:   "), state)
	fmt.Fprintf(&b, "  %s %s\n", labelStyle.Render("Progress: "), renderBar(s.OverallProgress, 40))
	fmt.Fprintf(&b, "  %s %d/%d completed\n", labelStyle.Render("Phases:   "), s.PhasesCompleted, s.TotalPhases)
	if s.CurrentPhaseIndex >= 0 && s.CurrentPhaseIndex < len(s.Phases) {
		fmt.Fprintf(&b, "  %s %s\n", labelStyle.Render("Current:  "), s.Phases[s.CurrentPhaseIndex].Name)
	}

	b.WriteString("\n")
	target := s.SelectedServer
	if s.UpgradeMode == models.ModeAllServersInClass {
		target = "all servers"
	}
	fmt.Fprintf(&b, "  %s %s\n", labelStyle.Render("Class:    "), orDash(s.SelectedHostClass))
	fmt.Fprintf(&b, "  %s %s\n", labelStyle.Render("Target:   "), orDash(target))
	fmt.Fprintf(&b, "  %s %s\n", labelStyle.Render("Package:  "), orDash(s.SelectedPackage))

	if s.StartTime != nil {
		fmt.Fprintf(&b, "  %s %s\n", labelStyle.Render("Started:  "), s.StartTime.Local().Format("15:04:05"))
	}
	if s.EstimatedEndTime != nil && s.IsRunning {
		remaining := int(time.Until(*s.EstimatedEndTime).Round(time.Minute).Minutes())
		fmt.Fprintf(&b, "  %s %s (%s remaining)\n", labelStyle.Render("ETA:      "),
			s.EstimatedEndTime.Local().Format("15:04"), progress.FormatDuration(max(remaining, 0)))
	}

	if run := s.CurrentWorkflowRun; run != nil {
		b.WriteString("\n")
		fmt.Fprintf(&b, "  %s #%d %s %s\n", labelStyle.Render("Run:      "), run.RunNumber, run.Status, run.Conclusion)
		if run.HTMLURL != "" {
			b.WriteString("  " + helpStyle.Render(run.HTMLURL) + "\n")
		}
		for _, job := range s.WorkflowJobs {
			fmt.Fprintf(&b, "    %s %s\n", formatJob(job), job.Name)
		}
	}
	return b.String()
}

func (a *App) renderProgress() string {
	var b strings.Builder
	s := a.session
	if s == nil {
		b.WriteString("\n  Loading...\n")
		return b.String()
	}

	b.WriteString("\n")
	for i, phase := range s.Phases {
		est := helpStyle.Render("~" + progress.FormatDuration(phase.EstimatedDuration))
		line := fmt.Sprintf("%s %-26s %s %s", formatStatusPlain(phase.Status), phase.Name, renderBar(phase.Progress, 20), est)
		if i == a.phaseIdx {
			b.WriteString(selectedStyle.Render("▶ "+line) + "\n")
		} else {
			b.WriteString("    " + line + "\n")
		}
	}

	if a.phaseIdx < len(s.Phases) {
		phase := s.Phases[a.phaseIdx]
		b.WriteString("\n  " + lipgloss.NewStyle().Bold(true).Render("📋 "+phase.Name) + "\n")
		for _, task := range phase.Tasks {
			req := ""
			if task.Required {
				req = lipgloss.NewStyle().Foreground(warningColor).Render(" *")
			}
			fmt.Fprintf(&b, "    %s %s%s\n", formatStatus(task.Status), task.Title, req)
			for _, sub := range task.Subtasks {
				fmt.Fprintf(&b, "        %s %s\n", formatStatus(sub.Status), sub.Title)
			}
		}
	}
	return b.String()
}

func (a *App) renderHealth() string {
	var b strings.Builder
	b.WriteString("\n")
	if a.session == nil || a.session.HealthMetrics == nil {
		b.WriteString("  " + helpStyle.Render("No health metrics reported. POST /health-metrics to publish.") + "\n")
		return b.String()
	}

	m := *a.session.HealthMetrics
	fmt.Fprintf(&b, "  %s %s\n\n", labelStyle.Render("Overall:"), formatHealth(health.Overall(m)))
	for _, r := range health.Resources(m) {
		pct := health.Percent(r.Metric)
		fmt.Fprintf(&b, "  %-8s %s  threshold %.0f%%  %s\n",
			r.Name, renderBar(int(pct), 30), r.Metric.Threshold, formatHealth(r.Metric.Status))
	}
	if !m.LastChecked.IsZero() {
		b.WriteString("\n  " + helpStyle.Render("Last checked "+m.LastChecked.Local().Format("15:04:05")) + "\n")
	}
	return b.String()
}

func (a *App) renderInventory(height int) string {
	var b strings.Builder
	b.WriteString("\n")
	if a.session == nil {
		b.WriteString("  Loading...\n")
		return b.String()
	}

	lines := 0
	if inv := a.session.HostInventory; inv != nil {
		b.WriteString("  " + labelStyle.Render("Host classes") + "\n")
		for _, c := range inv.Classes {
			fmt.Fprintf(&b, "    %s (%d)\n", c.Name, len(c.Servers))
			lines++
			for _, srv := range c.Servers {
				if lines >= height {
					break
				}
				fmt.Fprintf(&b, "      • %-24s %-15s %s\n", srv.Name, srv.IP, helpStyle.Render(srv.Role))
				lines++
			}
		}
	}
	if inv := a.session.PackageInventory; inv != nil {
		b.WriteString("\n  " + labelStyle.Render("Packages") + "\n")
		for _, p := range inv.Packages {
			fmt.Fprintf(&b, "    %-28s %-10s %s\n", p.ID, p.Version, helpStyle.Render(p.Type+" "+p.Platform))
		}
	}
	return b.String()
}

func (a *App) renderLogs() string {
	var b strings.Builder
	filter := "ALL"
	if a.levelFilter != "" {
		filter = strings.ToUpper(string(a.levelFilter))
	}
	counts := ""
	if a.logs != nil {
		counts = fmt.Sprintf("info %d • success %d • warning %d • error %d",
			a.logs.Counts[models.LevelInfo], a.logs.Counts[models.LevelSuccess],
			a.logs.Counts[models.LevelWarning], a.logs.Counts[models.LevelError])
	}
	b.WriteString(lipgloss.NewStyle().Foreground(mutedColor).Render(fmt.Sprintf("Filter: %s  %s", filter, counts)) + "\n")
	if a.logs == nil || len(a.logs.Entries) == 0 {
		b.WriteString("\n  No logs.\n")
		return b.String()
	}
	b.WriteString(a.viewport.View())
	return b.String()
}

func (a *App) renderReports() string {
	var b strings.Builder
	b.WriteString("\n")
	if len(a.reports) == 0 {
		b.WriteString("  No reports yet.\n")
	}
	for _, r := range a.reports {
		fmt.Fprintf(&b, "  • %s  %s\n", r.Filename, helpStyle.Render(r.CreatedAt.Local().Format("2006-01-02 15:04")))
	}
	b.WriteString("\n  " + helpStyle.Render("Commands: report") + "\n")
	return b.String()
}

func renderLogLines(entries []models.LogEntry) string {
	var b strings.Builder
	for _, e := range entries {
		scope := ""
		if e.Phase != "" {
			scope = " [" + e.Phase + "]"
		}
		if e.Server != "" {
			scope += " (" + e.Server + ")"
		}
		fmt.Fprintf(&b, "%s %s%s %s\n", e.Timestamp.Local().Format("15:04:05"), formatLevel(e.Level), scope, e.Message)
	}
	return b.String()
}

// renderBar draws a percentage bar of the given cell width.
func renderBar(pct, width int) string {
	pct = progress.Clamp(pct)
	filled := pct * width / 100
	color := primaryColor
	if pct == 100 {
		color = successColor
	}
	bar := lipgloss.NewStyle().Foreground(color).Render(strings.Repeat("█", filled)) +
		lipgloss.NewStyle().Foreground(mutedColor).Render(strings.Repeat("░", width-filled))
	return fmt.Sprintf("%s %3d%%", bar, pct)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatStatus(status models.PhaseStatus) string {
	switch status {
	case models.PhaseStatusPending:
		return lipgloss.NewStyle().Foreground(mutedColor).Render("○")
	case models.PhaseStatusInProgress:
		return lipgloss.NewStyle().Foreground(primaryColor).Render("◑")
	case models.PhaseStatusCompleted:
		return lipgloss.NewStyle().Foreground(successColor).Render("●")
	case models.PhaseStatusFailed:
		return lipgloss.NewStyle().Foreground(errorColor).Render("✗")
	default:
		return string(status)
	}
}

func formatStatusPlain(status models.PhaseStatus) string {
	switch status {
	case models.PhaseStatusPending:
		return "○"
	case models.PhaseStatusInProgress:
		return "◑"
	case models.PhaseStatusCompleted:
		return "●"
	case models.PhaseStatusFailed:
		return "✗"
	default:
		return "?"
	}
}

func formatJob(job models.WorkflowJob) string {
	switch {
	case job.Status != models.JobCompleted:
		return lipgloss.NewStyle().Foreground(primaryColor).Render("◑")
	case job.Conclusion == models.ConclusionSuccess:
		return lipgloss.NewStyle().Foreground(successColor).Render("●")
	case job.Conclusion == models.ConclusionFailure:
		return lipgloss.NewStyle().Foreground(errorColor).Render("✗")
	default:
		return lipgloss.NewStyle().Foreground(mutedColor).Render("○")
	}
}

func formatHealth(status models.HealthStatus) string {
	switch status {
	case models.HealthCritical:
		return lipgloss.NewStyle().Foreground(errorColor).Bold(true).Render("CRITICAL")
	case models.HealthWarning:
		return lipgloss.NewStyle().Foreground(warningColor).Render("WARNING")
	default:
		return lipgloss.NewStyle().Foreground(successColor).Render("HEALTHY")
	}
}

func formatLevel(level models.LogLevel) string {
	label := fmt.Sprintf("%-7s", strings.ToUpper(string(level)))
	switch level {
	case models.LevelError:
		return lipgloss.NewStyle().Foreground(errorColor).Render(label)
	case models.LevelWarning:
		return lipgloss.NewStyle().Foreground(warningColor).Render(label)
	case models.LevelSuccess:
		return lipgloss.NewStyle().Foreground(successColor).Render(label)
	default:
		return lipgloss.NewStyle().Foreground(cyanColor).Render(label)
	}
}

// parseStart turns "start <class> <package> <server>" or
// "start-all <class> <package>" into dispatch inputs.
func parseStart(args []string) (workflow.DispatchInputs, error) {
	for i, arg := range args {
		args[i] = strings.TrimPrefix(arg, "@")
	}
	switch {
	case len(args) == 4 && args[0] == "start":
		return workflow.DispatchInputs{
			TargetMode: models.ModeSingleServer,
			HostClass:  args[1],
			ServerName: args[3],
			PackageID:  args[2],
		}, nil
	case len(args) == 3 && args[0] == "start-all":
		return workflow.DispatchInputs{
			TargetMode: models.ModeAllServersInClass,
			HostClass:  args[1],
			PackageID:  args[2],
		}, nil
	case args[0] == "start":
		return workflow.DispatchInputs{}, fmt.Errorf("usage: start <class> <package> <server>")
	default:
		return workflow.DispatchInputs{}, fmt.Errorf("usage: start-all <class> <package>")
	}
}

func (a *App) executeCommand(input string) tea.Cmd {
	args := strings.Fields(strings.TrimPrefix(input, "/"))
	if len(args) == 0 {
		return nil
	}
	cmd := args[0]

	// Local state changes happen here, not inside the returned command.
	switch cmd {
	case "q", "quit", "exit":
		return tea.Quit

	case "filter":
		if len(args) != 2 {
			a.message = "Usage: filter <info|success|warning|error|all>"
			return nil
		}
		level := models.LogLevel(strings.ToLower(args[1]))
		switch level {
		case "all":
			level = ""
		case models.LevelInfo, models.LevelSuccess, models.LevelWarning, models.LevelError:
		default:
			a.message = "Error: unknown level " + args[1]
			return nil
		}
		a.levelFilter = level
		a.view = viewLogs
		a.viewport.GotoTop()
		return a.refresh()

	case "start", "start-all":
		in, err := parseStart(args)
		if err != nil {
			a.message = err.Error()
			return nil
		}
		a.view = viewProgress
		a.phaseIdx = 0
		return func() tea.Msg {
			if err := a.client.Start(in); err != nil {
				return errMsg{err}
			}
			return commandResultMsg{fmt.Sprintf("✓ Upgrade started: %s → %s", in.HostClass, in.PackageID)}
		}
	}

	return func() tea.Msg {
		switch cmd {
		case "pause", "resume", "reset", "next", "cancel":
			if err := a.client.Control(cmd); err != nil {
				return errMsg{err}
			}
			return commandResultMsg{fmt.Sprintf("✓ %s", cmd)}

		case "report":
			item, err := a.client.ExportReport()
			if err != nil {
				return errMsg{err}
			}
			return commandResultMsg{fmt.Sprintf("✓ Report saved: %s", item.Filename)}

		default:
			return commandResultMsg{fmt.Sprintf("Unknown: %s (try: start, pause, resume, next, report)", cmd)}
		}
	}
}

type commandResultMsg struct {
	message string
}

type errMsg struct {
	err error
}

type daemonStatusMsg struct {
	online bool
}

// refreshedMsg carries the data of one refresh; logs and reports are only
// fetched while their view is shown.
type refreshedMsg struct {
	session *SessionView
	logs    *LogsView
	reports []ReportItem
	err     error
}

type tickMsg time.Time

func (a *App) refresh() tea.Cmd {
	current := a.view
	level := a.levelFilter
	return func() tea.Msg {
		var msg refreshedMsg
		msg.session, msg.err = a.client.Session()
		if msg.err != nil {
			return msg
		}
		switch current {
		case viewLogs:
			msg.logs, msg.err = a.client.Logs(level)
		case viewReports:
			msg.reports, msg.err = a.client.ListReports()
			if msg.err == nil && msg.reports == nil {
				msg.reports = []ReportItem{}
			}
		}
		return msg
	}
}

func (a *App) checkDaemon() tea.Cmd {
	return func() tea.Msg {
		online, _ := a.client.CheckHealth()
		return daemonStatusMsg{online}
	}
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

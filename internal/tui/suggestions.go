package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/playsafesec/upgradeboard/internal/models"
)

// Suggestions provides autocomplete for commands and inventory references
type Suggestions struct {
	items        []SuggestionItem
	refs         []SuggestionItem
	filtered     []SuggestionItem
	selectedIdx  int
	visible      bool
	prefix       string // "/" or "@"
	currentInput string
}

// SuggestionItem represents a single autocomplete suggestion
type SuggestionItem struct {
	Text        string
	Description string
	Type        string // "command", "class", "server", "package"
}

var commandSuggestions = []SuggestionItem{
	{Text: "start", Description: "start <class> <package> <server>: upgrade one server", Type: "command"},
	{Text: "start-all", Description: "start-all <class> <package>: upgrade every server of a class", Type: "command"},
	{Text: "pause", Description: "Pause the upgrade session", Type: "command"},
	{Text: "resume", Description: "Resume a paused session", Type: "command"},
	{Text: "next", Description: "Advance to the next phase", Type: "command"},
	{Text: "reset", Description: "Discard the session", Type: "command"},
	{Text: "cancel", Description: "Cancel the current workflow run", Type: "command"},
	{Text: "report", Description: "Export a report of the session", Type: "command"},
	{Text: "filter", Description: "filter <info|success|warning|error|all>: filter logs", Type: "command"},
	{Text: "q", Description: "Quit", Type: "command"},
}

// NewSuggestions creates a new suggestions handler
func NewSuggestions() *Suggestions {
	return &Suggestions{
		items:   commandSuggestions,
		visible: false,
	}
}

// SetInventory replaces the reference suggestions offered after "@".
func (s *Suggestions) SetInventory(hosts *models.HostInventory, packages *models.PackageInventory) {
	var refs []SuggestionItem
	if hosts != nil {
		for _, c := range hosts.Classes {
			refs = append(refs, SuggestionItem{Text: c.Name, Description: fmt.Sprintf("%d servers", len(c.Servers)), Type: "class"})
			for _, srv := range c.Servers {
				refs = append(refs, SuggestionItem{Text: srv.Name, Description: srv.IP, Type: "server"})
			}
		}
	}
	if packages != nil {
		for _, p := range packages.Packages {
			refs = append(refs, SuggestionItem{Text: p.ID, Description: p.Name + " " + p.Version, Type: "package"})
		}
	}
	s.refs = refs
}

// Update updates suggestions based on current input
func (s *Suggestions) Update(input string) {
	s.currentInput = input
	if input == "" {
		s.hide()
		return
	}

	// "/" only triggers at the start of the input, "@" on the word being typed.
	word := lastWord(input)
	switch {
	case strings.HasPrefix(input, "/") && !strings.Contains(input, " "):
		s.prefix = "/"
		s.items = commandSuggestions
		s.visible = true
		s.filter(strings.ToLower(strings.TrimPrefix(input, "/")))
	case strings.HasPrefix(word, "@"):
		s.prefix = "@"
		s.items = s.refs
		s.visible = true
		s.filter(strings.ToLower(strings.TrimPrefix(word, "@")))
	default:
		s.hide()
	}
}

func (s *Suggestions) hide() {
	s.visible = false
	s.filtered = nil
	s.prefix = ""
}

func lastWord(input string) string {
	if strings.HasSuffix(input, " ") {
		return ""
	}
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

// Complete returns input with the word being typed replaced by the selected
// suggestion.
func (s *Suggestions) Complete(input string) string {
	sel := s.Selected()
	if sel == nil {
		return input
	}
	if s.prefix == "/" {
		return sel.Text + " "
	}
	word := lastWord(input)
	return strings.TrimSuffix(input, word) + sel.Text + " "
}

func (s *Suggestions) filter(query string) {
	if query == "" {
		s.filtered = s.items
		s.selectedIdx = 0
		return
	}

	s.filtered = []SuggestionItem{}
	for _, item := range s.items {
		if strings.Contains(strings.ToLower(item.Text), query) {
			s.filtered = append(s.filtered, item)
		}
	}
	s.selectedIdx = 0
}

// Next moves to the next suggestion
func (s *Suggestions) Next() {
	if len(s.filtered) == 0 {
		return
	}
	s.selectedIdx = (s.selectedIdx + 1) % len(s.filtered)
}

// Prev moves to the previous suggestion
func (s *Suggestions) Prev() {
	if len(s.filtered) == 0 {
		return
	}
	s.selectedIdx--
	if s.selectedIdx < 0 {
		s.selectedIdx = len(s.filtered) - 1
	}
}

// Selected returns the currently selected suggestion
func (s *Suggestions) Selected() *SuggestionItem {
	if !s.visible || len(s.filtered) == 0 || s.selectedIdx >= len(s.filtered) {
		return nil
	}
	return &s.filtered[s.selectedIdx]
}

// IsVisible returns whether suggestions are currently visible
func (s *Suggestions) IsVisible() bool {
	return s.visible && len(s.filtered) > 0
}

// Render renders the suggestions dropdown
func (s *Suggestions) Render(width int) string {
	if !s.IsVisible() {
		return ""
	}

	var b strings.Builder

	suggestionStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(secondaryColor).
		Padding(0, 1).
		Width(max(width-4, 20))

	itemStyle := lipgloss.NewStyle().
		Foreground(fgColor)

	descStyle := lipgloss.NewStyle().
		Foreground(mutedColor).
		Italic(true)

	header := "💡 Commands"
	if s.prefix == "@" {
		header = "🔗 Inventory"
	}
	b.WriteString(lipgloss.NewStyle().Bold(true).Foreground(primaryColor).Render(header))
	b.WriteString("\n")

	// Show max 5 suggestions
	maxVisible := 5
	for i, item := range s.filtered {
		if i >= maxVisible {
			more := len(s.filtered) - maxVisible
			b.WriteString(descStyle.Render(fmt.Sprintf("  ... and %d more", more)))
			break
		}

		line := ""
		if i == s.selectedIdx {
			line = selectedStyle.Render("▶ " + item.Text)
			if item.Description != "" {
				line += " " + selectedStyle.Render(item.Description)
			}
		} else {
			line = itemStyle.Render("  " + item.Text)
			if item.Description != "" {
				line += " " + descStyle.Render(item.Description)
			}
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return suggestionStyle.Render(b.String())
}

package popup

import (
	"strings"

	"github.com/76creates/stickers/flexbox"
	"github.com/charmbracelet/lipgloss"
)

var (
	PrimaryColor = lipgloss.Color("#7D56F4")
	MutedColor   = lipgloss.Color("#6C6C6C")
	ErrorColor   = lipgloss.Color("#FF5F87")
	FlagColor    = lipgloss.Color("#FFAF00")

	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(PrimaryColor).
			Padding(0, 1)

	StatusStyle = lipgloss.NewStyle().
			Foreground(MutedColor).
			Padding(0, 1)

	LogPaneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(MutedColor).
			Padding(0, 1)

	NamesPaneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(MutedColor).
			Padding(0, 1)

	TimestampStyle = lipgloss.NewStyle().Foreground(MutedColor)
	NameStyle      = lipgloss.NewStyle().Bold(true)
	SelfStyle      = lipgloss.NewStyle().Bold(true).Foreground(PrimaryColor)
	FlaggedStyle   = lipgloss.NewStyle().Foreground(FlagColor)
	EventStyle     = lipgloss.NewStyle().Foreground(MutedColor).Italic(true)
	ErrorStyle     = lipgloss.NewStyle().Foreground(ErrorColor).Bold(true)
)

const introText = "To chat, type messages in the textbox and press Return to send."

// resize lays the viewport out for a new terminal size
func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height

	logWidth, _ := m.paneWidths()
	// header, input and the pane borders
	m.viewport.Width = max(logWidth-4, 10)
	m.viewport.Height = max(height-5, 3)
	m.input.Width = max(width-4, 10)
	m.refreshLog()
}

func (m *Model) paneWidths() (logWidth, namesWidth int) {
	namesWidth = m.width/4 - 2
	if namesWidth < 16 {
		namesWidth = 16
	}
	return m.width - namesWidth, namesWidth
}

// refreshLog re-renders the log into the viewport and scrolls to the end
func (m *Model) refreshLog() {
	m.viewport.SetContent(m.renderLog())
	m.viewport.GotoBottom()
}

// View renders the popup
func (m *Model) View() string {
	if m.width == 0 {
		return "Connecting..."
	}

	_, namesWidth := m.paneWidths()
	paneHeight := m.height - 3

	layout := flexbox.NewHorizontal(m.width, paneHeight)
	logCol := layout.NewColumn().AddCells(
		flexbox.NewCell(3, 1).
			SetStyle(LogPaneStyle.Height(paneHeight - 2)).
			SetContent(m.viewport.View()),
	)
	namesCol := layout.NewColumn().AddCells(
		flexbox.NewCell(1, 1).
			SetStyle(NamesPaneStyle.Width(namesWidth).Height(paneHeight - 2)).
			SetContent(m.renderNames()),
	)
	layout.AddColumns([]*flexbox.Column{logCol, namesCol})

	return lipgloss.JoinVertical(
		lipgloss.Left,
		m.renderHeader(),
		layout.Render(),
		m.input.View(),
	)
}

func (m *Model) renderHeader() string {
	title := m.title
	if title == "" {
		title = m.identity.Channel
	}
	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		HeaderStyle.Render(title),
		StatusStyle.Render(m.state.String()),
	)
}

// renderLog renders entries grouped under HH:MM timestamps
func (m *Model) renderLog() string {
	if len(m.entries) == 0 {
		return EventStyle.Render(introText)
	}

	var b strings.Builder
	lastDisplayTime := ""
	for _, e := range m.entries {
		if t := e.DisplayTime(m.loc); t != lastDisplayTime {
			lastDisplayTime = t
			b.WriteString(TimestampStyle.Render(t))
			b.WriteString("\n")
		}
		b.WriteString(renderEntry(e))
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func renderEntry(e Entry) string {
	style := lipgloss.NewStyle()
	switch {
	case e.Kind == EntryError:
		return ErrorStyle.Render(strError) + "\n" + e.Text
	case e.Flagged && e.Kind != EntrySay:
		style = FlaggedStyle
	case e.Kind != EntrySay:
		style = EventStyle
	}

	if e.Kind == EntrySay {
		name := NameStyle
		if e.Self {
			name = SelfStyle
		}
		return name.Render("<"+e.DisplayName+">") + " " + e.Text
	}
	return style.Render(e.Line())
}

func (m *Model) renderNames() string {
	names := m.presence.Sorted()
	lines := make([]string, 0, len(names)+2)
	lines = append(lines, NameStyle.Render("Here now"), "")
	if len(names) == 0 {
		lines = append(lines, EventStyle.Render("nobody"))
	}
	for _, n := range names {
		if n.User == m.identity.User {
			lines = append(lines, SelfStyle.Render(n.DisplayName))
			continue
		}
		lines = append(lines, n.DisplayName)
	}
	return strings.Join(lines, "\n")
}

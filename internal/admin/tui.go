package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/xiy/tiermem/internal/events"
	"github.com/xiy/tiermem/internal/memory"
	"github.com/xiy/tiermem/internal/retrieval"
)

type tickMsg time.Time
type dashboardMsg struct {
	sessions []memory.SessionStats
	cache    retrieval.CacheStats
	recent   []events.Event
	err      error
	duration time.Duration
}

// Source feeds the dashboard: session snapshots and cache counters from the
// manager, recent activity from the event ring.
type Source struct {
	Manager *memory.Manager
	Events  *events.Ring
}

type model struct {
	ctx         context.Context
	src         Source
	sessions    []memory.SessionStats
	cache       retrieval.CacheStats
	recent      []events.Event
	lastErr     error
	lastTick    time.Time
	logLines    []string
	maxLogs     int
	eventsLimit int
	width       int
	height      int
}

// Run starts a lightweight local admin dashboard.
func Run(ctx context.Context, src Source) error {
	m := model{
		ctx:         ctx,
		src:         src,
		maxLogs:     10,
		eventsLimit: 8,
	}
	m = m.appendLog("admin UI started")
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m model) Init() tea.Cmd {
	return tea.Batch(fetchDashboardCmd(m.ctx, m.src, m.eventsLimit), tickCmd())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m = m.appendLog("received quit signal")
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tickMsg:
		m.lastTick = time.Time(msg)
		return m, tea.Batch(fetchDashboardCmd(m.ctx, m.src, m.eventsLimit), tickCmd())
	case dashboardMsg:
		m.lastErr = msg.err
		if msg.err == nil {
			m.sessions = msg.sessions
			m.cache = msg.cache
			m.recent = msg.recent
			m = m.appendLog(fmt.Sprintf(
				"refresh ok sessions=%d cached=%d events=%d (%s)",
				len(msg.sessions),
				msg.cache.Size,
				len(msg.recent),
				formatDuration(msg.duration),
			))
		} else {
			m = m.appendLog(fmt.Sprintf("refresh error: %v", msg.err))
		}
	}
	return m, nil
}

func (m model) View() string {
	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).Render("tiermem admin")
	meta := lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render("q to quit • refresh every 2s")

	statsBody := m.renderStats()
	logBody := "(no log events yet)"
	if len(m.logLines) > 0 {
		logBody = strings.Join(m.logLines, "\n")
	}

	paneWidth := 54
	if m.width > 0 {
		paneWidth = max(38, (m.width-3)/2)
	}
	paneHeight := 9
	if m.height > 0 {
		paneHeight = max(8, (m.height-8)/2)
	}

	topRow := joinColumns(
		renderPane("Stats", statsBody, paneWidth, paneHeight),
		renderPane("General Logs", logBody, paneWidth, paneHeight),
	)
	bottomRow := joinColumns(
		renderPane("Sessions", formatSessionsPane(m.sessions), paneWidth, paneHeight),
		renderPane("Recent Events", formatEventsPane(m.recent), paneWidth, paneHeight),
	)

	return lipgloss.JoinVertical(
		lipgloss.Left,
		title,
		meta,
		"",
		topRow,
		bottomRow,
	)
}

func (m model) renderStats() string {
	stored, pending, buffered := 0, 0, 0
	for _, s := range m.sessions {
		stored += s.StoredMemories
		pending += s.PendingItems
		buffered += s.BufferMessages
	}
	body := fmt.Sprintf(
		"Open sessions:   %d\nStored memories: %d\nPending:         %d\nBuffered msgs:   %d\nCache:           %d entries, %d hits / %d misses\nLast refresh:    %s",
		len(m.sessions),
		stored,
		pending,
		buffered,
		m.cache.Size,
		m.cache.Hits,
		m.cache.Misses,
		formatTime(m.lastTick),
	)
	if m.lastErr != nil {
		body += "\n\nLast error: " + truncateText(compactWhitespace(m.lastErr.Error()), 120)
	}
	return body
}

func fetchDashboardCmd(ctx context.Context, src Source, eventsLimit int) tea.Cmd {
	return func() tea.Msg {
		start := time.Now()
		sessions, err := src.Manager.Overview(ctx)
		if err != nil {
			return dashboardMsg{err: err, duration: time.Since(start)}
		}

		var recent []events.Event
		if src.Events != nil {
			recent = src.Events.Recent(eventsLimit)
		}

		return dashboardMsg{
			sessions: sessions,
			cache:    src.Manager.CacheStats(),
			recent:   recent,
			duration: time.Since(start),
		}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func (m model) appendLog(line string) model {
	if strings.TrimSpace(line) == "" {
		return m
	}
	entry := fmt.Sprintf("[%s] %s", time.Now().UTC().Format("15:04:05"), line)
	m.logLines = append(m.logLines, entry)
	if m.maxLogs <= 0 {
		m.maxLogs = 10
	}
	if len(m.logLines) > m.maxLogs {
		m.logLines = m.logLines[len(m.logLines)-m.maxLogs:]
	}
	return m
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return d.String()
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Round(10 * time.Millisecond).String()
}

func renderPane(title, body string, width, height int) string {
	style := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(1, 2)
	if width > 0 {
		style = style.Width(width)
	}
	if height > 0 {
		style = style.Height(height)
	}
	return style.Render(title + "\n\n" + body)
}

func joinColumns(left, right string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, left, " ", right)
}

func formatSessionsPane(rows []memory.SessionStats) string {
	if len(rows) == 0 {
		return "(no open sessions)"
	}
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		line := fmt.Sprintf(
			"%-16s mem=%-4d pend=%-3d ctx=%-3d buf=%d/%dtok",
			truncateText(row.SessionID, 16),
			row.StoredMemories,
			row.PendingItems,
			row.ContextEntries,
			row.BufferMessages,
			row.BufferTokens,
		)
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func formatEventsPane(rows []events.Event) string {
	if len(rows) == 0 {
		return "(no events yet)"
	}
	lines := make([]string, 0, len(rows))
	for _, ev := range rows {
		detail := ""
		if b, err := json.Marshal(ev.Data); err == nil {
			detail = truncateText(compactWhitespace(string(b)), 48)
		}
		line := fmt.Sprintf(
			"[%s] %-18s %s",
			formatClock(ev.Time),
			truncateText(ev.Type, 18),
			detail,
		)
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func formatClock(t time.Time) string {
	if t.IsZero() {
		return "--:--:--"
	}
	return t.UTC().Format("15:04:05")
}

func truncateText(s string, limit int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	if limit <= 3 {
		return string(r[:limit])
	}
	return string(r[:limit-3]) + "..."
}

func compactWhitespace(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}

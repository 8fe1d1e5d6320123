// Package tui implements the interactive event-log viewer behind
// "swarmctl watch": a scrolling, severity-colored feed of bus events
// polled from the shared store, with a substring filter. swarmctl runs as
// a separate process from swarmd, so the viewer reads the persisted log
// rather than subscribing to the daemon's in-memory bus.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/abathur/swarm/pkg/swarmmodel"
)

// EventSource reads persisted events after a given sequence number.
type EventSource interface {
	From(ctx context.Context, after uint64, limit int) ([]*swarmmodel.Event, error)
	LatestSequence(ctx context.Context) (uint64, error)
}

const (
	pollEvery = time.Second
	fetchSize = 200
	maxLines  = 2000
)

type tickMsg time.Time

type eventsMsg struct {
	events []*swarmmodel.Event
	err    error
}

// WatchModel is the bubbletea model for the event viewer.
type WatchModel struct {
	source  EventSource
	lastSeq uint64

	events []*swarmmodel.Event
	errMsg string

	filter    textinput.Model
	filtering bool

	width        int
	height       int
	scrollOffset int
	autoScroll   bool

	titleStyle    lipgloss.Style
	infoStyle     lipgloss.Style
	warnStyle     lipgloss.Style
	errorStyle    lipgloss.Style
	criticalStyle lipgloss.Style
	timeStyle     lipgloss.Style
	categoryStyle lipgloss.Style
	hintStyle     lipgloss.Style
}

// NewWatch creates a WatchModel that starts tailing after the store's
// current latest sequence.
func NewWatch(ctx context.Context, source EventSource) (*WatchModel, error) {
	last, err := source.LatestSequence(ctx)
	if err != nil {
		return nil, err
	}

	filter := textinput.New()
	filter.Placeholder = "filter"
	filter.Prompt = "/"
	filter.CharLimit = 64

	return &WatchModel{
		source:     source,
		lastSeq:    last,
		filter:     filter,
		autoScroll: true,
		width:      80,
		height:     24,

		titleStyle:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("45")),
		infoStyle:     lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		warnStyle:     lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		errorStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		criticalStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		timeStyle:     lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		categoryStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("140")),
		hintStyle:     lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
	}, nil
}

// Init schedules the first poll.
func (m *WatchModel) Init() tea.Cmd {
	return tea.Tick(pollEvery, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update handles ticks, fetched batches, resizes, and keys.
func (m *WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		return m, m.fetch()

	case eventsMsg:
		if msg.err != nil {
			m.errMsg = msg.err.Error()
		} else {
			m.errMsg = ""
			for _, e := range msg.events {
				m.events = append(m.events, e)
				if e.Sequence > m.lastSeq {
					m.lastSeq = e.Sequence
				}
			}
			if len(m.events) > maxLines {
				m.events = m.events[len(m.events)-maxLines:]
			}
		}
		return m, tea.Tick(pollEvery, func(t time.Time) tea.Msg { return tickMsg(t) })

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *WatchModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.filtering {
		switch msg.String() {
		case "enter", "esc":
			m.filtering = false
			m.filter.Blur()
			return m, nil
		default:
			var cmd tea.Cmd
			m.filter, cmd = m.filter.Update(msg)
			return m, cmd
		}
	}

	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "/":
		m.filtering = true
		return m, m.filter.Focus()
	case "c":
		m.filter.SetValue("")
		return m, nil
	case "up", "k":
		m.autoScroll = false
		if m.scrollOffset > 0 {
			m.scrollOffset--
		}
		return m, nil
	case "down", "j":
		m.scrollOffset++
		if m.scrollOffset >= m.maxOffset() {
			m.scrollOffset = m.maxOffset()
			m.autoScroll = true
		}
		return m, nil
	case "end", "G":
		m.autoScroll = true
		return m, nil
	}
	return m, nil
}

func (m *WatchModel) fetch() tea.Cmd {
	source, after := m.source, m.lastSeq
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), pollEvery)
		defer cancel()
		batch, err := source.From(ctx, after, fetchSize)
		return eventsMsg{events: batch, err: err}
	}
}

// visible returns the filtered events.
func (m *WatchModel) visible() []*swarmmodel.Event {
	needle := strings.ToLower(m.filter.Value())
	if needle == "" {
		return m.events
	}
	var out []*swarmmodel.Event
	for _, e := range m.events {
		if strings.Contains(strings.ToLower(m.renderLine(e)), needle) {
			out = append(out, e)
		}
	}
	return out
}

func (m *WatchModel) bodyHeight() int {
	h := m.height - 3 // title + filter/status + hints
	if h < 1 {
		h = 1
	}
	return h
}

func (m *WatchModel) maxOffset() int {
	off := len(m.visible()) - m.bodyHeight()
	if off < 0 {
		off = 0
	}
	return off
}

func (m *WatchModel) severityStyle(s swarmmodel.Severity) lipgloss.Style {
	switch s {
	case swarmmodel.SeverityWarning:
		return m.warnStyle
	case swarmmodel.SeverityError:
		return m.errorStyle
	case swarmmodel.SeverityCritical:
		return m.criticalStyle
	default:
		return m.infoStyle
	}
}

func (m *WatchModel) renderLine(e *swarmmodel.Event) string {
	task := ""
	if e.TaskID != nil {
		task = " task=" + e.TaskID.String()
	}
	return fmt.Sprintf("%s %s %s %s%s",
		m.timeStyle.Render(e.Timestamp.Format("15:04:05")),
		m.severityStyle(e.Severity).Render(strings.ToUpper(string(e.Severity))),
		m.categoryStyle.Render(string(e.Category)),
		string(e.PayloadKind),
		task,
	)
}

// View renders the full screen.
func (m *WatchModel) View() string {
	var b strings.Builder

	b.WriteString(m.titleStyle.Render("swarm events"))
	b.WriteString(m.hintStyle.Render(fmt.Sprintf("  seq %d", m.lastSeq)))
	b.WriteString("\n")

	switch {
	case m.errMsg != "":
		b.WriteString(m.errorStyle.Render("! " + m.errMsg))
	case m.filtering || m.filter.Value() != "":
		b.WriteString(m.filter.View())
	default:
		b.WriteString(m.hintStyle.Render("live"))
	}
	b.WriteString("\n")

	visible := m.visible()
	offset := m.scrollOffset
	if m.autoScroll {
		offset = m.maxOffset()
		m.scrollOffset = offset
	}
	end := offset + m.bodyHeight()
	if end > len(visible) {
		end = len(visible)
	}
	if offset > end {
		offset = end
	}
	for _, e := range visible[offset:end] {
		b.WriteString(m.renderLine(e))
		b.WriteString("\n")
	}
	for i := end - offset; i < m.bodyHeight(); i++ {
		b.WriteString("\n")
	}

	b.WriteString(m.hintStyle.Render("q quit · / filter · c clear · ↑/↓ scroll · G follow"))
	return b.String()
}

// RunWatch drives the viewer until the user quits or ctx is cancelled.
func RunWatch(ctx context.Context, source EventSource) error {
	model, err := NewWatch(ctx, source)
	if err != nil {
		return err
	}
	p := tea.NewProgram(model, tea.WithContext(ctx), tea.WithAltScreen())
	_, err = p.Run()
	return err
}

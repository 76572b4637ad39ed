package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BioHazard786/slotmesh/internal/media"
	"github.com/BioHazard786/slotmesh/internal/mesh"
	"github.com/BioHazard786/slotmesh/internal/room"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	maxEventLines   = 8
	refreshInterval = time.Second
)

// SnapshotFunc reads the current room state.
type SnapshotFunc func(ctx context.Context) (room.Snapshot, error)

// Board is the live room view. It implements room.Listener so the
// coordinator can feed it directly.
type Board struct {
	program *tea.Program
	model   *boardModel
	events  chan boardEvent
}

var _ room.Listener = (*Board)(nil)

type boardEvent struct {
	at   time.Time
	text string
}

type snapshotMsg struct {
	snap room.Snapshot
	err  error
}

type refreshMsg time.Time

type boardModel struct {
	info     RoomInfo
	snapshot SnapshotFunc
	onQuit   func()

	spinner  spinner.Model
	events   chan boardEvent
	lines    []string
	snap     room.Snapshot
	status   string
	quitting bool
}

// NewBoard creates a board for the given room. onQuit runs once when the
// user presses q.
func NewBoard(info RoomInfo, snapshot SnapshotFunc, onQuit func()) *Board {
	events := make(chan boardEvent, 100)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	model := &boardModel{
		info:     info,
		snapshot: snapshot,
		onQuit:   onQuit,
		spinner:  s,
		events:   events,
		status:   "Connecting to relay...",
	}
	return &Board{
		// Inline mode keeps earlier terminal output visible.
		program: tea.NewProgram(model),
		model:   model,
		events:  events,
	}
}

// Run takes over the terminal until the user quits or Stop is called.
func (b *Board) Run() error {
	_, err := b.program.Run()
	return err
}

// Stop may be called from any goroutine. Called before Run, it blocks
// until Run starts and then makes it return at once.
func (b *Board) Stop() {
	b.program.Quit()
}

func (b *Board) post(format string, args ...any) {
	select {
	case b.events <- boardEvent{at: time.Now(), text: fmt.Sprintf(format, args...)}:
	default:
	}
}

func (b *Board) SlotOccupied(slot int, peer string, local bool) {
	if local {
		b.post("you took slot %d", slot)
		return
	}
	b.post("%s took slot %d", peer, slot)
}

func (b *Board) SlotVacated(slot int, peer string) {
	b.post("%s left slot %d", peer, slot)
}

func (b *Board) StreamAttached(slot int, stream *media.RemoteStream) {
	b.post("receiving %d track(s) from %s in slot %d", len(stream.Tracks()), stream.PeerID, slot)
}

func (b *Board) StreamDetached(slot int, peer string) {
	b.post("stream from %s removed from slot %d", peer, slot)
}

func (b *Board) ConnectionChanged(info mesh.Info) {
	b.post("%s: %s (%s)", info.PeerID, info.State, info.Role)
}

func (m *boardModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listen(), m.refresh())
}

func (m *boardModel) listen() tea.Cmd {
	return func() tea.Msg {
		return <-m.events
	}
}

func (m *boardModel) refresh() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), refreshInterval)
		defer cancel()
		snap, err := m.snapshot(ctx)
		return snapshotMsg{snap: snap, err: err}
	}
}

func (m *boardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if !m.quitting {
				m.quitting = true
				if m.onQuit != nil {
					m.onQuit()
				}
			}
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case boardEvent:
		m.lines = append(m.lines, fmt.Sprintf("%s %s", MutedStyle.Render(msg.at.Format("15:04:05")), msg.text))
		if len(m.lines) > maxEventLines {
			m.lines = m.lines[len(m.lines)-maxEventLines:]
		}
		return m, tea.Batch(m.listen(), m.refresh())

	case snapshotMsg:
		if msg.err != nil {
			m.status = "Room stopped"
			return m, nil
		}
		m.snap = msg.snap
		m.status = statusLine(msg.snap)
		return m, tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return refreshMsg(t) })

	case refreshMsg:
		if m.quitting {
			return m, nil
		}
		return m, m.refresh()
	}
	return m, nil
}

func statusLine(s room.Snapshot) string {
	if s.Slot == 0 {
		return fmt.Sprintf("%s Watching", IconWatch)
	}
	return fmt.Sprintf("%s Sending in slot %d", IconCamera, s.Slot)
}

func (m *boardModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	info := m.info
	if info.Self == "" {
		info.Self = m.snap.Self
	}
	b.WriteString(info.View() + "\n\n")
	b.WriteString(fmt.Sprintf("%s %s\n\n", m.spinner.View(), m.status))

	if len(m.snap.Slots) > 0 {
		b.WriteString(RenderSlotTable(m.snap.Slots, m.snap.Self) + "\n\n")
	}
	b.WriteString(RenderConnectionTable(m.snap.Connections) + "\n")

	if len(m.lines) > 0 {
		b.WriteString("\n" + BoldStyle.Render("Recent") + "\n")
		for _, l := range m.lines {
			b.WriteString("  " + l + "\n")
		}
	}

	b.WriteString(FooterStyle.Render("Press q to leave"))
	return b.String()
}

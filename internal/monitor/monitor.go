// Package monitor renders a live view of an emulated cable in the terminal.
package monitor

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/OpenTraceLab/picoblaster/pkg/device"
)

// RefreshInterval is how often the view polls the device.
const RefreshInterval = 100 * time.Millisecond

// Source provides device snapshots. *device.Device implements it.
type Source interface {
	Snapshot() device.Snapshot
}

var pinNames = [7]string{"TCK", "TMS", "nCE", "nCS", "TDI", "TDO", "DOUT"}

type tickMsg time.Time

type model struct {
	src      Source
	title    string
	snap     device.Snapshot
	prev     device.Snapshot
	rateIn   float64
	rateOut  float64
	width    int
	quitting bool
}

func newModel(src Source, title string) model {
	return model{src: src, title: title, snap: src.Snapshot(), width: 80}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), tea.EnterAltScreen)
}

func tickCmd() tea.Cmd {
	return tea.Tick(RefreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case tickMsg:
		m.observe(m.src.Snapshot())
		return m, tickCmd()
	}
	return m, nil
}

// observe updates the snapshot and the byte rates.
func (m *model) observe(s device.Snapshot) {
	m.prev, m.snap = m.snap, s
	dt := s.Updated.Sub(m.prev.Updated).Seconds()
	if dt <= 0 {
		return
	}
	m.rateIn = float64(s.Stats.BytesIn-m.prev.Stats.BytesIn) / dt
	m.rateOut = float64(s.Stats.BytesOut-m.prev.Stats.BytesOut) / dt
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	highStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	lowStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	boxStyle    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}
	var s strings.Builder
	s.WriteString(titleStyle.Render(m.title))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render("Press 'q' to quit"))
	s.WriteString("\n\n")
	s.WriteString(boxStyle.Render(renderLink(m.snap)))
	s.WriteString("\n")
	s.WriteString(boxStyle.Render(renderPins(m.snap.Levels, m.snap.OE)))
	s.WriteString("\n")
	s.WriteString(boxStyle.Render(renderStats(m.snap, m.rateIn, m.rateOut)))
	s.WriteString("\n")
	return s.String()
}

func field(label, value string) string {
	return labelStyle.Render(label) + " " + valueStyle.Render(value)
}

func renderLink(s device.Snapshot) string {
	link := valueStyle.Render("mounted")
	switch {
	case s.Suspended:
		link = highStyle.Render("suspended")
	case !s.Mounted:
		link = warnStyle.Render("unmounted")
	}
	return fmt.Sprintf("%s %s   %s   %s",
		labelStyle.Render("Link:"), link,
		field("Blink:", s.Blink.String()),
		field("Engine:", s.Engine.String()))
}

func renderPins(levels uint8, oe bool) string {
	cells := make([]string, 0, len(pinNames)+1)
	for i, name := range pinNames {
		if levels&(1<<uint(i)) != 0 {
			cells = append(cells, highStyle.Render(name+" 1"))
		} else {
			cells = append(cells, lowStyle.Render(name+" 0"))
		}
	}
	if oe {
		cells = append(cells, highStyle.Render("OE"))
	} else {
		cells = append(cells, lowStyle.Render("OE"))
	}
	return strings.Join(cells, "  ")
}

func renderStats(s device.Snapshot, in, out float64) string {
	return strings.Join([]string{
		fmt.Sprintf("%s   %s",
			field("In:", fmt.Sprintf("%d B (%.0f B/s)", s.Stats.BytesIn, in)),
			field("Out:", fmt.Sprintf("%d B (%.0f B/s)", s.Stats.BytesOut, out))),
		fmt.Sprintf("%s   %s   %s   %s",
			field("Bitbang:", fmt.Sprint(s.Stats.Bitbangs)),
			field("Bursts:", fmt.Sprint(s.Stats.Bursts)),
			field("Shifted:", fmt.Sprint(s.Stats.ShiftBytes)),
			field("Resets:", fmt.Sprint(s.Stats.Resets))),
		fmt.Sprintf("%s   %s   %s   %s",
			field("Packets:", fmt.Sprint(s.Transport.Frames)),
			field("Pending:", fmt.Sprint(s.Pending)),
			field("Stalls:", fmt.Sprint(s.Transport.Stalls)),
			field("Controls:", fmt.Sprint(s.Controls))),
	}, "\n")
}

// Line renders a single plain status line.
func Line(s device.Snapshot) string {
	state := "mounted"
	switch {
	case s.Suspended:
		state = "suspended"
	case !s.Mounted:
		state = "unmounted"
	}
	return fmt.Sprintf("%s oe=%v levels=%07b engine=%s in=%d out=%d pending=%d controls=%d",
		state, s.OE, s.Levels&0x7F, s.Engine, s.Stats.BytesIn, s.Stats.BytesOut, s.Pending, s.Controls)
}

// Run shows the live view until ctx ends or the user quits. When stdout is
// not a terminal it prints a status line every interval instead.
func Run(ctx context.Context, src Source, title string, interval time.Duration) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return Plain(ctx, os.Stdout, src, interval)
	}
	p := tea.NewProgram(newModel(src, title), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// Plain writes Line(src.Snapshot()) to w every interval.
func Plain(ctx context.Context, w io.Writer, src Source, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			if _, err := fmt.Fprintln(w, Line(src.Snapshot())); err != nil {
				return err
			}
		}
	}
}

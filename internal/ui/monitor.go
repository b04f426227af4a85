package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jetsoncontrols/ha-nax/internal/dispatch"
	"github.com/jetsoncontrols/ha-nax/internal/nax"
	"github.com/jetsoncontrols/ha-nax/internal/protocol"
	"github.com/jetsoncontrols/ha-nax/internal/session"
	"github.com/jetsoncontrols/ha-nax/internal/state"
)

// ZoneRow is one line of the monitor.
type ZoneRow struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Source    string   `json:"source"`
	Volume    int      `json:"volume"`
	HasVolume bool     `json:"has_volume"`
	Muted     bool     `json:"muted"`
	Stream    string   `json:"stream,omitempty"`
	Faults    []string `json:"faults,omitempty"`
}

// ZoneRows snapshots every zone of c.
func ZoneRows(c *nax.Client) []ZoneRow {
	zones := c.Zones()
	rows := make([]ZoneRow, 0, len(zones))
	for _, z := range zones {
		vol, ok := z.Volume()
		muted, _ := z.Muted()
		rows = append(rows, ZoneRow{
			ID:        z.ID,
			Name:      z.Name(),
			Source:    z.Source(),
			Volume:    vol,
			HasVolume: ok,
			Muted:     muted,
			Stream:    z.AES67Stream(),
			Faults:    z.Faults(),
		})
	}
	return rows
}

type keyMap struct {
	Up, Down, VolUp, VolDown, Mute, Power, Source, Reconnect, Help, Quit key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.VolUp, k.VolDown, k.Mute, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down},
		{k.VolUp, k.VolDown, k.Mute},
		{k.Power, k.Source, k.Reconnect},
		{k.Help, k.Quit},
	}
}

var defaultKeys = keyMap{
	Up:        key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:      key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	VolUp:     key.NewBinding(key.WithKeys("+", "=", "right", "l"), key.WithHelp("+/→", "volume up")),
	VolDown:   key.NewBinding(key.WithKeys("-", "left", "h"), key.WithHelp("-/←", "volume down")),
	Mute:      key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "mute")),
	Power:     key.NewBinding(key.WithKeys("o"), key.WithHelp("o", "on/off")),
	Source:    key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "next source")),
	Reconnect: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reconnect")),
	Help:      key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
	Quit:      key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "quit")),
}

type (
	changeMsg struct{}
	connMsg   struct{ to session.State }
	doneMsg   struct{}
	resultMsg struct {
		action string
		res    dispatch.Result
		err    error
	}
)

// Monitor is a live zone view for one client.
type Monitor struct {
	client *nax.Client
	ctx    context.Context
	sub    *state.Subscription
	connCh chan session.State
	unlink func()

	keys    keyMap
	help    help.Model
	spinner spinner.Model
	bar     progress.Model

	title     string
	rows      []ZoneRow
	cursor    int
	conn      session.State
	status    string
	statusErr bool
	width     int
}

// NewMonitor subscribes to c and returns the model. Close the returned
// monitor when the program exits.
func NewMonitor(ctx context.Context, c *nax.Client, title string) (*Monitor, error) {
	sub, err := c.OnChange(protocol.DeviceRoot.String())
	if err != nil {
		return nil, err
	}
	m := &Monitor{
		client:  c,
		ctx:     ctx,
		sub:     sub,
		connCh:  make(chan session.State, 16),
		keys:    defaultKeys,
		help:    help.New(),
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(20), progress.WithoutPercentage()),
		title:   title,
		conn:    c.ConnectionState(),
		width:   GetTerminalWidth(),
	}
	m.unlink = c.OnConnectionChange(func(_, to session.State) {
		select {
		case m.connCh <- to:
		default:
		}
	})
	m.rows = ZoneRows(c)
	return m, nil
}

// Close releases the change subscription and the connection listener.
func (m *Monitor) Close() {
	m.sub.Close()
	m.unlink()
}

// Init implements tea.Model.
func (m *Monitor) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitChange, m.waitConn)
}

func (m *Monitor) waitChange() tea.Msg {
	if _, err := m.sub.Next(m.ctx); err != nil {
		return doneMsg{}
	}
	// Coalesce bursts such as a baseline refresh.
	for {
		if _, ok := m.sub.TryNext(); !ok {
			return changeMsg{}
		}
	}
}

func (m *Monitor) waitConn() tea.Msg {
	select {
	case to := <-m.connCh:
		return connMsg{to}
	case <-m.ctx.Done():
		return doneMsg{}
	}
}

// Update implements tea.Model.
func (m *Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = clampWidth(msg.Width)
		m.help.Width = msg.Width
		return m, nil

	case changeMsg:
		m.rows = ZoneRows(m.client)
		m.cursor = min(m.cursor, max(len(m.rows)-1, 0))
		return m, m.waitChange

	case connMsg:
		m.conn = msg.to
		if msg.to != session.Connected {
			if err := m.client.LastError(); err != nil {
				m.setStatus(err.Error(), true)
			}
		}
		return m, m.waitConn

	case resultMsg:
		if msg.err != nil {
			m.setStatus(fmt.Sprintf("%s: %v", msg.action, msg.err), true)
		} else {
			m.setStatus(fmt.Sprintf("%s: %s", msg.action, msg.res.Outcome), false)
		}
		return m, nil

	case doneMsg:
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *Monitor) setStatus(s string, isErr bool) {
	m.status, m.statusErr = s, isErr
}

func (m *Monitor) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	case key.Matches(msg, m.keys.Up):
		m.cursor = max(m.cursor-1, 0)
		return m, nil
	case key.Matches(msg, m.keys.Down):
		m.cursor = min(m.cursor+1, max(len(m.rows)-1, 0))
		return m, nil
	case key.Matches(msg, m.keys.Reconnect):
		m.client.Reconnect()
		m.setStatus("reconnect requested", false)
		return m, nil
	}

	row, ok := m.selected()
	if !ok {
		return m, nil
	}
	zone := m.client.Zone(row.ID)
	switch {
	case key.Matches(msg, m.keys.VolUp):
		return m, m.command("volume up", func(ctx context.Context) (dispatch.Result, error) { return zone.VolumeUp(ctx, 0) })
	case key.Matches(msg, m.keys.VolDown):
		return m, m.command("volume down", func(ctx context.Context) (dispatch.Result, error) { return zone.VolumeDown(ctx, 0) })
	case key.Matches(msg, m.keys.Mute):
		return m, m.command("mute", func(ctx context.Context) (dispatch.Result, error) { return zone.SetMuted(ctx, !row.Muted) })
	case key.Matches(msg, m.keys.Power):
		if row.Source != "" {
			return m, m.command("off", zone.TurnOff)
		}
		return m, m.command("on", zone.TurnOn)
	case key.Matches(msg, m.keys.Source):
		next := nextInput(m.client.Inputs(), row.Source)
		if next == "" {
			m.setStatus("no inputs reported", true)
			return m, nil
		}
		return m, m.command("source "+next, func(ctx context.Context) (dispatch.Result, error) { return zone.SelectSource(ctx, next) })
	}
	return m, nil
}

func (m *Monitor) selected() (ZoneRow, bool) {
	if m.cursor < 0 || m.cursor >= len(m.rows) {
		return ZoneRow{}, false
	}
	return m.rows[m.cursor], true
}

// command runs fn off the UI goroutine and reports its outcome.
func (m *Monitor) command(action string, fn func(context.Context) (dispatch.Result, error)) tea.Cmd {
	m.setStatus(action+"…", false)
	return func() tea.Msg {
		res, err := fn(m.ctx)
		return resultMsg{action: action, res: res, err: err}
	}
}

// nextInput cycles through inputs after current, wrapping.
func nextInput(inputs []nax.Input, current string) string {
	if len(inputs) == 0 {
		return ""
	}
	for i, in := range inputs {
		if in.ID == current {
			return inputs[(i+1)%len(inputs)].ID
		}
	}
	return inputs[0].ID
}

// View implements tea.Model.
func (m *Monitor) View() string {
	var b strings.Builder

	conn := StateStyle(m.conn).Render(m.conn.String())
	if m.conn != session.Connected {
		conn = m.spinner.View() + " " + conn
	}
	if m.client.Stale() {
		conn += MutedStyle.Render(" (stale)")
	}
	b.WriteString(HeaderTitleStyle.Render(strings.ToUpper(m.title)) + "  " + conn + "\n\n")

	if len(m.rows) == 0 {
		b.WriteString(MutedStyle.Render("  waiting for zones…") + "\n")
	}
	for i, r := range m.rows {
		line := m.renderRow(r)
		if i == m.cursor {
			line = SelectedRowStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}

	b.WriteString("\n")
	if m.status != "" {
		style := MutedStyle
		if m.statusErr {
			style = ErrorMessageStyle
		}
		b.WriteString(style.Render("  "+m.status) + "\n")
	}
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m *Monitor) renderRow(r ZoneRow) string {
	power := lipgloss.NewStyle().Foreground(MutedColor).Render(OffMarker)
	if r.Source != "" {
		power = lipgloss.NewStyle().Foreground(SuccessColor).Render(OnMarker)
	}

	name := r.Name
	if name == "" {
		name = r.ID
	}

	vol := "  ?"
	bar := strings.Repeat(" ", 20)
	if r.HasVolume {
		span := m.client.VolumeRange()
		vol = fmt.Sprintf("%3d", r.Volume)
		if span.Max > span.Min {
			bar = m.bar.ViewAs(float64(int64(r.Volume)-span.Min) / float64(span.Max-span.Min))
		}
	}
	if r.Muted {
		vol = "MUT"
	}

	source := r.Source
	if source == "" {
		source = "off"
	}
	extra := ""
	if r.Stream != "" {
		extra = " ⇢ " + r.Stream
	}
	if len(r.Faults) > 0 {
		extra += " " + ErrorMessageStyle.Render("⚠ "+strings.Join(r.Faults, ","))
	}

	return fmt.Sprintf(" %s %-16s %s %s  %-8s%s", power, truncate(name, 16), bar, vol, source, extra)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// RunMonitor runs the monitor full screen until the user quits or ctx
// ends.
func RunMonitor(ctx context.Context, c *nax.Client, title string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m, err := NewMonitor(ctx, c, title)
	if err != nil {
		return err
	}
	defer m.Close()

	p := tea.NewProgram(m, tea.WithAltScreen())
	go func() {
		<-ctx.Done()
		p.Quit()
	}()
	_, err = p.Run()
	return err
}

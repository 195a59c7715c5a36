// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ramses-project/ramses-core/pkg/ramses"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// tickInterval is how often the watch TUI advances discovery polling and
// binding timeouts while idle between received packets, the same cadence
// the teacher's control.go ping/discovery timeout checks run on.
const tickInterval = time.Second

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Connect to a gateway and show live decoded traffic in a TUI",
	Long: `Open a serial or WebSocket gateway connection, decode each line as a
RAMSES-II packet, and render the learned schema tree alongside a
scrolling log of routing and promotion decisions as traffic arrives.

Tab switches focus between the schema tree and the packet log. Press
'q' to quit.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	g, cfgFile, err := openGateway()
	if err != nil {
		return err
	}

	logFeed := &teaLogFeed{}
	g.Logger = zerolog.New(logFeed).Level(g.Logger.GetLevel()).With().Timestamp().Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	restore := loadPacketLog(cfgFile)
	if err := g.Start(ctx, restore); err != nil {
		return fmt.Errorf("starting gateway: %w", err)
	}
	defer g.Stop()

	sub, unsubscribe := g.Subscribe()
	defer unsubscribe()

	m := newWatchModel(g, ctx)
	p := tea.NewProgram(m, tea.WithAltScreen())
	logFeed.program = p

	go feedMessages(p, sub)

	_, err = p.Run()
	return err
}

// teaLogFeed is a zerolog io.Writer that forwards each log line to the
// running tea.Program as a message instead of stderr, so Gateway.Logger
// output lands in the TUI's own event log rather than corrupting the
// alt-screen buffer. The *tea.Program field is set after the program is
// constructed, the same deferred-wiring the teacher's connectionManager
// does with its p field in control.go.
type teaLogFeed struct {
	program *tea.Program
}

func (f *teaLogFeed) Write(p []byte) (int, error) {
	if f.program != nil {
		f.program.Send(logLineMsg(strings.TrimRight(string(p), "\n")))
	}
	return len(p), nil
}

// feedMessages drains the Gateway's message subscription and forwards
// each one into the tea.Program, the same cm.p.Send bridging pattern the
// teacher's readerLoop uses to get decoded packets into the TUI.
func feedMessages(p *tea.Program, sub <-chan ramses.Message) {
	for msg := range sub {
		p.Send(packetMsg(msg))
	}
}

type packetMsg ramses.Message
type logLineMsg string
type tickMsg time.Time

// schemaItem adapts one schema-tree line to bubbles/list's list.Item,
// the same small value-type wrapper the teacher's device type in
// control_tui.go uses for its device list.
type schemaItem struct {
	title, desc string
}

func (i schemaItem) Title() string       { return i.title }
func (i schemaItem) Description() string { return i.desc }
func (i schemaItem) FilterValue() string { return i.title }

type watchModel struct {
	gw  *ramses.Gateway
	ctx context.Context

	tree list.Model
	log  viewport.Model

	logLines     []string
	maxLogLines  int
	packetCount  int
	verbCounts   map[ramses.Verb]int
	lastSchemaAt time.Time

	width, height int
	focusTree     bool
	quitting      bool
}

func newWatchModel(gw *ramses.Gateway, ctx context.Context) watchModel {
	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	tree := list.New([]list.Item{}, delegate, 40, 20)
	tree.Title = "Schema"
	tree.SetShowStatusBar(false)
	tree.SetShowHelp(false)
	tree.SetFilteringEnabled(false)

	m := watchModel{
		gw:          gw,
		ctx:         ctx,
		tree:        tree,
		log:         viewport.New(40, 20),
		maxLogLines: 500,
		verbCounts:  make(map[ramses.Verb]int),
		focusTree:   true,
		width:       80,
		height:      24,
	}
	m.layout()
	return m
}

func tickCmd() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(tickCmd(), tea.EnterAltScreen)
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "tab":
			m.focusTree = !m.focusTree
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()

	case tickMsg:
		m.gw.Tick(m.ctx, time.Time(msg))
		if time.Since(m.lastSchemaAt) >= 2*time.Second {
			m.refreshSchema()
			m.lastSchemaAt = time.Time(msg)
		}
		return m, tickCmd()

	case packetMsg:
		m.packetCount++
		m.verbCounts[msg.Packet.Verb]++
		m.appendLog(fmt.Sprintf("%s %-4s %s", msg.Packet.DTM.Format("15:04:05.000"), msg.Packet.Verb, msg.Packet.Header()))

	case logLineMsg:
		m.appendLog(string(msg))
	}

	var cmd tea.Cmd
	if m.focusTree {
		m.tree, cmd = m.tree.Update(msg)
		cmds = append(cmds, cmd)
	} else {
		m.log, cmd = m.log.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *watchModel) appendLog(line string) {
	m.logLines = append(m.logLines, line)
	if len(m.logLines) > m.maxLogLines {
		m.logLines = m.logLines[len(m.logLines)-m.maxLogLines:]
	}
	atBottom := m.log.AtBottom()
	m.log.SetContent(strings.Join(m.logLines, "\n"))
	if atBottom {
		m.log.GotoBottom()
	}
}

// refreshSchema rebuilds the tree panel from the Gateway's current
// schema, the analogue of the teacher's updateDeviceList rebuilding
// deviceList.SetItems from m.devices on every discovery update.
func (m *watchModel) refreshSchema() {
	schema, _ := m.gw.GetState(time.Now(), false)
	items := make([]list.Item, 0, len(schema.Systems)*2+len(schema.Orphans))
	for ctl, sys := range schema.Systems {
		desc := "system"
		if sys.ApplianceControl != "" {
			desc = fmt.Sprintf("appliance_control=%s", sys.ApplianceControl)
		}
		items = append(items, schemaItem{title: ctl, desc: desc})
		for idx, z := range sys.Zones {
			items = append(items, schemaItem{
				title: fmt.Sprintf("  zone %s", idx),
				desc:  fmt.Sprintf("class=%s sensor=%s actuators=%v", z.Class, z.Sensor, z.Actuators),
			})
		}
		if sys.Dhw != nil {
			items = append(items, schemaItem{title: "  dhw", desc: fmt.Sprintf("sensor=%s", sys.Dhw.Sensor)})
		}
		for ufh, idxs := range sys.Ufh {
			items = append(items, schemaItem{title: fmt.Sprintf("  ufh %s", ufh), desc: fmt.Sprintf("circuits=%v", idxs)})
		}
	}
	for _, orphan := range schema.Orphans {
		items = append(items, schemaItem{title: orphan, desc: "orphan"})
	}
	m.tree.SetItems(items)
}

func (m *watchModel) layout() {
	treeWidth := m.width / 3
	if treeWidth < 20 {
		treeWidth = 20
	}
	m.tree.SetSize(treeWidth, m.height-4)
	m.log.Width = m.width - treeWidth - 4
	m.log.Height = m.height - 4
}

var (
	watchTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("12")).
				Background(lipgloss.Color("235")).
				Padding(0, 1)

	watchHeaderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	watchBoxStyle    = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("240")).
				Padding(0, 1)
	watchFocusedBoxStyle = watchBoxStyle.BorderForeground(lipgloss.Color("12"))
)

func (m watchModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder
	s.WriteString(watchTitleStyle.Render("RAMSES-II WATCH"))
	s.WriteString("\n")
	s.WriteString(watchHeaderStyle.Render(fmt.Sprintf(
		"gateway %s | %d packets (I=%d RQ=%d RP=%d W=%d) | tab to switch focus | q to quit",
		m.gw.SelfID, m.packetCount,
		m.verbCounts[ramses.VerbI], m.verbCounts[ramses.VerbRQ], m.verbCounts[ramses.VerbRP], m.verbCounts[ramses.VerbW],
	)))
	s.WriteString("\n\n")

	treeStyle, logStyle := watchBoxStyle, watchBoxStyle
	if m.focusTree {
		treeStyle = watchFocusedBoxStyle
	} else {
		logStyle = watchFocusedBoxStyle
	}

	tree := treeStyle.Render(m.tree.View())
	logPane := logStyle.Render(m.log.View())
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, tree, logPane))
	s.WriteString("\n")

	return s.String()
}

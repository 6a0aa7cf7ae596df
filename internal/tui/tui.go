package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

// maxEventLines is how many recent events the log pane keeps.
const maxEventLines = 6

func padToWidth(s string, width int) string {
	current := runewidth.StringWidth(s)
	if current >= width {
		return s
	}
	return s + strings.Repeat(" ", width-current)
}

// truncateToWidth cuts s to at most width display cells, marking the cut.
func truncateToWidth(s string, width int) string {
	if runewidth.StringWidth(s) <= width {
		return s
	}
	if width <= 3 {
		return runewidth.Truncate(s, width, "")
	}
	return runewidth.Truncate(s, width, "...")
}

func separatorLine(width int) string {
	if width < 2 {
		return strings.Repeat("─", width)
	}
	return "├" + strings.Repeat("─", width-2) + "┤"
}

func formatInfoLine(text string, width int) string {
	if width < 2 {
		return padToWidth(text, width)
	}
	return "│" + padToWidth(truncateToWidth(text, width-2), width-2) + "│"
}

// RoundInfo represents the current state of the round
type RoundInfo struct {
	Round          string
	Authority      string
	Phase          string
	SlashPolicy    string
	Collateral     uint64
	MaxNodes       uint64
	TotalNodes     uint64
	CommittedNodes uint64
	RevealedNodes  uint64
	SlashedNodes   uint64
	Now            int64
	RevealDeadline int64
	Pool           uint64
	Custody        uint64
	Deposited      uint64
	Withdrawn      uint64
	Resolved       bool
	ResolutionBit  bool
	RewardPerNode  uint64
	Dust           uint64
	Store          string
}

// CommitStatus represents the commit-reveal progress of a node
type CommitStatus int

const (
	CommitStatusNone      CommitStatus = iota // Joined, nothing committed
	CommitStatusCommitted                     // Commitment stored, vote hidden
	CommitStatusTrue                          // Revealed true
	CommitStatusFalse                         // Revealed false
)

// NodeInfo represents a node of the round
type NodeInfo struct {
	Address string
	Moniker string
	Escrow  uint64
	Wallet  uint64
	Status  CommitStatus
	Slashed bool
	Reason  string
}

// UpdateMsg is sent when round info should be updated
type UpdateMsg struct {
	Round RoundInfo
}

// NodesUpdateMsg is sent when the node list should be updated
type NodesUpdateMsg struct {
	Nodes []NodeInfo
}

// EventMsg appends a line to the event log
type EventMsg struct {
	Line string
}

// Model holds the TUI state
type Model struct {
	round  RoundInfo
	nodes  []NodeInfo
	events []string
	width  int
	height int
}

// NewModel creates a new TUI model
func NewModel() Model {
	return Model{nodes: []NodeInfo{}}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case UpdateMsg:
		m.round = msg.Round
		return m, nil

	case NodesUpdateMsg:
		m.nodes = msg.Nodes
		return m, nil

	case EventMsg:
		m.events = append(m.events, msg.Line)
		if len(m.events) > maxEventLines {
			m.events = m.events[len(m.events)-maxEventLines:]
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	}

	return m, nil
}

// View renders the UI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}
	return lipgloss.JoinVertical(lipgloss.Left, m.renderHeader(), m.renderNodes(), m.renderEvents())
}

func shortHex(s string) string {
	if len(s) > 12 {
		return s[:12] + "..."
	}
	return s
}

// renderHeader renders the top header section
func (m Model) renderHeader() string {
	r := m.round
	colWidth := (m.width - 4) / 3
	rightColWidth := m.width - colWidth*2 - 4

	capStr := "uncapped"
	if r.MaxNodes > 0 {
		capStr = fmt.Sprintf("%d", r.MaxNodes)
	}
	deadline := "not set"
	if r.RevealDeadline > 0 {
		remaining := r.RevealDeadline - r.Now
		if remaining >= 0 {
			deadline = fmt.Sprintf("%d (%ds left)", r.RevealDeadline, remaining)
		} else {
			deadline = fmt.Sprintf("%d (closed)", r.RevealDeadline)
		}
	}

	leftLines := []string{
		fmt.Sprintf("round: %s", shortHex(r.Round)),
		fmt.Sprintf("phase: %s", r.Phase),
		fmt.Sprintf("authority: %s", shortHex(r.Authority)),
		fmt.Sprintf("reveal deadline: %s", deadline),
	}
	middleLines := []string{
		fmt.Sprintf("nodes: %d / %s", r.TotalNodes, capStr),
		fmt.Sprintf("committed: %d revealed: %d", r.CommittedNodes, r.RevealedNodes),
		fmt.Sprintf("slashed: %d policy: %s", r.SlashedNodes, r.SlashPolicy),
		fmt.Sprintf("collateral: %d", r.Collateral),
	}
	outcome := "outcome: pending"
	if r.Resolved {
		outcome = fmt.Sprintf("outcome: %t", r.ResolutionBit)
	}
	rightLines := []string{
		fmt.Sprintf("custody: %d pool: %d", r.Custody, r.Pool),
		fmt.Sprintf("in: %d out: %d", r.Deposited, r.Withdrawn),
		outcome,
		fmt.Sprintf("reward: %d dust: %d", r.RewardPerNode, r.Dust),
	}

	var rows []string
	for i := range leftLines {
		left := padToWidth(truncateToWidth(leftLines[i], colWidth-2), colWidth-2)
		middle := padToWidth(truncateToWidth(middleLines[i], colWidth-2), colWidth-2)
		right := padToWidth(truncateToWidth(rightLines[i], rightColWidth-2), rightColWidth-2)
		rows = append(rows, fmt.Sprintf("│ %s │ %s │ %s │", left, middle, right))
	}

	topBorder := fmt.Sprintf("┌%s┬%s┬%s┐",
		strings.Repeat("─", colWidth),
		strings.Repeat("─", colWidth),
		strings.Repeat("─", rightColWidth))
	separator := fmt.Sprintf("├%s┴%s┴%s┤",
		strings.Repeat("─", colWidth),
		strings.Repeat("─", colWidth),
		strings.Repeat("─", rightColWidth))

	title := formatInfoLine(fmt.Sprintf(" commit-reveal oracle  store=%s  [q] quit", r.Store), m.width)
	return topBorder + "\n" + strings.Join(rows, "\n") + "\n" + separator + "\n" + title
}

// renderNodes renders the node grid
func (m Model) renderNodes() string {
	if len(m.nodes) == 0 {
		return formatInfoLine("no nodes joined yet", m.width)
	}

	// Header takes 7 lines, the event pane maxEventLines+2.
	availableHeight := m.height - 7 - (maxEventLines + 2)
	if availableHeight <= 2 {
		return ""
	}

	cols := 3
	separatorWidth := runewidth.StringWidth("│")
	borderWidth := separatorWidth * 2
	colWidth := (m.width - borderWidth - separatorWidth*(cols-1)) / cols
	if colWidth < 24 {
		colWidth = 24
	}

	maxRows := availableHeight - 2
	rows := (len(m.nodes) + cols - 1) / cols
	if rows > maxRows {
		rows = maxRows
	}

	var lines []string
	for row := 0; row < rows; row++ {
		cells := make([]string, 0, cols)
		for col := 0; col < cols; col++ {
			idx := row*cols + col
			if idx >= len(m.nodes) {
				cells = append(cells, strings.Repeat(" ", colWidth))
				continue
			}
			n := m.nodes[idx]
			name := n.Moniker
			if name == "" {
				name = shortHex(n.Address)
			}
			prefix := fmt.Sprintf("%3d %s ", idx+1, statusSymbol(n))
			amount := fmt.Sprintf(" %d/%d", n.Escrow, n.Wallet)
			avail := colWidth - runewidth.StringWidth(prefix) - runewidth.StringWidth(amount)
			if avail < 1 {
				avail = 1
			}
			cell := prefix + padToWidth(truncateToWidth(name, avail), avail) + amount
			cells = append(cells, padToWidth(truncateToWidth(cell, colWidth), colWidth))
		}
		lines = append(lines, fitLine("│"+strings.Join(cells, "│")+"│", m.width))
	}

	return separatorLine(m.width) + "\n" + strings.Join(lines, "\n") + "\n" +
		formatInfoLine("ID, Status, Moniker, Escrow/Wallet", m.width)
}

// fitLine pads or trims a bordered line so its right border lands on width.
func fitLine(line string, width int) string {
	lineWidth := runewidth.StringWidth(line)
	if lineWidth == width || width < 2 {
		return line
	}
	inner := strings.TrimSuffix(line, "│")
	if lineWidth < width {
		return inner + strings.Repeat(" ", width-lineWidth) + "│"
	}
	return runewidth.Truncate(inner, width-1, "") + "│"
}

func (m Model) renderEvents() string {
	lines := []string{separatorLine(m.width)}
	for i := 0; i < maxEventLines; i++ {
		text := ""
		if i < len(m.events) {
			text = " " + m.events[i]
		}
		lines = append(lines, formatInfoLine(text, m.width))
	}
	if m.width >= 2 {
		lines = append(lines, "└"+strings.Repeat("─", m.width-2)+"┘")
	}
	return strings.Join(lines, "\n")
}

// statusSymbol returns the symbol for a node's progress
func statusSymbol(n NodeInfo) string {
	if n.Slashed {
		return "💀"
	}
	switch n.Status {
	case CommitStatusCommitted:
		return "🔒"
	case CommitStatusTrue:
		return "✅"
	case CommitStatusFalse:
		return "❎"
	default:
		return "⏳"
	}
}

// Run starts the TUI program
func Run(updateCh <-chan interface{}) error {
	m := NewModel()
	p := tea.NewProgram(m, tea.WithAltScreen())

	// Start goroutine to receive updates
	go func() {
		for data := range updateCh {
			switch v := data.(type) {
			case RoundInfo:
				p.Send(UpdateMsg{Round: v})
			case []NodeInfo:
				p.Send(NodesUpdateMsg{Nodes: v})
			case EventMsg:
				p.Send(v)
			case string:
				p.Send(EventMsg{Line: v})
			}
		}
		// Channel closed, quit TUI
		p.Quit()
	}()

	_, err := p.Run()
	return err
}

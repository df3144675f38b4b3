// Package monitor is an interactive single-step front end for the
// simulator: registers, flags, zero page and stack views, and the
// disassembly of the next instruction.
package monitor

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mini65/mini65/sim"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	dimStyle   = lipgloss.NewStyle().Faint(true)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

type model struct {
	s      *sim.Sim
	start  uint16
	prevPC uint16
	err    error
}

// Init implements tea.Model.
func (m model) Init() tea.Cmd {
	m.s.SetPC(m.start)
	return nil
}

// Update steps the simulator on space/j and quits on q.
func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case " ", "j", "enter":
			if m.err != nil {
				return m, nil
			}
			m.prevPC = m.s.Regs().PC
			m.err = m.s.Step()
		}
	}
	return m, nil
}

// hexRow renders 16 bytes starting at addr, highlighting the PC.
func (m model) hexRow(addr uint16) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%04X | ", addr)
	pc := m.s.Regs().PC
	for i := uint16(0); i < 16; i++ {
		v := m.s.GetByte(int(addr + i))
		cell := "  ??"
		if v < 0x100 {
			cell = fmt.Sprintf("  %02X", v)
		}
		if addr+i == pc {
			cell = fmt.Sprintf(" [%s]", strings.TrimSpace(cell))
		}
		b.WriteString(cell)
	}
	return b.String()
}

func (m model) pages() string {
	rows := []string{dimStyle.Render("addr |  0   1   2   3   4   5   6   7   8   9   A   B   C   D   E   F")}
	for a := 0; a < 0x40; a += 16 {
		rows = append(rows, m.hexRow(uint16(a)))
	}
	rows = append(rows, "")
	for a := 0x1C0; a < 0x200; a += 16 {
		rows = append(rows, m.hexRow(uint16(a)))
	}
	return strings.Join(rows, "\n")
}

func (m model) status() string {
	r := m.s.Regs()
	var flags strings.Builder
	for i, name := range []string{"N", "V", "-", "B", "D", "I", "Z", "C"} {
		if r.P&(0x80>>i) != 0 {
			flags.WriteString(name)
		} else {
			flags.WriteString(dimStyle.Render(name))
		}
		flags.WriteByte(' ')
	}
	return fmt.Sprintf(`
PC: %04X (%04X)
 A: %02X
 X: %02X
 Y: %02X
 S: %02X
%s
cycles: %d
`, r.PC, m.prevPC, r.A, r.X, r.Y, r.S, flags.String(), m.s.Cycles())
}

// View implements tea.Model.
func (m model) View() string {
	next := m.s.Disassemble(m.s.Regs().PC)
	bottom := titleStyle.Render("next: ") + next
	if m.err != nil {
		bottom += "\n" + errStyle.Render(m.err.Error())
	}
	return lipgloss.JoinVertical(
		lipgloss.Left,
		lipgloss.JoinHorizontal(lipgloss.Top, m.pages(), m.status()),
		"",
		bottom,
		dimStyle.Render("space/j step · q quit"),
	)
}

// Run starts the monitor over the given simulator with the PC at start.
func Run(s *sim.Sim, start uint16) error {
	s.SetPC(start)
	_, err := tea.NewProgram(model{s: s, start: start}).Run()
	return err
}

package hw

import "github.com/mini65/mini65/sim"

// LED is the LED port at $FE40. Writes are recorded, reads float high.
type LED struct {
	last uint8
}

func (l *LED) access(s *sim.Sim, regs *sim.Registers, addr uint16, data int) int {
	if data == sim.CbRead {
		return 0xFF
	}
	l.last = uint8(data)
	return 0
}

// Value returns the last value written to the port.
func (l *LED) Value() uint8 {
	return l.last
}

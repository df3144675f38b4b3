package hw

import "github.com/mini65/mini65/sim"

// Timer is the 16-bit down-counter at $FE00. It counts CPU cycles;
// registers 0/1 hold the count low/high and register 2 the status and
// control bits (bit 7 shot, bit 0 active).
type Timer struct {
	count0   uint16
	active   bool
	shot     bool
	nextShot uint64
}

func (t *Timer) access(s *sim.Sim, regs *sim.Registers, addr uint16, data int) int {
	reg := addr & 3
	cycles := s.Cycles()

	count := t.count0
	if t.active {
		count = t.count0 - uint16(cycles)
	}
	if t.nextShot != 0 && cycles > t.nextShot {
		t.shot = true
	}

	if data == sim.CbRead {
		switch reg {
		case 0:
			return int(count & 0xFF)
		case 1:
			return int(count >> 8)
		default:
			v := 0
			if t.shot {
				v |= 128
			}
			if t.active {
				v |= 1
			}
			return v
		}
	}

	// Adds 1 if active, because the hardware misses the decrement.
	if t.active {
		count++
	}
	switch reg {
	case 0:
		count += uint16(data & 0xFF)
	case 1:
		count += uint16(data&0xFF) << 8
	default:
		t.shot = data&0x80 != 0
		t.active = data&0x01 != 0
		if !t.active {
			count = 0
		}
	}
	if t.active {
		t.count0 = count + uint16(cycles)
		t.nextShot = cycles + uint64(count)
	} else {
		t.count0 = count
		t.nextShot = 0
	}
	return 0
}

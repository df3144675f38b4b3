package hw

import "github.com/mini65/mini65/sim"

// SPI models the flash controller at $FE80. Register 0 is chip select
// and status (bit 7 TX hold, bit 6 RX valid, bit 0 CS), register 1 the
// data register. A transfer takes 16 cycles; only command $03 (read)
// does anything, every other command is reported and reads back erased
// bytes.
type SPI struct {
	flash []byte

	genCS    bool
	rxValid  bool
	rxData   uint8
	rxNext   uint8
	txData   uint8
	txHold   bool
	nxtCycle uint64

	state int
	cmd   uint8
	addr  int
}

// NewSPI returns a controller in its reset state: chip select is
// asserted, so the first byte shifted out is taken as a command.
func NewSPI(flash []byte) *SPI {
	return &SPI{flash: flash, genCS: true}
}

func (p *SPI) access(s *sim.Sim, regs *sim.Registers, addr uint16, data int) int {
	cycles := s.Cycles()

	if p.txHold && cycles >= p.nxtCycle {
		// The pending transfer completed: latch the previous byte
		// and shift the next one.
		p.rxData = p.rxNext
		p.rxNext = 0xFF
		p.txHold = false
		p.rxValid = !p.rxValid
		if p.genCS {
			// First byte after chip select is the command.
			p.state = -4
			p.cmd = p.txData
			p.addr = 0
			p.rxValid = false
			p.genCS = false
			if p.cmd != 0x03 {
				s.Eprintf("spi: unimplemented command $%02X", p.cmd)
			}
		} else {
			p.state++
			if p.state < 0 {
				p.addr = (p.addr << 8) | int(p.txData)
			} else {
				if p.flash != nil && p.cmd == 0x03 {
					p.rxNext = p.flash[p.addr]
				}
				p.addr = (p.addr + 1) & (FlashSize - 1)
			}
		}
	}

	reg := addr & 15
	if data == sim.CbRead {
		switch reg {
		case 0:
			v := 0
			if p.txHold {
				v |= 128
			}
			if p.rxValid {
				v |= 64
			}
			if p.genCS {
				v |= 1
			}
			return v
		case 1:
			return int(p.rxData)
		default:
			return 0xFF
		}
	}

	switch reg {
	case 0:
		p.genCS = true
	case 1:
		p.txData = uint8(data)
		p.txHold = true
		p.nxtCycle = cycles + 16
	}
	return 0
}

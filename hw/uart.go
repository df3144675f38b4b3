package hw

import (
	"io"
	"os"
	"sync"

	"github.com/mini65/mini65/sim"
)

// uartDiv is the cycle cost of one word on the wire: 115200 baud at a
// 12.5875MHz CPU clock is 109 cycles per baud, 1090 per word.
const uartDiv = 1090

// UART simulates the console serial port at $FE20. Register 0 is the
// data register, register 1 the status register (bit 7 TX busy, bit 6
// RX ready). Input arrives from a reader goroutine; typing Control-A
// stops the simulation with a user error.
type UART struct {
	once   sync.Once
	in     chan byte
	input  io.Reader
	output io.Writer

	currTX uint64
	txBusy bool
	nextRX uint8
	rxOK   bool
}

// NewUART returns a UART wired to stdin/stdout.
func NewUART() *UART {
	return &UART{
		in:     make(chan byte, 64),
		input:  os.Stdin,
		output: os.Stdout,
	}
}

func (u *UART) startReader() {
	go func() {
		buf := make([]byte, 1)
		for {
			n, err := u.input.Read(buf)
			if n == 1 {
				u.in <- buf[0]
			}
			if err != nil {
				return
			}
		}
	}()
}

func (u *UART) access(s *sim.Sim, regs *sim.Registers, addr uint16, data int) int {
	u.once.Do(u.startReader)
	reg := addr & 1
	cycles := s.Cycles()

	txShift := u.currTX != 0 && cycles < u.currTX
	if !txShift && u.txBusy {
		u.currTX += uartDiv
		txShift = cycles < u.currTX
		u.txBusy = false
	}

	if !u.rxOK {
		select {
		case ch := <-u.in:
			u.nextRX = ch
			u.rxOK = true
			if ch == 1 { // Control-A
				return int(sim.ErrUser)
			}
		default:
		}
	}

	if data == sim.CbRead {
		switch reg {
		case 0:
			return int(u.nextRX)
		default:
			v := 0
			if u.txBusy {
				v |= 128
			}
			if u.rxOK {
				v |= 64
			}
			return v
		}
	}

	switch reg {
	case 0:
		if u.txBusy {
			s.Eprintf("UART: TX overrun, char lost")
		}
		u.output.Write([]byte{uint8(data)})
		// Fill the shift register, or the hold register if a word
		// is already on the wire.
		if !txShift {
			u.currTX = cycles + uartDiv
		} else {
			u.txBusy = true
		}
	default:
		u.rxOK = false
	}
	return 0
}

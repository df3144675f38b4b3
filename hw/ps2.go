package hw

import "github.com/mini65/mini65/sim"

// parity returns the even parity bit of n.
func parity(n uint8) uint8 {
	p := n ^ (n >> 1)
	p ^= p >> 2
	return (p ^ (p >> 4)) & 1
}

// PS2 is the keyboard port at $FEA0. Only the key-pressed state is
// simulated, timing is ignored. Register 0 holds the status (hold,
// parity, extended-code and shift bits; no key-release bit is
// reported), register 1 the raw keycode and register 2 the translated
// ASCII value.
type PS2 struct {
	rxHold    bool
	rxKeycode uint8
	rxASCII   uint8
	shifts    uint8
	codeExt   bool
}

// Press latches a key for the simulated program to pick up.
func (k *PS2) Press(keycode, ascii uint8) {
	k.rxKeycode = keycode
	k.rxASCII = ascii
	k.rxHold = true
}

func (k *PS2) access(s *sim.Sim, regs *sim.Registers, addr uint16, data int) int {
	reg := addr & 3

	if data == sim.CbRead {
		switch reg {
		case 0:
			v := parity(k.rxKeycode) << 5
			if k.rxHold {
				v |= 128
			}
			if k.codeExt {
				v |= 16
			}
			return int(v | k.shifts)
		case 1:
			return int(k.rxKeycode)
		case 2:
			return int(128 | k.rxASCII)
		default:
			return 0xFF
		}
	}
	k.rxHold = false
	return 0
}

// Package hw bundles the memory-mapped devices of the simulated
// machine: timer, UART console, LED port, VGA framebuffer, SPI flash
// and PS/2 keyboard. Every device is a value owned by the host and
// registered with the simulator through its callback slots, so two
// machines never share state.
package hw

import (
	"fmt"
	"io"
	"os"

	"github.com/mini65/mini65/sim"
)

// Device register windows. Each device decodes a 32-byte slice of the
// I/O page.
const (
	TimerBase = 0xFE00
	UARTBase  = 0xFE20
	LEDBase   = 0xFE40
	VGABase   = 0xFE60
	SPIBase   = 0xFE80
	PS2Base   = 0xFEA0

	ioRange = 0x20
)

// Devices holds one machine's device set.
type Devices struct {
	Timer *Timer
	UART  *UART
	LED   *LED
	VGA   *VGA
	SPI   *SPI
	PS2   *PS2
}

// FlashSize is the size of the SPI flash model.
const FlashSize = 2 * 1024 * 1024

// firmwareOffset is where the firmware image lands inside the flash.
const firmwareOffset = 128 * 1024

// LoadFlash builds the flash image: erased (0xFF) bytes with the
// firmware file copied in at the firmware offset.
func LoadFlash(r io.Reader) ([]byte, error) {
	flash := make([]byte, FlashSize)
	for i := range flash {
		flash[i] = 0xFF
	}
	n, err := io.ReadFull(r, flash[firmwareOffset:])
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("empty firmware image")
	}
	return flash, nil
}

// Init installs the machine's RAM map and devices on the simulator and
// loads the firmware file into the SPI flash. The VGA window opens
// lazily on the first access to its registers.
func Init(s *sim.Sim, firmware string) (*Devices, error) {
	f, err := os.Open(firmware)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	flash, err := LoadFlash(f)
	if err != nil {
		return nil, err
	}

	s.AddRAM(0, 0xFE00)
	s.AddZeroedRAM(0xD000, 0x2000)

	d := &Devices{
		Timer: &Timer{},
		UART:  NewUART(),
		LED:   &LED{},
		VGA:   NewVGA(s),
		SPI:   NewSPI(flash),
		PS2:   &PS2{},
	}
	install := func(base int, cb sim.Callback) {
		s.AddCallbackRange(base, ioRange, cb, sim.CbRead)
		s.AddCallbackRange(base, ioRange, cb, sim.CbWrite)
	}
	install(TimerBase, d.Timer.access)
	install(UARTBase, d.UART.access)
	install(LEDBase, d.LED.access)
	install(VGABase, d.VGA.access)
	install(SPIBase, d.SPI.access)
	install(PS2Base, d.PS2.access)
	return d, nil
}

// Close stops any device goroutines.
func (d *Devices) Close() {
	if d.VGA != nil {
		d.VGA.Stop()
	}
}

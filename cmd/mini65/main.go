// Command mini65 runs a firmware image on the simulated machine: CPU,
// timer, UART console, VGA, SPI flash and PS/2 keyboard. Execution
// starts from the reset vector and ends on a simulator error or when
// the firmware stops the machine.
package main

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/urfave/cli.v2"

	"github.com/mini65/mini65/hw"
	"github.com/mini65/mini65/monitor"
	"github.com/mini65/mini65/sim"
)

const romBase = 0xFF00

func main() {
	app := &cli.App{
		Name:      "mini65",
		Usage:     "6502 machine simulator",
		ArgsUsage: "<firmware.bin>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"d"},
				Usage:   "print debug messages to standard error",
			},
			&cli.StringFlag{
				Name:    "error-level",
				Aliases: []string{"e"},
				Usage:   "error level: 'none', 'mem' or 'full'",
				Value:   "mem",
			},
			&cli.StringFlag{
				Name:    "labels",
				Aliases: []string{"l"},
				Usage:   "load label file, used in the simulation trace",
			},
			&cli.StringFlag{
				Name:    "profile",
				Aliases: []string{"p"},
				Usage:   "store profile information into file",
			},
			&cli.StringFlag{
				Name:    "rom",
				Aliases: []string{"r"},
				Usage:   "load 256 byte boot ROM at $FF00",
			},
			&cli.StringFlag{
				Name:    "trace",
				Aliases: []string{"t"},
				Usage:   "store simulation trace into file",
			},
			&cli.BoolFlag{
				Name:    "monitor",
				Aliases: []string{"m"},
				Usage:   "single-step interactively instead of running",
			},
			&cli.BoolFlag{
				Name:  "headless",
				Usage: "do not open the VGA window",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "mini65: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if c.NArg() != 1 {
		cli.ShowAppHelp(c)
		return fmt.Errorf("exactly one firmware file expected")
	}

	s := sim.New()
	if c.Bool("debug") {
		s.SetDebug(sim.DebugMessages)
	}
	switch c.String("error-level") {
	case "n", "none":
		s.SetErrorLevel(sim.ErrLvlNone)
	case "m", "mem":
		s.SetErrorLevel(sim.ErrLvlMemory)
	case "f", "full":
		s.SetErrorLevel(sim.ErrLvlFull)
	default:
		return fmt.Errorf("invalid error level %q", c.String("error-level"))
	}

	var traceFile *os.File
	if name := c.String("trace"); name != "" {
		var err error
		traceFile, err = os.Create(name)
		if err != nil {
			return fmt.Errorf("can't open trace file: %v", err)
		}
		defer traceFile.Close()
		s.SetDebug(sim.DebugTrace)
		s.SetTraceWriter(traceFile)
	}

	if name := c.String("labels"); name != "" {
		if err := s.LoadLabels(name); err != nil {
			return fmt.Errorf("can't load labels: %v", err)
		}
	}

	devices, err := hw.Init(s, c.Args().First())
	if err != nil {
		return fmt.Errorf("error reading firmware file: %v", err)
	}
	defer devices.Close()
	if c.Bool("headless") || c.Bool("monitor") {
		devices.VGA.SetHeadless(true)
	}

	profName := c.String("profile")
	if profName != "" {
		s.SetProfiling(true)
	}

	romName := c.String("rom")
	if romName == "" {
		return fmt.Errorf("no boot ROM given, use -r")
	}
	if err := loadROM(s, romName); err != nil {
		return err
	}

	// Boot from the reset vector.
	reset := uint16(s.GetByte(0xFFFC)&0xFF) | uint16(s.GetByte(0xFFFD)&0xFF)<<8

	if c.Bool("monitor") {
		return monitor.Run(s, reset)
	}

	if err := s.Run(nil, reset); err != nil {
		s.Eprintf("simulator returned %v.", err)
	}
	s.Dprintf("Total cycles: %d", s.Cycles())

	if profName != "" {
		f, err := os.Create(profName)
		if err != nil {
			return fmt.Errorf("can't open profile: %v", err)
		}
		defer f.Close()
		writeProfile(f, s)
	}
	return nil
}

// loadROM installs a 256 byte boot ROM at $FF00.
func loadROM(s *sim.Sim, name string) error {
	data, err := os.ReadFile(name)
	if err != nil {
		return fmt.Errorf("can't open ROM file: %v", err)
	}
	if romBase+len(data) > 0x10000 {
		return fmt.Errorf("ROM file too big")
	}
	if romBase+len(data) != 0x10000 {
		return fmt.Errorf("ROM file too short")
	}
	s.AddDataROM(romBase, data)
	return nil
}

// writeProfile formats the profiling report: one line per executed
// address with its cycle count and disassembly, then the totals.
func writeProfile(w io.Writer, s *sim.Sim) {
	p := s.GetProfile()
	for i := 0; i < 0x10000; i++ {
		if p.ExeCount[i] == 0 {
			continue
		}
		fmt.Fprintf(w, "%9d %04X %s", p.ExeCount[i], i, s.Disassemble(uint16(i)))
		if p.BranchTaken[i] != 0 {
			fmt.Fprintf(w, " (%d times taken)", p.BranchTaken[i])
		}
		fmt.Fprintln(w)
	}

	ti := p.Total.Instructions
	tb := p.Total.BranchSkip + p.Total.BranchTaken
	fmt.Fprintf(w, "--------- Total Instructions:    %9d\n", ti)
	fmt.Fprintf(w, "--------- Total Branches:        %9d (%.1f%% of instructions)\n",
		tb, pct(tb, ti))
	fmt.Fprintf(w, "--------- Total Branches Taken:  %9d (%.1f%% of branches)\n",
		p.Total.BranchTaken, pct(p.Total.BranchTaken, tb))
	fmt.Fprintf(w, "--------- Branches cross-page:   %9d (%.1f%% of taken branches)\n",
		p.Total.BranchExtra, pct(p.Total.BranchExtra, p.Total.BranchTaken))
	fmt.Fprintf(w, "--------- Absolute X cross-page: %9d\n", p.Total.ExtraAbsX)
	fmt.Fprintf(w, "--------- Absolute Y cross-page: %9d\n", p.Total.ExtraAbsY)
	fmt.Fprintf(w, "--------- Indirect Y cross-page: %9d\n", p.Total.ExtraIndY)
}

func pct(n, d uint64) float64 {
	if d == 0 {
		return 0
	}
	return 100 * float64(n) / float64(d)
}

package sim

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LabelAdd associates a name with an address for use by the
// disassembler and trace output. Names longer than 31 characters are
// truncated. Empty names are ignored.
func (s *Sim) LabelAdd(addr uint16, lbl string) {
	if lbl == "" {
		return
	}
	if s.labels == nil {
		s.labels = make([]string, maxRAM)
	}
	if len(lbl) > 31 {
		lbl = lbl[:31]
	}
	s.labels[addr] = lbl
}

// Label returns the name for an address, or the empty string.
func (s *Sim) Label(addr uint16) string {
	if s.labels == nil {
		return ""
	}
	return s.labels[addr]
}

// LoadLabels reads a label file with one label per line, in either the
// cc65 format "al %06x .NAME" or the MADS format "%02x %04x NAME"
// (only page 0 entries are honored). Invalid lines are diagnosed and
// skipped.
func (s *Sim) LoadLabels(name string) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()

	line := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line++
		str := sc.Text()
		var addr, page uint32
		var lbl string
		if n, _ := fmt.Sscanf(str, "al %6x .%31s", &addr, &lbl); n == 2 {
			if addr <= 0xFFFF {
				s.LabelAdd(uint16(addr), trimLabel(lbl))
			}
			continue
		}
		if n, _ := fmt.Sscanf(str, "%02x %04x %31s", &page, &addr, &lbl); n == 3 {
			if addr <= 0xFFFF && page == 0 {
				s.LabelAdd(uint16(addr), trimLabel(lbl))
			}
			continue
		}
		s.Eprintf("%s[%d]: invalid line on label file", name, line)
	}
	return sc.Err()
}

// trimLabel cuts a scanned name at the first whitespace, the way a
// %31s conversion stops, and caps the length.
func trimLabel(lbl string) string {
	if i := strings.IndexAny(lbl, " \t"); i >= 0 {
		lbl = lbl[:i]
	}
	if len(lbl) > 31 {
		lbl = lbl[:31]
	}
	return lbl
}

package sim

import (
	"bytes"
	"strings"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/go-test/deep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewState(t *testing.T) {
	s := New()
	assert.Equal(t, uint8(0xFF), s.r.S)
	assert.Equal(t, uint8(0x34), s.r.P)
	assert.Equal(t, uint8(0), s.r.A)
	assert.Equal(t, uint8(0), s.r.X)
	assert.Equal(t, uint8(0), s.r.Y)
	assert.Equal(t, uint8(0xFF), s.pValid, "all flags must start unknown")
	for _, addr := range []int{0x0000, 0x1234, 0xFFFF} {
		if s.mems[addr] != msUndef|msInvalid {
			t.Fatalf("cell %04X not UNDEF|INVALID: %s", addr, spew.Sdump(s.mems[addr]))
		}
	}
	assert.Equal(t, uint64(0), s.Cycles())
}

func TestMemoryInstall(t *testing.T) {
	tests := []struct {
		name     string
		install  func(s *Sim)
		addr     int
		wantMems uint8
		wantMem  uint8
	}{
		{
			name:     "add_ram clears undef only",
			install:  func(s *Sim) { s.AddRAM(0x10, 0x10) },
			addr:     0x10,
			wantMems: msInvalid,
		},
		{
			name:     "zeroed ram is valid and zero",
			install:  func(s *Sim) { s.AddZeroedRAM(0x20, 0x10) },
			addr:     0x2F,
			wantMems: 0,
			wantMem:  0,
		},
		{
			name:     "data ram copies bytes",
			install:  func(s *Sim) { s.AddDataRAM(0x30, []byte{0xAA, 0xBB}) },
			addr:     0x31,
			wantMems: 0,
			wantMem:  0xBB,
		},
		{
			name:     "data rom sets rom bit",
			install:  func(s *Sim) { s.AddDataROM(0x40, []byte{0xCC}) },
			addr:     0x40,
			wantMems: msROM,
			wantMem:  0xCC,
		},
		{
			name: "rom over ram: last writer wins",
			install: func(s *Sim) {
				s.AddZeroedRAM(0x50, 1)
				s.AddDataROM(0x50, []byte{0x11})
			},
			addr:     0x50,
			wantMems: msROM,
			wantMem:  0x11,
		},
		{
			name: "ram over rom: last writer wins",
			install: func(s *Sim) {
				s.AddDataROM(0x60, []byte{0x22})
				s.AddDataRAM(0x60, []byte{0x33})
			},
			addr:     0x60,
			wantMems: 0,
			wantMem:  0x33,
		},
		{
			name: "callback is orthogonal to ram",
			install: func(s *Sim) {
				s.AddZeroedRAM(0x70, 1)
				s.AddCallback(0x70, func(*Sim, *Registers, uint16, int) int { return 0 }, CbRead)
			},
			addr:     0x70,
			wantMems: msCallback,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s := New()
			test.install(s)
			assert.Equal(t, test.wantMems, s.mems[test.addr], "status")
			if test.wantMems&msInvalid == 0 {
				assert.Equal(t, test.wantMem, s.mem[test.addr], "value")
			}
		})
	}
}

func TestAddRangeClamping(t *testing.T) {
	s := New()
	// Runs off the end of the address space without wrapping.
	s.AddZeroedRAM(0xFFF0, 0x100)
	assert.Equal(t, uint8(0), s.mems[0xFFFF])
	assert.Equal(t, msUndef|msInvalid, s.mems[0x0000])
	// Entirely out of range is ignored.
	s.AddRAM(0x10000, 16)
}

func TestGetByte(t *testing.T) {
	s := New()
	s.AddDataRAM(0x200, []byte{0x7F})
	s.AddRAM(0x300, 1)
	assert.Equal(t, 0x7F, s.GetByte(0x200))
	assert.GreaterOrEqual(t, s.GetByte(0x300), 0x100, "uninitialized cell has no readable byte")
	assert.GreaterOrEqual(t, s.GetByte(0x400), 0x100, "undefined cell has no readable byte")
	assert.GreaterOrEqual(t, s.GetByte(0x10000), 0x100)
}

func TestGetPByte(t *testing.T) {
	s := New()
	s.AddDataRAM(0x1000, []byte{0x01, 0x02})
	p := s.GetPByte(0x1000)
	require.GreaterOrEqual(t, len(p), 2)
	assert.Equal(t, uint8(0x01), p[0])
	// The handle aliases live memory in both directions.
	s.writeByte(0x1001, 0x55)
	assert.Equal(t, uint8(0x55), p[1])
	p[0] = 0x99
	assert.Equal(t, 0x99, s.GetByte(0x1000))
}

func TestReadPaths(t *testing.T) {
	t.Run("uninit read diagnoses once then initializes", func(t *testing.T) {
		s := New()
		s.AddRAM(0x10, 1)
		_ = s.readByte(0x10)
		assert.Equal(t, ErrReadUninit, s.err)
		assert.Equal(t, uint16(0x10), s.errAddr)
		assert.Equal(t, uint8(0), s.mems[0x10], "INVALID cleared so the next read is clean")
		s.err = ErrNone
		_ = s.readByte(0x10)
		assert.Equal(t, ErrNone, s.err)
	})
	t.Run("undef read latches", func(t *testing.T) {
		s := New()
		_ = s.readByte(0x10)
		assert.Equal(t, ErrReadUndef, s.err)
	})
	t.Run("pc fetch never fires read callbacks", func(t *testing.T) {
		s := New()
		s.AddDataRAM(0x200, []byte{0xEA})
		fired := false
		s.AddCallback(0x200, func(*Sim, *Registers, uint16, int) int {
			fired = true
			return 0x42
		}, CbRead)
		s.SetPC(0x200)
		assert.Equal(t, uint8(0xEA), s.readPC(0))
		assert.False(t, fired)
	})
}

func TestWritePaths(t *testing.T) {
	t.Run("write to uninitialized ram validates the cell", func(t *testing.T) {
		s := New()
		s.AddRAM(0x10, 1)
		s.writeByte(0x10, 0x5A)
		assert.Equal(t, ErrNone, s.err)
		assert.Equal(t, uint8(0), s.mems[0x10])
		assert.Equal(t, uint8(0x5A), s.mem[0x10])
	})
	t.Run("write to rom latches and leaves the byte", func(t *testing.T) {
		s := New()
		s.AddDataROM(0x20, []byte{0x77})
		s.writeByte(0x20, 0x00)
		assert.Equal(t, ErrWriteROM, s.err)
		assert.Equal(t, uint8(0x77), s.mem[0x20])
	})
	t.Run("write to undef latches", func(t *testing.T) {
		s := New()
		s.writeByte(0x30, 0x01)
		assert.Equal(t, ErrWriteUndef, s.err)
		assert.Equal(t, uint16(0x30), s.errAddr)
	})
}

func TestCallbacks(t *testing.T) {
	t.Run("read callback supplies the value", func(t *testing.T) {
		s := New()
		s.AddCallback(0x8000, func(cs *Sim, regs *Registers, addr uint16, data int) int {
			assert.Equal(t, CbRead, data)
			assert.Equal(t, uint16(0x8000), addr)
			return 0x42
		}, CbRead)
		assert.Equal(t, uint8(0x42), s.readByte(0x8000))
		assert.Equal(t, ErrNone, s.err)
	})
	t.Run("write callback sees the value", func(t *testing.T) {
		s := New()
		var got int
		s.AddCallback(0x8000, func(cs *Sim, regs *Registers, addr uint16, data int) int {
			got = data
			return 0
		}, CbWrite)
		s.writeByte(0x8000, 0xA5)
		assert.Equal(t, 0xA5, got)
		assert.Equal(t, ErrNone, s.err)
	})
	t.Run("callback error latches with the address", func(t *testing.T) {
		s := New()
		s.AddCallback(0x8000, func(*Sim, *Registers, uint16, int) int {
			return int(ErrUser)
		}, CbRead)
		_ = s.readByte(0x8000)
		assert.Equal(t, ErrUser, s.err)
		assert.Equal(t, uint16(0x8000), s.errAddr)
	})
	t.Run("exec callback runs before the fetch", func(t *testing.T) {
		s := New()
		s.AddDataRAM(0x200, []byte{0xEA, 0xEA})
		var seen []uint16
		s.AddCallback(0x201, func(cs *Sim, regs *Registers, addr uint16, data int) int {
			assert.Equal(t, CbExec, data)
			seen = append(seen, regs.PC)
			return 0
		}, CbExec)
		s.SetPC(0x200)
		require.NoError(t, s.Step())
		require.NoError(t, s.Step())
		assert.Equal(t, []uint16{0x201}, seen)
	})
	t.Run("range covers every address", func(t *testing.T) {
		s := New()
		hits := 0
		s.AddCallbackRange(0xFE00, 0x20, func(*Sim, *Registers, uint16, int) int {
			hits++
			return 0
		}, CbRead)
		_ = s.readByte(0xFE00)
		_ = s.readByte(0xFE1F)
		assert.Equal(t, 2, hits)
		assert.Equal(t, msUndef|msInvalid|msCallback, s.mems[0xFE10])
	})
}

func TestFirstErrorWins(t *testing.T) {
	s := New()
	s.setError(ErrReadUndef, 0x1000)
	s.setError(ErrWriteROM, 0x2000)
	assert.Equal(t, ErrReadUndef, s.err)
	assert.Equal(t, uint16(0x1000), s.ErrorAddr())
	// Non-errors never latch.
	s2 := New()
	s2.setError(Code(0x42), 0x1000)
	assert.Equal(t, ErrNone, s2.err)
}

func TestErrorLevels(t *testing.T) {
	tests := []struct {
		err  Code
		lvl  ErrorLevel
		exit bool
	}{
		{ErrReadUninit, ErrLvlNone, false},
		{ErrReadUninit, ErrLvlMemory, false},
		{ErrReadUninit, ErrLvlFull, true},
		{ErrWriteROM, ErrLvlMemory, false},
		{ErrWriteROM, ErrLvlFull, true},
		{ErrReadUndef, ErrLvlNone, false},
		{ErrReadUndef, ErrLvlMemory, true},
		{ErrWriteUndef, ErrLvlMemory, true},
		{ErrExecUninit, ErrLvlNone, false},
		{ErrExecUninit, ErrLvlMemory, true},
		{ErrExecUndef, ErrLvlNone, true},
		{ErrBreak, ErrLvlNone, true},
		{ErrInvalidIns, ErrLvlNone, true},
		{ErrCallRet, ErrLvlNone, true},
		{ErrCycleLimit, ErrLvlNone, true},
		{ErrUser, ErrLvlNone, true},
	}
	for _, test := range tests {
		s := New()
		s.SetErrorLevel(test.lvl)
		s.setError(test.err, 0x1234)
		got := s.errorExit()
		if got != test.exit {
			t.Errorf("%s at level %d: exit got %t want %t", ErrorStr(test.err), test.lvl, got, test.exit)
		}
		if !test.exit {
			assert.Equal(t, ErrNone, s.err, "non-fatal errors are cleared")
		}
	}
}

func TestFlagValidity(t *testing.T) {
	s := New()
	var diag bytes.Buffer
	s.SetDebug(DebugTrace)
	s.SetTraceWriter(&diag)

	s.SetFlags(FlagC|FlagZ, FlagC)
	assert.Equal(t, uint8(0), s.pValid&(FlagC|FlagZ), "written flags become valid")
	assert.Equal(t, uint8(FlagC), s.r.P&FlagC)

	diag.Reset()
	_ = s.getFlags(FlagC)
	assert.NotContains(t, diag.String(), "uninitialized")

	diag.Reset()
	_ = s.getFlags(FlagN)
	assert.Contains(t, diag.String(), "using uninitialized flags ($80)")
	// The read proceeds and validity is unchanged: every read site fires.
	diag.Reset()
	_ = s.getFlags(FlagN)
	assert.Contains(t, diag.String(), "using uninitialized flags")
}

func TestRunAndCycleLimit(t *testing.T) {
	t.Run("run stops on break", func(t *testing.T) {
		s := New()
		s.AddDataRAM(0x200, []byte{0xEA, 0x00}) // NOP / BRK
		regs := Registers{}
		err := s.Run(&regs, 0x200)
		var serr *Error
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, ErrBreak, serr.Code)
		assert.Equal(t, uint16(0x201), serr.Addr)
		assert.Equal(t, uint16(0x202), regs.PC, "registers are copied back")
	})
	t.Run("cycle limit stops a loop", func(t *testing.T) {
		s := New()
		s.AddDataRAM(0x200, []byte{0x4C, 0x00, 0x02}) // JMP $0200
		s.SetCycleLimit(100)
		err := s.Run(nil, 0x200)
		var serr *Error
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, ErrCycleLimit, serr.Code)
		assert.GreaterOrEqual(t, s.Cycles(), uint64(100))
		assert.Less(t, s.Cycles(), uint64(103), "the loop exits after the current instruction")
	})
	t.Run("zero limit disables the check", func(t *testing.T) {
		s := New()
		s.AddDataRAM(0x200, []byte{0x00})
		s.SetCycleLimit(1)
		s.SetCycleLimit(0)
		err := s.Run(nil, 0x200)
		var serr *Error
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, ErrBreak, serr.Code)
	})
}

func TestCall(t *testing.T) {
	t.Run("returns on the matching rts", func(t *testing.T) {
		s := New()
		s.AddZeroedRAM(0x100, 0x100) // stack
		s.AddDataRAM(0x300, []byte{0xA9, 0x55, 0x60}) // LDA #$55 / RTS
		regs := Registers{PC: 0xBEEF, P: 0x34, S: 0xFF}
		require.NoError(t, s.Call(&regs, 0x300))
		want := Registers{PC: 0xBEEF, A: 0x55, P: 0x34, S: 0xFF}
		if diff := deep.Equal(regs, want); diff != nil {
			t.Fatalf("registers differ: %v\nstate: %s", diff, spew.Sdump(regs))
		}
	})
	t.Run("other errors propagate", func(t *testing.T) {
		s := New()
		s.AddZeroedRAM(0x100, 0x100)
		s.AddDataRAM(0x300, []byte{0x00}) // BRK
		err := s.Call(nil, 0x300)
		var serr *Error
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, ErrBreak, serr.Code)
	})
	t.Run("nested subroutines unwind to the trap", func(t *testing.T) {
		s := New()
		s.AddZeroedRAM(0x100, 0x100)
		s.AddDataRAM(0x300, []byte{0x20, 0x10, 0x03, 0x60}) // JSR $0310 / RTS
		s.AddDataRAM(0x310, []byte{0xE8, 0x60})             // INX / RTS
		regs := Registers{P: 0x34, S: 0xFF}
		require.NoError(t, s.Call(&regs, 0x300))
		assert.Equal(t, uint8(1), regs.X)
		assert.Equal(t, uint8(0xFF), regs.S)
	})
}

func TestErrorStr(t *testing.T) {
	assert.Equal(t, "no error", ErrorStr(ErrNone))
	assert.Equal(t, "BRK instruction executed", ErrorStr(ErrBreak))
	assert.Equal(t, "user defined error", ErrorStr(ErrUser))
	// Out of range values clamp.
	assert.Equal(t, "no error", ErrorStr(Code(5)))
	assert.Equal(t, "user defined error", ErrorStr(Code(-99)))
	e := &Error{Code: ErrWriteROM, Addr: 0xD000}
	assert.Equal(t, "write to read-only memory at address D000", e.Error())
}

func TestDprintfLevels(t *testing.T) {
	s := New()
	var buf bytes.Buffer
	s.SetTraceWriter(&buf)
	s.Dprintf("hidden %d", 1)
	assert.Zero(t, buf.Len())
	s.SetDebug(DebugTrace)
	s.Dprintf("shown %d", 2)
	assert.True(t, strings.Contains(buf.String(), "shown 2"))
}

// Package sim implements an interpreting simulator for the MOS 6502
// with per-address memory typing, host callbacks and cycle accounting.
// A host composes a machine by installing RAM, ROM and callback regions
// and then executing code through Run or Call until an error or a
// host-initiated stop.
package sim

import (
	"fmt"
	"io"
	"os"
)

const maxRAM = 0x10000

// Per-address memory status bits. A cell with no bits set is plain
// initialized RAM. Callback is orthogonal to the others: any address may
// be RAM or ROM and still carry callbacks.
const (
	msUndef    = uint8(0x01) // No region installed.
	msROM      = uint8(0x02) // Writes are errors.
	msInvalid  = uint8(0x04) // Installed but never written.
	msCallback = uint8(0x08) // At least one callback slot populated.
)

// Processor status flag bits.
const (
	FlagC = uint8(0x01)
	FlagZ = uint8(0x02)
	FlagI = uint8(0x04)
	FlagD = uint8(0x08)
	FlagB = uint8(0x10)
	FlagV = uint8(0x40)
	FlagN = uint8(0x80)
)

// Debug is the debug output level.
type Debug int

const (
	DebugNone Debug = iota
	DebugMessages
	DebugTrace
)

// ErrorLevel selects which latched errors terminate the run loop.
type ErrorLevel int

const (
	// ErrLvlNone only exits on unhandled errors: BRK, invalid
	// instructions, undefined memory execution, call return, cycle
	// limit and user errors.
	ErrLvlNone ErrorLevel = iota
	// ErrLvlMemory also exits on most memory errors but ignores writes
	// to ROM and reads from uninitialized memory.
	ErrLvlMemory
	// ErrLvlFull exits on all errors.
	ErrLvlFull

	ErrLvlDefault = ErrLvlMemory
)

// Callback access kinds, passed in the data argument. Any value >= 0 is
// a write with data holding the value being written.
const (
	CbWrite = 0
	CbRead  = -1
	CbExec  = -2
)

// Registers is the register file passed in and out of Run/Call and
// handed to callbacks.
type Registers struct {
	PC uint16
	A  uint8
	X  uint8
	Y  uint8
	P  uint8
	S  uint8
}

// Callback intercepts an access to a memory-mapped address. regs is the
// register snapshot at the time of the access and data encodes the
// access kind (CbRead, CbExec, or 0..255 for a write). The return value
// is 0..255 for a read or benign write, or a negative Code to latch as
// an error.
type Callback func(s *Sim, regs *Registers, addr uint16, data int) int

// Sim is the simulator state. One Sim owns a full 64KiB address space
// with its status table and callback slots. Instances are independent;
// all methods must be called from a single goroutine.
type Sim struct {
	debug      Debug
	err        Code
	errLvl     ErrorLevel
	trace      io.Writer
	errAddr    uint16
	cycles     uint64
	cycleLimit uint64
	doProf     bool
	r          Registers
	pValid     uint8
	mem        [maxRAM]uint8
	mems       [maxRAM]uint8
	cbRead     [maxRAM]Callback
	cbWrite    [maxRAM]Callback
	cbExec     [maxRAM]Callback
	prof       *profile
	labels     []string
}

// New returns a simulator with no address regions defined. The stack
// pointer starts at 0xFF and P at 0x34 with every flag marked unknown,
// so reads of never-written flags are diagnosed.
func New() *Sim {
	s := &Sim{
		trace:  os.Stderr,
		errLvl: ErrLvlDefault,
	}
	s.r.S = 0xFF
	s.r.P = 0x34
	s.pValid = 0xFF
	for i := range s.mems {
		s.mems[i] = msUndef | msInvalid
	}
	return s
}

// clampRange clips an install request to the address space, returning
// the first address past the end.
func clampRange(addr, length int) (int, int) {
	end := addr + length
	if end > maxRAM {
		end = maxRAM
	}
	return addr, end
}

// AddRAM installs an uninitialized RAM region. Reads before the first
// write are diagnosed as uninitialized.
func (s *Sim) AddRAM(addr, length int) {
	if addr >= maxRAM {
		return
	}
	addr, end := clampRange(addr, length)
	for ; addr < end; addr++ {
		s.mems[addr] &^= msUndef
	}
}

// AddZeroedRAM installs a RAM region with all bytes set to zero.
func (s *Sim) AddZeroedRAM(addr, length int) {
	if addr >= maxRAM {
		return
	}
	addr, end := clampRange(addr, length)
	for ; addr < end; addr++ {
		s.mems[addr] &^= msUndef | msROM | msInvalid
		s.mem[addr] = 0
	}
}

// AddDataRAM installs a RAM region holding the given data.
func (s *Sim) AddDataRAM(addr int, data []byte) {
	if addr >= maxRAM {
		return
	}
	addr, end := clampRange(addr, len(data))
	for i := 0; addr < end; addr, i = addr+1, i+1 {
		s.mems[addr] &^= msUndef | msROM | msInvalid
		s.mem[addr] = data[i]
	}
}

// AddDataROM installs a ROM region holding the given data. Writes to the
// region latch a write-to-ROM error and leave the bytes unchanged.
func (s *Sim) AddDataROM(addr int, data []byte) {
	if addr >= maxRAM {
		return
	}
	addr, end := clampRange(addr, len(data))
	for i := 0; addr < end; addr, i = addr+1, i+1 {
		s.mems[addr] &^= msUndef | msInvalid
		s.mems[addr] |= msROM
		s.mem[addr] = data[i]
	}
}

// AddCallback installs cb in the read, write or exec slot (per kind) at
// the given address. The other status bits of the cell are untouched.
func (s *Sim) AddCallback(addr int, cb Callback, kind int) {
	if addr >= maxRAM || addr < 0 {
		return
	}
	s.mems[addr] |= msCallback
	switch kind {
	case CbRead:
		s.cbRead[addr] = cb
	case CbWrite:
		s.cbWrite[addr] = cb
	case CbExec:
		s.cbExec[addr] = cb
	}
}

// AddCallbackRange installs cb over a range of addresses.
func (s *Sim) AddCallbackRange(addr, length int, cb Callback, kind int) {
	for i := addr; i < addr+length && i < maxRAM; i++ {
		s.AddCallback(i, cb, kind)
	}
}

// GetByte peeks at the value byte for addr without triggering callbacks
// or diagnostics. Returns 0..255, or a value >= 0x100 when the cell is
// undefined or uninitialized and holds no readable byte.
func (s *Sim) GetByte(addr int) int {
	if addr < 0 || addr >= maxRAM {
		return 0x100
	}
	if s.mems[addr]&msInvalid != 0 {
		return 0x100
	}
	return int(s.mem[addr])
}

// GetPByte returns a slice aliasing the value array starting at addr.
// The slice stays valid for the lifetime of the simulator, letting host
// devices shadow CPU RAM directly (e.g. a framebuffer).
func (s *Sim) GetPByte(addr uint16) []byte {
	return s.mem[addr:]
}

// setError latches e at addr. A no-op for non-errors and when an error
// is already latched: the first error wins.
func (s *Sim) setError(e Code, addr uint16) {
	if e < 0 && s.err == ErrNone {
		s.err = e
		s.errAddr = addr
	}
}

func (s *Sim) readPCSlow(addr uint16) uint8 {
	if s.mems[addr]&msUndef != 0 {
		s.setError(ErrExecUndef, addr)
	} else {
		s.setError(ErrExecUninit, addr)
	}
	return s.mem[addr]
}

// readPC fetches an instruction byte at PC+offset. Execution fetches
// bypass read callbacks; only the dedicated exec slot (consulted in
// next) applies.
func (s *Sim) readPC(offset uint16) uint8 {
	addr := s.r.PC + offset
	if s.mems[addr]&^(msROM|msCallback) == 0 {
		return s.mem[addr]
	}
	return s.readPCSlow(addr)
}

func (s *Sim) readByteSlow(addr uint16) uint8 {
	if s.mems[addr]&msCallback != 0 && s.cbRead[addr] != nil {
		e := s.cbRead[addr](s, &s.r, addr, CbRead)
		s.setError(Code(e), addr)
		return uint8(e)
	}
	if s.mems[addr]&msUndef != 0 {
		s.setError(ErrReadUndef, addr)
	} else {
		s.setError(ErrReadUninit, addr)
		// Initializes the memory so the diagnostic fires once.
		s.mems[addr] &^= msInvalid
	}
	return s.mem[addr]
}

// readByte is the CPU data read path.
func (s *Sim) readByte(addr uint16) uint8 {
	if s.mems[addr]&^msROM == 0 {
		return s.mem[addr]
	}
	return s.readByteSlow(addr)
}

func (s *Sim) writeByteSlow(addr uint16, val uint8) {
	switch {
	case s.mems[addr]&^msInvalid == 0:
		s.mem[addr] = val
		s.mems[addr] = 0
	case s.mems[addr]&msCallback != 0 && s.cbWrite[addr] != nil:
		s.setError(Code(s.cbWrite[addr](s, &s.r, addr, int(val))), addr)
	case s.mems[addr]&msUndef != 0:
		s.setError(ErrWriteUndef, addr)
	case s.mems[addr]&msROM != 0:
		s.setError(ErrWriteROM, addr)
	}
}

// writeByte is the CPU data write path.
func (s *Sim) writeByte(addr uint16, val uint8) {
	if s.mems[addr] == 0 {
		s.mem[addr] = val
		return
	}
	s.writeByteSlow(addr, val)
}

// readWord reads a little-endian word. The second byte address wraps at
// the top of the address space, not within a page.
func (s *Sim) readWord(addr uint16) uint16 {
	d := uint16(s.readByte(addr))
	return d | uint16(s.readByte(addr+1))<<8
}

// setFlags writes the masked flag bits and marks them valid.
func (s *Sim) setFlags(mask, val uint8) {
	s.r.P = (s.r.P &^ mask) | val
	s.pValid &^= mask
}

// getFlags reads the masked flag bits, diagnosing any that have never
// been written. The read proceeds with whatever P holds.
func (s *Sim) getFlags(mask uint8) uint8 {
	if s.pValid&mask != 0 {
		s.Eprintf("using uninitialized flags ($%02X) at PC=$%04X", s.pValid&mask, s.r.PC)
	}
	return s.r.P & mask
}

// SetFlags sets or clears flag bits in the simulated status register.
func (s *Sim) SetFlags(mask, val uint8) {
	s.setFlags(mask, val)
}

// SetDebug sets the debug output level.
func (s *Sim) SetDebug(level Debug) {
	s.debug = level
}

// SetTraceWriter redirects trace and debug output. Passing nil restores
// the default of standard error.
func (s *Sim) SetTraceWriter(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	s.trace = w
}

// SetErrorLevel sets the error policy consulted after each instruction.
func (s *Sim) SetErrorLevel(level ErrorLevel) {
	s.errLvl = level
}

// SetCycleLimit arranges for the run loop to stop with ErrCycleLimit
// after limit more cycles. A limit of 0 disables the check.
func (s *Sim) SetCycleLimit(limit uint64) {
	if limit != 0 {
		s.cycleLimit = s.cycles + limit
	} else {
		s.cycleLimit = 0
	}
}

// Cycles returns the number of cycles executed so far.
func (s *Sim) Cycles() uint64 {
	return s.cycles
}

// Regs returns a copy of the current register file.
func (s *Sim) Regs() Registers {
	return s.r
}

// SetPC sets the program counter. Used by front ends that single-step
// instead of calling Run.
func (s *Sim) SetPC(addr uint16) {
	s.r.PC = addr
}

// errorExit consults the error-level policy for the latched error.
// Fatal errors leave the slot latched and return true; non-fatal ones
// are reported to the debug channel, cleared, and execution resumes.
func (s *Sim) errorExit() bool {
	var e bool
	switch s.err {
	case ErrNone:
		return false
	case ErrReadUninit, ErrWriteROM:
		e = s.errLvl >= ErrLvlFull
	case ErrExecUninit, ErrReadUndef, ErrWriteUndef:
		e = s.errLvl >= ErrLvlMemory
	default:
		// BRK, invalid instruction, exec undefined, call return,
		// cycle limit and user errors always exit.
		return true
	}
	if !e {
		s.Dprintf("%s at address %04x", ErrorStr(s.err), s.errAddr)
		s.err = ErrNone
		return false
	}
	return true
}

func (s *Sim) errOrNil() error {
	if s.err == ErrNone {
		return nil
	}
	return &Error{Code: s.err, Addr: s.errAddr}
}

// Run executes from addr until the error policy stops it. If regs is
// non-nil it seeds the register file and receives the final state.
// The loop stops only on a fatal latched error, so the result is always
// a *Error carrying its code and address.
func (s *Sim) Run(regs *Registers, addr uint16) error {
	if regs != nil {
		s.r = *regs
	}
	s.err = ErrNone
	s.r.PC = addr
	for !s.errorExit() {
		s.next()
	}
	if regs != nil {
		*regs = s.r
	}
	return s.errOrNil()
}

// Step executes a single instruction at the current PC and applies the
// error policy, returning the fatal error if the run loop would stop.
func (s *Sim) Step() error {
	s.next()
	if s.errorExit() {
		return s.errOrNil()
	}
	return nil
}

// callRetTrap is the exec callback installed at the synthetic return
// address used by Call.
func callRetTrap(s *Sim, regs *Registers, addr uint16, data int) int {
	return int(ErrCallRet)
}

// Call simulates a JSR to addr from a synthetic return address of
// $0000: it pushes the return, runs until the matching RTS lands on
// $0000, then restores the caller's PC. Any error other than the
// internal return trap propagates.
func (s *Sim) Call(regs *Registers, addr uint16) error {
	if regs != nil {
		s.r = *regs
	}
	oldPC := s.r.PC

	s.r.PC = 0
	s.AddCallback(0, callRetTrap, CbExec)
	s.doJSR(addr)

	err := s.Run(nil, addr)
	if s.err == ErrCallRet {
		s.r.PC = oldPC
		s.err = ErrNone
		err = nil
	}
	if regs != nil {
		*regs = s.r
	}
	return err
}

// Dprintf prints a debug message when the messages level is active. At
// trace level the message also lands in the trace output, prefixed with
// the cycle counter so it interleaves with the trace.
func (s *Sim) Dprintf(format string, args ...interface{}) {
	if s.debug < DebugMessages {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if s.debug < DebugTrace || s.trace != io.Writer(os.Stderr) {
		fmt.Fprintf(os.Stderr, "mini65: %s\n", msg)
	}
	if s.debug >= DebugTrace {
		fmt.Fprintf(s.trace, "%08X: %s\n", uint32(s.cycles), msg)
	}
}

// Eprintf prints an error message regardless of debug level.
func (s *Sim) Eprintf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if s.debug < DebugTrace || s.trace != io.Writer(os.Stderr) {
		fmt.Fprintf(os.Stderr, "mini65: ERROR, %s\n", msg)
	}
	if s.debug >= DebugTrace {
		fmt.Fprintf(s.trace, "%08X: ERROR, %s\n", uint32(s.cycles), msg)
	}
}

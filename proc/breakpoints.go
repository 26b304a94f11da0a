package proc

import (
	"bytes"
	"fmt"
	"sort"
)

// Breakpoint represents a single breakpoint. It stores the byte(s) of
// data that originally lived at the patched address; those bytes are
// the only valid restore value for the lifetime of the breakpoint.
type Breakpoint struct {
	// File & line information for printing.
	FunctionName string
	File         string
	Line         int

	Addr         uint64 // address the breakpoint is set at (runtime address)
	OriginalData []byte // data we replaced with the trap instruction
	ID           int    // monotonically increasing ID, never reused

	enabled bool
}

func (bp *Breakpoint) String() string {
	return fmt.Sprintf("Breakpoint %d at %#x %s:%d", bp.ID, bp.Addr, bp.File, bp.Line)
}

// Enabled reports whether the trap instruction is currently patched in.
func (bp *Breakpoint) Enabled() bool {
	return bp.enabled
}

// BreakpointExistsError is returned when trying to set a breakpoint at
// an address that already has one. Reusing the existing breakpoint
// keeps the saved original bytes authoritative; re-saving would record
// the trap encoding as the restore value.
type BreakpointExistsError struct {
	file string
	line int
	addr uint64
}

func (bpe BreakpointExistsError) Error() string {
	return fmt.Sprintf("breakpoint already exists at %s:%d (%#x)", bpe.file, bpe.line, bpe.addr)
}

// InvalidAddressError represents the result of attempting to set a
// breakpoint at an address not covered by any known function.
type InvalidAddressError struct {
	address uint64
}

func (iae InvalidAddressError) Error() string {
	return fmt.Sprintf("invalid address %#x", iae.address)
}

// NoBreakpointError is returned when trying to clear a breakpoint that
// does not exist.
type NoBreakpointError struct {
	addr uint64
}

func (nbp NoBreakpointError) Error() string {
	return fmt.Sprintf("no breakpoint at %#x", nbp.addr)
}

// SetBreakpoint sets a software breakpoint at addr (a runtime
// address): the original byte(s) are saved and the architecture's trap
// instruction is patched in.
func (dbp *Process) SetBreakpoint(addr uint64) (*Breakpoint, error) {
	if dbp.exited {
		return nil, ProcessExitedError{Pid: dbp.Pid}
	}
	if bp, ok := dbp.Breakpoints[addr]; ok {
		return nil, BreakpointExistsError{bp.File, bp.Line, bp.Addr}
	}

	fn := dbp.BinInfo.FunctionContaining(dbp.toStatic(addr))
	if fn == nil {
		return nil, InvalidAddressError{address: addr}
	}
	file, line, _ := dbp.BinInfo.PCToLine(dbp.toStatic(addr))

	dbp.breakpointIDCounter++
	newBreakpoint := &Breakpoint{
		FunctionName: fn.Name,
		File:         file,
		Line:         line,
		Addr:         addr,
		ID:           dbp.breakpointIDCounter,
	}

	if err := dbp.enableBreakpoint(newBreakpoint); err != nil {
		return nil, err
	}
	dbp.Breakpoints[addr] = newBreakpoint

	dbp.logger.Debugf("set breakpoint %d at %#x (%s)", newBreakpoint.ID, addr, fn.Name)
	return newBreakpoint, nil
}

// ClearBreakpoint restores the original bytes at addr and removes the
// breakpoint from the table. The ID is retired, never reused.
func (dbp *Process) ClearBreakpoint(addr uint64) (*Breakpoint, error) {
	if dbp.exited {
		return nil, ProcessExitedError{Pid: dbp.Pid}
	}
	bp, ok := dbp.Breakpoints[addr]
	if !ok {
		return nil, NoBreakpointError{addr: addr}
	}
	if err := dbp.disableBreakpoint(bp); err != nil {
		return nil, err
	}
	delete(dbp.Breakpoints, addr)
	return bp, nil
}

// FindBreakpoint finds the breakpoint for the given runtime address.
func (dbp *Process) FindBreakpoint(addr uint64) (*Breakpoint, bool) {
	bp, ok := dbp.Breakpoints[addr]
	return bp, ok
}

// FindBreakpointByID finds the breakpoint with the given user visible
// number.
func (dbp *Process) FindBreakpointByID(id int) (*Breakpoint, bool) {
	for _, bp := range dbp.Breakpoints {
		if bp.ID == id {
			return bp, true
		}
	}
	return nil, false
}

// BreakpointList returns all breakpoints in creation order, which is
// ID order since IDs are assigned monotonically.
func (dbp *Process) BreakpointList() []*Breakpoint {
	bps := make([]*Breakpoint, 0, len(dbp.Breakpoints))
	for _, bp := range dbp.Breakpoints {
		bps = append(bps, bp)
	}
	sort.Slice(bps, func(i, j int) bool { return bps[i].ID < bps[j].ID })
	return bps
}

// enableBreakpoint saves the original data at the breakpoint address
// and patches in the trap instruction. The saved data is only captured
// once; re-enabling reuses it.
func (dbp *Process) enableBreakpoint(bp *Breakpoint) error {
	if bp.enabled {
		return nil
	}
	if bp.OriginalData == nil {
		originalData, err := dbp.ReadMemory(bp.Addr, dbp.arch.BreakpointSize())
		if err != nil {
			return err
		}
		if bytes.Equal(originalData, dbp.arch.BreakpointInstruction()) {
			return fmt.Errorf("%#x already contains a trap instruction", bp.Addr)
		}
		bp.OriginalData = originalData
	}
	if err := dbp.WriteMemory(bp.Addr, dbp.arch.BreakpointInstruction()); err != nil {
		return err
	}
	bp.enabled = true
	return nil
}

// disableBreakpoint restores the saved original data, removing the
// trap instruction from the tracee instruction stream.
func (dbp *Process) disableBreakpoint(bp *Breakpoint) error {
	if !bp.enabled {
		return nil
	}
	if err := dbp.WriteMemory(bp.Addr, bp.OriginalData); err != nil {
		return fmt.Errorf("could not restore original data: %v", err)
	}
	bp.enabled = false
	return nil
}

package proc

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	sys "golang.org/x/sys/unix"

	"github.com/mdbg/mdbg/bininfo"
	"github.com/mdbg/mdbg/logflags"
)

// StopReason describes why the target stopped.
type StopReason int

const (
	// StopLaunched means the target stopped at its entry point after
	// Launch or Attach.
	StopLaunched StopReason = iota
	// StopBreakpoint means a breakpoint was hit.
	StopBreakpoint
	// StopStep means a single step completed.
	StopStep
	// StopSignal means the target received a signal other than the
	// trap used for stepping and breakpoints.
	StopSignal
	// StopManual means the target was halted by request.
	StopManual
)

func (sr StopReason) String() string {
	switch sr {
	case StopLaunched:
		return "launched"
	case StopBreakpoint:
		return "breakpoint"
	case StopStep:
		return "step"
	case StopSignal:
		return "signal"
	case StopManual:
		return "halted"
	}
	return "unknown"
}

// Process represents the traced process and all of the state we keep
// about it: loaded debug information, active breakpoints, and the
// load base for position independent executables.
type Process struct {
	Pid     int         // process pid
	Process *os.Process // handle on the traced process

	// Breakpoints is a map holding information on the active
	// breakpoints, keyed by runtime address.
	Breakpoints map[uint64]*Breakpoint

	// BinInfo holds the debug information for the executable.
	BinInfo *bininfo.BinaryInfo

	// StopReason describes why the target last stopped.
	StopReason StopReason

	// StopSig is the signal that caused the last stop when StopReason
	// is StopSignal. It is re-delivered on the next continue.
	StopSig sys.Signal

	arch                Arch
	base                uint64 // load address of the first mapping
	breakpointIDCounter int
	running             bool
	exited              bool
	halt                bool
	haltMu              sync.Mutex

	logger *logrus.Entry
}

// New returns an initialized Process struct. Callers use Launch or
// Attach instead; those fill in the pid, the handle and the binary.
func New(pid int) *Process {
	return &Process{
		Pid:         pid,
		Breakpoints: make(map[uint64]*Breakpoint),
		arch:        AMD64Arch(),
		logger:      logflags.ProcLogger(),
	}
}

// ProcessExitedError is returned when trying to operate on a process
// that has exited.
type ProcessExitedError struct {
	Pid    int
	Status int
}

func (pe ProcessExitedError) Error() string {
	return fmt.Sprintf("Process %d has exited with status %d", pe.Pid, pe.Status)
}

// ProcessTerminatedError is returned when the process was killed by a
// signal during a continue or step.
type ProcessTerminatedError struct {
	Pid    int
	Signal sys.Signal
}

func (pt ProcessTerminatedError) Error() string {
	return fmt.Sprintf("Process %d terminated by signal %s", pt.Pid, pt.Signal)
}

// Exited reports whether the traced process has exited.
func (dbp *Process) Exited() bool {
	return dbp.exited
}

// Running reports whether the traced process is currently executing.
func (dbp *Process) Running() bool {
	return dbp.running
}

// Location represents a location in the target.
type Location struct {
	PC   uint64
	File string
	Line int
	Fn   *bininfo.Function
}

// CurrentLocation returns the location the target is stopped at.
func (dbp *Process) CurrentLocation() (Location, error) {
	pc, err := dbp.PC()
	if err != nil {
		return Location{}, err
	}
	return dbp.LocationAt(pc), nil
}

// LocationAt resolves the function and source position of a runtime
// address.
func (dbp *Process) LocationAt(pc uint64) Location {
	static := dbp.toStatic(pc)
	loc := Location{PC: pc, Fn: dbp.BinInfo.FunctionContaining(static)}
	loc.File, loc.Line, _ = dbp.BinInfo.PCToLine(static)
	return loc
}

// toStatic translates a runtime address into a link-time address, as
// used by the debug information.
func (dbp *Process) toStatic(addr uint64) uint64 {
	return addr - dbp.base
}

// toRuntime translates a link-time address into a runtime address.
func (dbp *Process) toRuntime(addr uint64) uint64 {
	return addr + dbp.base
}

// BaseAddress returns the load address of the first mapping of the
// executable. Zero for non-PIE binaries.
func (dbp *Process) BaseAddress() uint64 {
	return dbp.base
}

// Continue resumes execution until the next stop event: a breakpoint,
// a signal delivery, process exit or a manual halt.
func (dbp *Process) Continue() error {
	if dbp.exited {
		return ProcessExitedError{Pid: dbp.Pid}
	}
	if dbp.running {
		return ErrProcessRunning
	}
	// If we are resuming on top of a breakpoint the trap instruction
	// must not execute: restore the original data, step past it, then
	// plant the trap again.
	if err := dbp.stepOverBreakpoint(); err != nil {
		return err
	}
	if dbp.exited {
		return ProcessExitedError{Pid: dbp.Pid}
	}
	sig := 0
	if dbp.StopReason == StopSignal {
		sig = int(dbp.StopSig)
	}
	if err := PtraceCont(dbp.Pid, sig); err != nil {
		return fmt.Errorf("continue failed: %v", err)
	}
	dbp.running = true
	return dbp.trapWait()
}

// StepInstruction executes exactly one machine instruction.
func (dbp *Process) StepInstruction() error {
	if dbp.exited {
		return ProcessExitedError{Pid: dbp.Pid}
	}
	if dbp.running {
		return ErrProcessRunning
	}
	pc, err := dbp.PC()
	if err != nil {
		return err
	}
	if bp, ok := dbp.Breakpoints[pc]; ok && bp.enabled {
		return dbp.stepOverBreakpoint()
	}
	return dbp.singleStep()
}

// Step continues execution to the next source line, descending into
// function calls.
func (dbp *Process) Step() error {
	return dbp.sourceStep(false)
}

// Next continues execution to the next source line in the current
// function, stepping over any calls made on the way.
func (dbp *Process) Next() error {
	return dbp.sourceStep(true)
}

// sourceStep single-steps until the source line changes. With over
// set, instructions executed in deeper frames do not count as a line
// change: the step only completes once the stack pointer is back at or
// above its starting value.
func (dbp *Process) sourceStep(over bool) error {
	if dbp.exited {
		return ProcessExitedError{Pid: dbp.Pid}
	}
	if dbp.running {
		return ErrProcessRunning
	}
	start, err := dbp.CurrentLocation()
	if err != nil {
		return err
	}
	regs, err := dbp.Registers()
	if err != nil {
		return err
	}
	startSP := regs.SP()

	for {
		if err := dbp.StepInstruction(); err != nil {
			return err
		}
		// A breakpoint hit, incoming signal or halt request while
		// stepping wins over the step itself.
		if dbp.StopReason == StopBreakpoint || dbp.StopReason == StopSignal || dbp.StopReason == StopManual {
			return nil
		}
		loc, err := dbp.CurrentLocation()
		if err != nil {
			return err
		}
		// A lower stack pointer in a different function means we are
		// inside a call made by the starting line; skip through it.
		if over && loc.Fn != start.Fn {
			regs, err = dbp.Registers()
			if err != nil {
				return err
			}
			if regs.SP() < startSP {
				continue
			}
		}
		if start.Fn != nil && loc.Fn != start.Fn {
			break
		}
		if loc.File != start.File || loc.Line != start.Line {
			break
		}
	}
	dbp.StopReason = StopStep
	return nil
}

// singleStep executes one instruction and waits for the resulting
// trap. The stop reason after a successful step is StopStep unless the
// step landed on a breakpoint.
func (dbp *Process) singleStep() error {
	if err := PtraceSingleStep(dbp.Pid); err != nil {
		return err
	}
	dbp.running = true
	return dbp.trapWait()
}

// stepOverBreakpoint checks whether the current PC holds an enabled
// breakpoint and, if so, temporarily restores the original instruction
// to execute it. The breakpoint is re-armed afterwards so subsequent
// passes through the address still trap.
func (dbp *Process) stepOverBreakpoint() (err error) {
	pc, err := dbp.PC()
	if err != nil {
		return err
	}
	bp, ok := dbp.Breakpoints[pc]
	if !ok || !bp.enabled {
		return nil
	}
	if err := dbp.disableBreakpoint(bp); err != nil {
		return err
	}
	defer func() {
		if dbp.exited {
			return
		}
		if enableErr := dbp.enableBreakpoint(bp); enableErr != nil && err == nil {
			err = enableErr
		}
	}()
	return dbp.singleStep()
}

// Halt stops the target mid-run by sending it a stop signal. The next
// wait observes the stop and reports StopManual.
func (dbp *Process) Halt() error {
	if dbp.exited {
		return ProcessExitedError{Pid: dbp.Pid}
	}
	dbp.haltMu.Lock()
	dbp.halt = true
	dbp.haltMu.Unlock()
	return sys.Kill(dbp.Pid, sys.SIGSTOP)
}

func (dbp *Process) haltRequested() bool {
	dbp.haltMu.Lock()
	defer dbp.haltMu.Unlock()
	h := dbp.halt
	dbp.halt = false
	return h
}

func (dbp *Process) postExit(status int) {
	dbp.exited = true
	dbp.running = false
	for _, bp := range dbp.Breakpoints {
		bp.enabled = false
	}
	dbp.logger.Debugf("process %d exited with status %d", dbp.Pid, status)
}

// FindLocation converts a location expression into a runtime address.
// Accepted forms:
//
//	*0x1234 or 0x1234   literal address
//	file.c:42           file and line
//	funcname            entry point of the named function
func (dbp *Process) FindLocation(str string) (uint64, error) {
	str = strings.TrimSpace(str)
	if str == "" {
		return 0, fmt.Errorf("empty location")
	}
	if strings.HasPrefix(str, "*") {
		str = str[1:]
	}
	if strings.HasPrefix(str, "0x") {
		addr, err := strconv.ParseUint(str, 0, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid address %q", str)
		}
		return addr, nil
	}
	if idx := strings.LastIndex(str, ":"); idx > 0 {
		file, linestr := str[:idx], str[idx+1:]
		line, err := strconv.Atoi(linestr)
		if err != nil {
			return 0, fmt.Errorf("invalid line number %q", linestr)
		}
		pc, err := dbp.BinInfo.LineToPC(file, line)
		if err != nil {
			return 0, err
		}
		return dbp.toRuntime(pc), nil
	}
	fn := dbp.BinInfo.FindFunction(str)
	if fn == nil {
		return 0, bininfo.UnknownSymbolError{Name: str}
	}
	return dbp.toRuntime(fn.LowPC), nil
}

package proc

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	sys "golang.org/x/sys/unix"

	"github.com/mdbg/mdbg/bininfo"
)

// Launch forks/execs the given command, tracing it from the first
// instruction. The command inherits our stdin/stdout/stderr.
func Launch(cmd []string) (*Process, error) {
	var (
		process *exec.Cmd
		err     error
	)
	// The ptrace thread must be the one that starts the child; every
	// later ptrace request has to come from it.
	execOnPtraceThread(func() {
		process = exec.Command(cmd[0])
		process.Args = cmd
		process.Stdin = os.Stdin
		process.Stdout = os.Stdout
		process.Stderr = os.Stderr
		process.SysProcAttr = &syscall.SysProcAttr{Ptrace: true, Setpgid: true}
		err = process.Start()
	})
	if err != nil {
		return nil, err
	}

	dbp := New(process.Process.Pid)
	dbp.Process = process.Process

	// The child stops with SIGTRAP once execve completes.
	_, status, err := dbp.wait()
	if err != nil {
		return nil, fmt.Errorf("waiting for target execve failed: %v", err)
	}
	if status.Exited() {
		return nil, ProcessExitedError{Pid: dbp.Pid, Status: status.ExitStatus()}
	}

	path, err := filepath.Abs(cmd[0])
	if err != nil {
		return nil, err
	}
	return initializeDebugProcess(dbp, path)
}

// Attach attaches to the running process with the given pid.
func Attach(pid int) (*Process, error) {
	if err := PtraceAttach(pid); err != nil {
		return nil, fmt.Errorf("could not attach to pid %d: %v", pid, err)
	}
	dbp := New(pid)
	_, status, err := dbp.wait()
	if err != nil {
		return nil, err
	}
	if status.Exited() {
		return nil, ProcessExitedError{Pid: pid, Status: status.ExitStatus()}
	}
	dbp.Process, err = os.FindProcess(pid)
	if err != nil {
		return nil, err
	}
	path, err := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
	if err != nil {
		return nil, fmt.Errorf("could not read executable path for pid %d: %v", pid, err)
	}
	return initializeDebugProcess(dbp, path)
}

func initializeDebugProcess(dbp *Process, path string) (*Process, error) {
	bi, err := bininfo.Load(path)
	if err != nil {
		return nil, err
	}
	dbp.BinInfo = bi
	if bi.PIE() {
		if err := dbp.loadBaseAddress(); err != nil {
			return nil, err
		}
	}
	dbp.StopReason = StopLaunched
	return dbp, nil
}

// loadBaseAddress reads the start of the first mapping from
// /proc/pid/maps. For PIE executables that is the load base every
// link-time address is offset by.
func (dbp *Process) loadBaseAddress() error {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", dbp.Pid))
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return fmt.Errorf("could not read maps for pid %d", dbp.Pid)
	}
	line := scanner.Text()
	dash := strings.Index(line, "-")
	if dash < 0 {
		return fmt.Errorf("malformed maps entry %q", line)
	}
	base, err := strconv.ParseUint(line[:dash], 16, 64)
	if err != nil {
		return fmt.Errorf("malformed maps entry %q: %v", line, err)
	}
	dbp.base = base
	dbp.logger.Debugf("load base for pid %d is %#x", dbp.Pid, base)
	return nil
}

// Detach removes all breakpoints from the target and releases it,
// letting it run free.
func (dbp *Process) Detach() error {
	if dbp.exited {
		return ProcessExitedError{Pid: dbp.Pid}
	}
	for _, bp := range dbp.Breakpoints {
		if err := dbp.disableBreakpoint(bp); err != nil {
			return err
		}
	}
	return PtraceDetach(dbp.Pid, 0)
}

// Kill terminates the target with SIGKILL. Breakpoint bytes are not
// restored; the image dies with them.
func (dbp *Process) Kill() error {
	if dbp.exited {
		return nil
	}
	if err := sys.Kill(dbp.Pid, sys.SIGKILL); err != nil {
		return err
	}
	_, status, err := dbp.wait()
	if err != nil {
		return err
	}
	if !status.Signaled() && !status.Exited() {
		return fmt.Errorf("pid %d did not die after SIGKILL", dbp.Pid)
	}
	dbp.postExit(status.ExitStatus())
	return nil
}

func (dbp *Process) wait() (int, sys.WaitStatus, error) {
	var status sys.WaitStatus
	wpid, err := sys.Wait4(dbp.Pid, &status, sys.WALL, nil)
	return wpid, status, err
}

// trapWait waits for the target to stop and classifies the stop. It is
// the only place the running flag drops back to false.
func (dbp *Process) trapWait() error {
	_, status, err := dbp.wait()
	if err != nil {
		return fmt.Errorf("wait err %v %d", err, dbp.Pid)
	}
	dbp.running = false

	switch {
	case status.Exited():
		dbp.postExit(status.ExitStatus())
		return ProcessExitedError{Pid: dbp.Pid, Status: status.ExitStatus()}

	case status.Signaled():
		dbp.postExit(128 + int(status.Signal()))
		return ProcessTerminatedError{Pid: dbp.Pid, Signal: status.Signal()}

	case status.Stopped():
		return dbp.classifyStop(status.StopSignal())
	}
	return fmt.Errorf("unexpected wait status %#x for pid %d", status, dbp.Pid)
}

// classifyStop decides what a stop means. A trap one byte past an
// enabled breakpoint is a breakpoint hit: the trap instruction already
// executed, so the PC is rewound onto the patched address.
func (dbp *Process) classifyStop(sig sys.Signal) error {
	switch {
	case sig == sys.SIGTRAP:
		regs, err := registers(dbp)
		if err != nil {
			return err
		}
		pc := regs.PC()
		if bp, ok := dbp.Breakpoints[pc-uint64(dbp.arch.BreakpointSize())]; ok && bp.enabled {
			if err := regs.SetPC(dbp, bp.Addr); err != nil {
				return err
			}
			dbp.StopReason = StopBreakpoint
			dbp.logger.Debugf("hit breakpoint %d at %#x", bp.ID, bp.Addr)
			return nil
		}
		dbp.StopReason = StopStep
		return nil

	case sig == sys.SIGSTOP && dbp.haltRequested():
		dbp.StopReason = StopManual
		return nil

	default:
		dbp.StopReason = StopSignal
		dbp.StopSig = sig
		dbp.logger.Debugf("target stopped by signal %s", sig)
		return nil
	}
}

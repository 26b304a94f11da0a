package proc

import (
	"syscall"

	sys "golang.org/x/sys/unix"
)

// PtraceAttach executes the sys.PtraceAttach call.
func PtraceAttach(pid int) error {
	var err error
	execOnPtraceThread(func() { err = sys.PtraceAttach(pid) })
	return err
}

// PtraceDetach calls ptrace(PTRACE_DETACH).
func PtraceDetach(pid, sig int) error {
	var err error
	execOnPtraceThread(func() {
		_, _, err = sys.Syscall6(sys.SYS_PTRACE, sys.PTRACE_DETACH, uintptr(pid), 1, uintptr(sig), 0, 0)
	})
	if err != syscall.Errno(0) {
		return err
	}
	return nil
}

// PtraceCont executes ptrace PTRACE_CONT, delivering sig to the tracee
// if nonzero.
func PtraceCont(pid, sig int) error {
	var err error
	execOnPtraceThread(func() { err = sys.PtraceCont(pid, sig) })
	return err
}

// PtraceSingleStep executes ptrace PTRACE_SINGLESTEP.
func PtraceSingleStep(pid int) error {
	var err error
	execOnPtraceThread(func() { err = sys.PtraceSingleStep(pid) })
	return err
}

// PtraceGetRegs reads the tracee register file into regs.
func PtraceGetRegs(pid int, regs *sys.PtraceRegs) error {
	var err error
	execOnPtraceThread(func() { err = sys.PtraceGetRegs(pid, regs) })
	return err
}

// PtraceSetRegs writes regs into the tracee register file.
func PtraceSetRegs(pid int, regs *sys.PtraceRegs) error {
	var err error
	execOnPtraceThread(func() { err = sys.PtraceSetRegs(pid, regs) })
	return err
}

// PtracePeekData reads len(data) bytes from the tracee address space
// starting at addr.
func PtracePeekData(pid int, addr uintptr, data []byte) (int, error) {
	var (
		n   int
		err error
	)
	execOnPtraceThread(func() { n, err = sys.PtracePeekData(pid, addr, data) })
	return n, err
}

// PtracePokeData writes data into the tracee address space starting at
// addr.
func PtracePokeData(pid int, addr uintptr, data []byte) (int, error) {
	var (
		n   int
		err error
	)
	execOnPtraceThread(func() { n, err = sys.PtracePokeData(pid, addr, data) })
	return n, err
}

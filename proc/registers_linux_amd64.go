package proc

import (
	"bytes"
	"fmt"

	sys "golang.org/x/sys/unix"
)

// DWARF register numbers for x86-64, from the System V ABI.
const (
	dwarfRAX = 0
	dwarfRDX = 1
	dwarfRCX = 2
	dwarfRBX = 3
	dwarfRSI = 4
	dwarfRDI = 5
	dwarfRBP = 6
	dwarfRSP = 7
	dwarfR8  = 8
	dwarfR15 = 15
	dwarfRIP = 16
)

// Regs is a wrapper for sys.PtraceRegs.
type Regs struct {
	regs *sys.PtraceRegs
}

func (r *Regs) String() string {
	var buf bytes.Buffer
	var regs = []struct {
		k string
		v uint64
	}{
		{"Rip", r.regs.Rip},
		{"Rsp", r.regs.Rsp},
		{"Rax", r.regs.Rax},
		{"Rbx", r.regs.Rbx},
		{"Rcx", r.regs.Rcx},
		{"Rdx", r.regs.Rdx},
		{"Rdi", r.regs.Rdi},
		{"Rsi", r.regs.Rsi},
		{"Rbp", r.regs.Rbp},
		{"R8", r.regs.R8},
		{"R9", r.regs.R9},
		{"R10", r.regs.R10},
		{"R11", r.regs.R11},
		{"R12", r.regs.R12},
		{"R13", r.regs.R13},
		{"R14", r.regs.R14},
		{"R15", r.regs.R15},
		{"Eflags", r.regs.Eflags},
	}
	for _, reg := range regs {
		fmt.Fprintf(&buf, "%8s = %0#16x\n", reg.k, reg.v)
	}
	return buf.String()
}

// PC returns the value of the RIP register.
func (r *Regs) PC() uint64 {
	return r.regs.PC()
}

// SP returns the value of the RSP register.
func (r *Regs) SP() uint64 {
	return r.regs.Rsp
}

// BP returns the value of the RBP register.
func (r *Regs) BP() uint64 {
	return r.regs.Rbp
}

// SetPC sets RIP to the value specified by 'pc'.
func (r *Regs) SetPC(dbp *Process, pc uint64) error {
	r.regs.SetPC(pc)
	return PtraceSetRegs(dbp.Pid, r.regs)
}

// Get returns the value of the register with the given DWARF register
// number.
func (r *Regs) Get(n int) (uint64, error) {
	switch n {
	case dwarfRAX:
		return r.regs.Rax, nil
	case dwarfRDX:
		return r.regs.Rdx, nil
	case dwarfRCX:
		return r.regs.Rcx, nil
	case dwarfRBX:
		return r.regs.Rbx, nil
	case dwarfRSI:
		return r.regs.Rsi, nil
	case dwarfRDI:
		return r.regs.Rdi, nil
	case dwarfRBP:
		return r.regs.Rbp, nil
	case dwarfRSP:
		return r.regs.Rsp, nil
	case dwarfR8:
		return r.regs.R8, nil
	case dwarfR8 + 1:
		return r.regs.R9, nil
	case dwarfR8 + 2:
		return r.regs.R10, nil
	case dwarfR8 + 3:
		return r.regs.R11, nil
	case dwarfR8 + 4:
		return r.regs.R12, nil
	case dwarfR8 + 5:
		return r.regs.R13, nil
	case dwarfR8 + 6:
		return r.regs.R14, nil
	case dwarfR15:
		return r.regs.R15, nil
	case dwarfRIP:
		return r.regs.Rip, nil
	}
	return 0, ErrUnknownRegister
}

func registers(dbp *Process) (Registers, error) {
	var regs sys.PtraceRegs
	if err := PtraceGetRegs(dbp.Pid, &regs); err != nil {
		return nil, err
	}
	return &Regs{&regs}, nil
}

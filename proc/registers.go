package proc

import "errors"

// Registers is an interface for a generic register snapshot. The
// interface encapsulates the generic values / actions we need
// independent of arch. A snapshot is read fresh on every stop and
// never cached across a continue/step.
type Registers interface {
	PC() uint64
	SP() uint64
	BP() uint64
	// Get returns the value of the register with the given DWARF
	// register number, as used in location expressions.
	Get(int) (uint64, error)
	SetPC(*Process, uint64) error
	String() string
}

// ErrUnknownRegister is returned by Get for register numbers outside
// the general purpose file.
var ErrUnknownRegister = errors.New("unknown register")

// Registers obtains a fresh register snapshot from the debugged
// process. The process must be stopped.
func (dbp *Process) Registers() (Registers, error) {
	if dbp.exited {
		return nil, ProcessExitedError{Pid: dbp.Pid}
	}
	if dbp.running {
		return nil, ErrProcessRunning
	}
	return registers(dbp)
}

// PC returns the current program counter.
func (dbp *Process) PC() (uint64, error) {
	regs, err := dbp.Registers()
	if err != nil {
		return 0, err
	}
	return regs.PC(), nil
}

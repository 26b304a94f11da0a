package proc

import (
	"encoding/binary"
	"errors"
)

// ErrProcessRunning is returned by memory and register operations
// attempted while the tracee is not stopped. Mutating a running
// address space is a caller bug, not a condition to retry.
var ErrProcessRunning = errors.New("process is running")

const wordSize = 8

// ReadMemory reads size bytes from the tracee address space starting
// at addr. The process must be stopped.
func (dbp *Process) ReadMemory(addr uint64, size int) ([]byte, error) {
	if err := dbp.memAccessOK(); err != nil {
		return nil, err
	}
	if size == 0 {
		return []byte{}, nil
	}
	data := make([]byte, size)
	if _, err := PtracePeekData(dbp.Pid, uintptr(addr), data); err != nil {
		return nil, err
	}
	return data, nil
}

// WriteMemory writes data into the tracee address space at addr. Spans
// that do not cover whole words are widened to word boundaries and
// written with a read-modify-write so that neighbouring bytes are
// preserved.
func (dbp *Process) WriteMemory(addr uint64, data []byte) error {
	if err := dbp.memAccessOK(); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	start := addr &^ (wordSize - 1)
	end := (addr + uint64(len(data)) + wordSize - 1) &^ (wordSize - 1)

	span := make([]byte, end-start)
	if _, err := PtracePeekData(dbp.Pid, uintptr(start), span); err != nil {
		return err
	}
	copy(span[addr-start:], data)
	if _, err := PtracePokeData(dbp.Pid, uintptr(start), span); err != nil {
		return err
	}
	return nil
}

// readUintRaw reads one pointer-sized little endian word at addr.
func (dbp *Process) readUintRaw(addr uint64) (uint64, error) {
	data, err := dbp.ReadMemory(addr, wordSize)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(data), nil
}

func (dbp *Process) memAccessOK() error {
	if dbp.exited {
		return ProcessExitedError{Pid: dbp.Pid}
	}
	if dbp.running {
		return ErrProcessRunning
	}
	return nil
}

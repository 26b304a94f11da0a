package proc

import (
	"errors"
	"fmt"

	"github.com/mdbg/mdbg/bininfo"
	"github.com/mdbg/mdbg/dwarf/op"
)

// Stackframe represents one frame of the call stack.
type Stackframe struct {
	// Current is the location in this frame: the stopped PC for frame
	// zero, the return address for every caller frame.
	Current Location
	// CFA is the canonical frame address, the value variable location
	// expressions are relative to.
	CFA int64
	// Ret is the address this frame returns to.
	Ret uint64
	// FP is the frame pointer register value for this frame.
	FP uint64
}

// Stacktrace is the result of a stack walk. Truncated is set when the
// walk stopped early, either at the depth bound or because a frame
// could not be read.
type Stacktrace struct {
	Frames    []Stackframe
	Truncated bool
}

// Stacktrace walks the frame pointer chain, at most depth frames deep.
// The walk ends cleanly when a frame's PC falls outside every known
// function or the saved frame pointer is zero, which is how the
// runtime marks the outermost frame.
func (dbp *Process) Stacktrace(depth int) (*Stacktrace, error) {
	if err := dbp.memAccessOK(); err != nil {
		return nil, err
	}
	regs, err := dbp.Registers()
	if err != nil {
		return nil, err
	}

	st := &Stacktrace{}
	pc, fp := regs.PC(), regs.BP()

	for len(st.Frames) < depth {
		loc := dbp.LocationAt(pc)
		frame := Stackframe{
			Current: loc,
			CFA:     int64(fp) + dbp.arch.FrameBaseOffset(),
			FP:      fp,
		}
		ret, retErr := dbp.readUintRaw(fp + uint64(dbp.arch.RetAddrOffset()))
		callerFP, fpErr := dbp.readUintRaw(fp)
		if retErr != nil || fpErr != nil {
			st.Frames = append(st.Frames, frame)
			st.Truncated = true
			return st, nil
		}
		frame.Ret = ret
		st.Frames = append(st.Frames, frame)

		if loc.Fn == nil || callerFP == 0 {
			return st, nil
		}
		pc, fp = ret, callerFP
		if dbp.BinInfo.FunctionContaining(dbp.toStatic(pc)) == nil {
			return st, nil
		}
	}
	st.Truncated = true
	return st, nil
}

// Variable is a variable of a stopped frame together with its resolved
// value. When the value could not be resolved Unreadable holds the
// reason and the other fields are zero.
type Variable struct {
	Name       string
	Addr       uint64
	Value      uint64
	Type       *bininfo.TypeInfo
	Unreadable error
}

func (v *Variable) String() string {
	if v.Unreadable != nil {
		return fmt.Sprintf("%s = <unreadable: %v>", v.Name, v.Unreadable)
	}
	if v.Type != nil && v.Type.Signed {
		return fmt.Sprintf("%s = %d", v.Name, signExtend(v.Value, v.Type.Size))
	}
	return fmt.Sprintf("%s = %d", v.Name, v.Value)
}

var errNoLocation = errors.New("no location expression")

// FrameVariables resolves the formal parameters and local variables of
// the function the given frame is in. Unresolvable variables are
// reported, not dropped.
func (dbp *Process) FrameVariables(frame Stackframe) ([]*Variable, error) {
	if err := dbp.memAccessOK(); err != nil {
		return nil, err
	}
	if frame.Current.Fn == nil {
		return nil, fmt.Errorf("no function at %#x", frame.Current.PC)
	}
	descrs := dbp.BinInfo.Variables(frame.Current.Fn)
	vars := make([]*Variable, 0, len(descrs))
	for _, d := range descrs {
		vars = append(vars, dbp.resolveVariable(frame, d))
	}
	return vars, nil
}

func (dbp *Process) resolveVariable(frame Stackframe, d *bininfo.Variable) *Variable {
	v := &Variable{Name: d.Name}
	v.Type, _ = dbp.BinInfo.TypeOf(d)

	if len(d.LocationExpr) == 0 {
		v.Unreadable = errNoLocation
		return v
	}
	loc, err := op.ExecuteStackProgram(frame.CFA, dbp.frameRegisters(frame), d.LocationExpr)
	if err != nil {
		v.Unreadable = err
		return v
	}
	if loc.Reg >= 0 {
		regs, err := dbp.Registers()
		if err != nil {
			v.Unreadable = err
			return v
		}
		val, err := regs.Get(loc.Reg)
		if err != nil {
			v.Unreadable = err
			return v
		}
		v.Value = maskToSize(val, v.Type)
		return v
	}

	addr := uint64(loc.Addr)
	// Absolute addresses come from the debug information and must be
	// rebased for position independent executables.
	if d.LocationExpr[0] == op.DW_OP_addr {
		addr = dbp.toRuntime(addr)
	}
	v.Addr = addr
	val, err := dbp.readUintRaw(addr)
	if err != nil {
		v.Unreadable = err
		return v
	}
	v.Value = maskToSize(val, v.Type)
	return v
}

// frameRegisters builds the register lookup used by location
// expressions for the given frame. The frame pointer comes from the
// unwound frame; everything else is only valid for frame zero and
// falls back to the live registers.
func (dbp *Process) frameRegisters(frame Stackframe) op.RegisterLookup {
	return func(num uint64) (uint64, error) {
		switch num {
		case dwarfRBP:
			return frame.FP, nil
		case dwarfRIP:
			return frame.Current.PC, nil
		}
		regs, err := dbp.Registers()
		if err != nil {
			return 0, err
		}
		return regs.Get(int(num))
	}
}

func maskToSize(val uint64, typ *bininfo.TypeInfo) uint64 {
	if typ == nil || typ.Size <= 0 || typ.Size >= 8 {
		return val
	}
	return val & (1<<(uint(typ.Size)*8) - 1)
}

func signExtend(val uint64, size int64) int64 {
	if size <= 0 || size >= 8 {
		return int64(val)
	}
	shift := uint(64 - size*8)
	return int64(val<<shift) >> shift
}

package proc

import (
	"golang.org/x/arch/x86/x86asm"
)

// AsmInstruction is a disassembled machine instruction.
type AsmInstruction struct {
	Loc        Location
	Bytes      []byte
	Text       string
	Breakpoint bool // a breakpoint is set on this instruction
}

// Disassemble decodes the instructions between startPC and endPC
// (runtime addresses). Trap bytes planted for breakpoints are replaced
// with the saved original data so the listing shows the real program.
func (dbp *Process) Disassemble(startPC, endPC uint64) ([]AsmInstruction, error) {
	if err := dbp.memAccessOK(); err != nil {
		return nil, err
	}
	mem, err := dbp.ReadMemory(startPC, int(endPC-startPC))
	if err != nil {
		return nil, err
	}

	patched := make(map[uint64]bool)
	for _, bp := range dbp.Breakpoints {
		if !bp.enabled || bp.Addr < startPC || bp.Addr >= endPC {
			continue
		}
		copy(mem[bp.Addr-startPC:], bp.OriginalData)
		patched[bp.Addr] = true
	}

	var instrs []AsmInstruction
	pc := startPC
	for len(mem) > 0 {
		inst, err := x86asm.Decode(mem, 64)
		size := inst.Len
		text := x86asm.IntelSyntax(inst, pc, nil)
		if err != nil {
			size = 1
			text = "?"
		}
		instrs = append(instrs, AsmInstruction{
			Loc:        dbp.LocationAt(pc),
			Bytes:      mem[:size],
			Text:       text,
			Breakpoint: patched[pc],
		})
		mem = mem[size:]
		pc += uint64(size)
	}
	return instrs, nil
}

// DisassembleFunction decodes the whole function containing pc.
func (dbp *Process) DisassembleFunction(pc uint64) ([]AsmInstruction, error) {
	fn := dbp.BinInfo.FunctionContaining(dbp.toStatic(pc))
	if fn == nil {
		return nil, InvalidAddressError{address: pc}
	}
	return dbp.Disassemble(dbp.toRuntime(fn.LowPC), dbp.toRuntime(fn.HighPC))
}

// Package op evaluates the subset of DWARF location expressions
// produced for unoptimized C: frame base relative offsets, register
// locations and simple address arithmetic.
package op

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/mdbg/mdbg/dwarf/util"
)

const (
	DW_OP_addr           = 0x03
	DW_OP_consts         = 0x11
	DW_OP_plus           = 0x22
	DW_OP_plus_uconst    = 0x23
	DW_OP_reg0           = 0x50
	DW_OP_reg31          = 0x6f
	DW_OP_breg0          = 0x70
	DW_OP_breg31         = 0x8f
	DW_OP_fbreg          = 0x91
	DW_OP_call_frame_cfa = 0x9c
)

// RegisterLookup returns the value of the register with the given
// DWARF register number.
type RegisterLookup func(num uint64) (uint64, error)

// Location is the result of evaluating a location expression. A value
// lives either in tracee memory at Addr or directly in register Reg.
type Location struct {
	Addr int64
	Reg  int // DWARF register number, -1 if the value is in memory
}

type context struct {
	fb    int64
	regs  RegisterLookup
	stack []int64
}

type stackfn func(*bytes.Buffer, *context) error

var oplut = map[byte]stackfn{
	DW_OP_addr:           addr,
	DW_OP_consts:         consts,
	DW_OP_plus:           plus,
	DW_OP_plus_uconst:    plusuconst,
	DW_OP_fbreg:          framebase,
	DW_OP_call_frame_cfa: callframecfa,
}

// ExecuteStackProgram evaluates instructions against the given frame
// base (the CFA for DW_OP_fbreg and DW_OP_call_frame_cfa) and register
// file. The expressions emitted by gcc/clang at -O0 are one or two
// operations long; anything outside the supported subset is an error.
func ExecuteStackProgram(framebase int64, regs RegisterLookup, instructions []byte) (Location, error) {
	if len(instructions) == 0 {
		return Location{}, errors.New("empty location expression")
	}

	// A bare DW_OP_regN names a register location, not an address
	// computation.
	if op := instructions[0]; op >= DW_OP_reg0 && op <= DW_OP_reg31 && len(instructions) == 1 {
		return Location{Reg: int(op - DW_OP_reg0)}, nil
	}

	ctx := &context{fb: framebase, regs: regs, stack: make([]int64, 0, 3)}
	buf := bytes.NewBuffer(instructions)

	for opcode, err := buf.ReadByte(); err == nil; opcode, err = buf.ReadByte() {
		if opcode >= DW_OP_breg0 && opcode <= DW_OP_breg31 {
			if err := breg(buf, ctx, uint64(opcode-DW_OP_breg0)); err != nil {
				return Location{}, err
			}
			continue
		}
		fn, ok := oplut[opcode]
		if !ok {
			return Location{}, fmt.Errorf("unsupported DWARF opcode %#x", opcode)
		}
		if err := fn(buf, ctx); err != nil {
			return Location{}, err
		}
	}

	if len(ctx.stack) == 0 {
		return Location{}, errors.New("empty OP stack")
	}

	return Location{Addr: ctx.stack[len(ctx.stack)-1], Reg: -1}, nil
}

func addr(buf *bytes.Buffer, ctx *context) error {
	if buf.Len() < 8 {
		return errors.New("truncated DW_OP_addr operand")
	}
	ctx.stack = append(ctx.stack, int64(binary.LittleEndian.Uint64(buf.Next(8))))
	return nil
}

func consts(buf *bytes.Buffer, ctx *context) error {
	num, _ := util.DecodeSLEB128(buf)
	ctx.stack = append(ctx.stack, num)
	return nil
}

func plus(buf *bytes.Buffer, ctx *context) error {
	if len(ctx.stack) < 2 {
		return errors.New("DW_OP_plus needs two operands")
	}
	slen := len(ctx.stack)
	digits := ctx.stack[slen-2 : slen]
	ctx.stack = append(ctx.stack[:slen-2], digits[0]+digits[1])
	return nil
}

func plusuconst(buf *bytes.Buffer, ctx *context) error {
	if len(ctx.stack) == 0 {
		return errors.New("DW_OP_plus_uconst on empty stack")
	}
	num, _ := util.DecodeULEB128(buf)
	ctx.stack[len(ctx.stack)-1] += int64(num)
	return nil
}

func framebase(buf *bytes.Buffer, ctx *context) error {
	offset, _ := util.DecodeSLEB128(buf)
	ctx.stack = append(ctx.stack, ctx.fb+offset)
	return nil
}

func callframecfa(buf *bytes.Buffer, ctx *context) error {
	ctx.stack = append(ctx.stack, ctx.fb)
	return nil
}

func breg(buf *bytes.Buffer, ctx *context, num uint64) error {
	if ctx.regs == nil {
		return errors.New("location expression needs registers")
	}
	offset, _ := util.DecodeSLEB128(buf)
	regval, err := ctx.regs(num)
	if err != nil {
		return err
	}
	ctx.stack = append(ctx.stack, int64(regval)+offset)
	return nil
}

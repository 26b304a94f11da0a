package proc

// Arch defines an interface for representing a CPU architecture.
type Arch interface {
	PtrSize() int
	BreakpointInstruction() []byte
	BreakpointSize() int
	// RetAddrOffset is the offset of the saved return address from the
	// frame pointer at any point after the function prologue.
	RetAddrOffset() int64
	// FrameBaseOffset is the offset of the canonical frame address
	// (the caller's stack pointer at the call site) from the frame
	// pointer.
	FrameBaseOffset() int64
}

// AMD64 represents the AMD64 CPU architecture.
type AMD64 struct {
	ptrSize             int
	breakInstruction    []byte
	breakInstructionLen int
}

// AMD64Arch returns an initialized AMD64 struct.
func AMD64Arch() *AMD64 {
	var breakInstr = []byte{0xCC}

	return &AMD64{
		ptrSize:             8,
		breakInstruction:    breakInstr,
		breakInstructionLen: len(breakInstr),
	}
}

// PtrSize returns the size of a pointer on this architecture.
func (a *AMD64) PtrSize() int {
	return a.ptrSize
}

// BreakpointInstruction returns the breakpoint instruction (INT 3)
// for this architecture.
func (a *AMD64) BreakpointInstruction() []byte {
	return a.breakInstruction
}

// BreakpointSize returns the size of the breakpoint instruction on
// this architecture.
func (a *AMD64) BreakpointSize() int {
	return a.breakInstructionLen
}

// RetAddrOffset returns the offset of the saved return address
// relative to RBP. The conventional prologue pushes the return address
// and then the caller's RBP, so the return address sits one word above
// the frame pointer.
func (a *AMD64) RetAddrOffset() int64 {
	return int64(a.ptrSize)
}

// FrameBaseOffset returns the offset of the canonical frame address
// relative to RBP: past the saved RBP and the saved return address.
func (a *AMD64) FrameBaseOffset() int64 {
	return 2 * int64(a.ptrSize)
}

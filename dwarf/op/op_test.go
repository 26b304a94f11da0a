package op

import "testing"

func TestExecuteStackProgram(t *testing.T) {
	var tests = []struct {
		name         string
		instructions []byte
		want         int64
	}{
		{"fbreg negative", []byte{DW_OP_fbreg, 0x6c}, 0x1000 - 20},
		{"fbreg positive", []byte{DW_OP_fbreg, 0x10}, 0x1000 + 16},
		{"call_frame_cfa", []byte{DW_OP_call_frame_cfa}, 0x1000},
		{"consts plus", []byte{DW_OP_consts, 0x1c, DW_OP_consts, 0x1c, DW_OP_plus}, 56},
		{"plus_uconst", []byte{DW_OP_consts, 0x08, DW_OP_plus_uconst, 0x10}, 24},
		{"addr", []byte{DW_OP_addr, 0xef, 0xbe, 0xad, 0xde, 0, 0, 0, 0}, 0xdeadbeef},
	}

	for _, tt := range tests {
		loc, err := ExecuteStackProgram(0x1000, nil, tt.instructions)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if loc.Reg != -1 {
			t.Errorf("%s: expected memory location, got register %d", tt.name, loc.Reg)
		}
		if loc.Addr != tt.want {
			t.Errorf("%s: got %#x, want %#x", tt.name, loc.Addr, tt.want)
		}
	}
}

func TestRegisterLocation(t *testing.T) {
	loc, err := ExecuteStackProgram(0, nil, []byte{DW_OP_reg0 + 5})
	if err != nil {
		t.Fatal(err)
	}
	if loc.Reg != 5 {
		t.Errorf("got register %d, want 5", loc.Reg)
	}
}

func TestBreg(t *testing.T) {
	regs := func(num uint64) (uint64, error) {
		if num != 6 {
			t.Errorf("looked up register %d, want 6", num)
		}
		return 0x2000, nil
	}
	loc, err := ExecuteStackProgram(0, regs, []byte{DW_OP_breg0 + 6, 0x70}) // rbp - 16
	if err != nil {
		t.Fatal(err)
	}
	if loc.Addr != 0x2000-16 {
		t.Errorf("got %#x, want %#x", loc.Addr, 0x2000-16)
	}
}

func TestUnsupportedOpcode(t *testing.T) {
	if _, err := ExecuteStackProgram(0, nil, []byte{0xe0}); err == nil {
		t.Fatal("expected error for unsupported opcode")
	}
	if _, err := ExecuteStackProgram(0, nil, nil); err == nil {
		t.Fatal("expected error for empty expression")
	}
}

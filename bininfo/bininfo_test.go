package bininfo_test

import (
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/mdbg/mdbg/bininfo"
	"github.com/mdbg/mdbg/proc/test"
)

func loadFixture(t *testing.T, name string) (*bininfo.BinaryInfo, test.Fixture) {
	t.Helper()
	fixture := test.BuildFixture(t, name)
	bi, err := bininfo.Load(fixture.Path)
	if err != nil {
		t.Fatalf("Load(%s): %v", fixture.Path, err)
	}
	return bi, fixture
}

func TestLoadFunctions(t *testing.T) {
	bi, _ := loadFixture(t, "testprog")

	fn := bi.FindFunction("complex_function")
	if fn == nil {
		t.Fatal("complex_function not found")
	}
	if fn.LowPC == 0 || fn.HighPC <= fn.LowPC {
		t.Fatalf("bad range [%#x, %#x)", fn.LowPC, fn.HighPC)
	}
	if len(fn.Formals) != 2 || fn.Formals[0].Name != "a" || fn.Formals[1].Name != "b" {
		t.Fatalf("formals = %v, want a, b", names(fn.Formals))
	}
	if len(fn.Locals) != 2 || fn.Locals[0].Name != "sum" || fn.Locals[1].Name != "prod" {
		t.Fatalf("locals = %v, want sum, prod", names(fn.Locals))
	}
	for _, v := range append(fn.Formals, fn.Locals...) {
		if len(v.LocationExpr) == 0 {
			t.Errorf("variable %s has no location expression", v.Name)
		}
	}

	if bi.FindFunction("main") == nil {
		t.Error("main not found")
	}
	if bi.FindFunction("no_such_function") != nil {
		t.Error("lookup of unknown name should return nil")
	}
}

func names(vars []*bininfo.Variable) []string {
	out := make([]string, len(vars))
	for i, v := range vars {
		out[i] = v.Name
	}
	return out
}

func TestFunctionContaining(t *testing.T) {
	bi, _ := loadFixture(t, "testprog")
	fn := bi.FindFunction("complex_function")

	if got := bi.FunctionContaining(fn.LowPC); got != fn {
		t.Errorf("FunctionContaining(low) = %v, want %v", got, fn)
	}
	if got := bi.FunctionContaining(fn.HighPC - 1); got != fn {
		t.Errorf("FunctionContaining(high-1) = %v, want %v", got, fn)
	}
	if got := bi.FunctionContaining(fn.HighPC); got == fn {
		t.Error("high_pc is one past the end, must not be contained")
	}
	if got := bi.FunctionContaining(1); got != nil {
		t.Errorf("FunctionContaining(1) = %v, want nil", got)
	}
}

func TestLineTable(t *testing.T) {
	bi, fixture := loadFixture(t, "testprog")
	base := filepath.Base(fixture.Source)

	fn := bi.FindFunction("complex_function")
	file, line, ok := bi.PCToLine(fn.LowPC)
	if !ok {
		t.Fatalf("no line for entry of complex_function")
	}
	if filepath.Base(file) != base {
		t.Errorf("file = %s, want %s", file, base)
	}
	if line < 1 {
		t.Errorf("line = %d", line)
	}

	pc, err := bi.LineToPC(base, 15)
	if err != nil {
		t.Fatalf("LineToPC(%s:15): %v", base, err)
	}
	if mainFn := bi.FindFunction("main"); !mainFn.Contains(pc) {
		t.Errorf("pc %#x for line 15 outside main %v", pc, mainFn)
	}

	if _, err := bi.LineToPC(base, 9999); err == nil {
		t.Error("lookup of nonexistent line should fail")
	}
}

func TestFuncsMatching(t *testing.T) {
	bi, _ := loadFixture(t, "testprog")

	matches, err := bi.FuncsMatching("^complex")
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0] != "complex_function" {
		t.Errorf("matches = %v", matches)
	}

	all, err := bi.FuncsMatching("")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) < 2 {
		t.Errorf("expected at least main and complex_function, got %v", all)
	}

	if _, err := bi.FuncsMatching("("); err == nil {
		t.Error("invalid regexp should be rejected")
	}
}

func TestFuncsWithPrefix(t *testing.T) {
	bi, _ := loadFixture(t, "testprog")

	found := false
	for _, name := range bi.FuncsWithPrefix("complex_") {
		if name == "complex_function" {
			found = true
		}
	}
	if !found {
		t.Error("prefix search missed complex_function")
	}
	if bi.FuncsWithPrefix("") != nil {
		t.Error("empty prefix should complete to nothing")
	}
}

func TestTypeOf(t *testing.T) {
	bi, _ := loadFixture(t, "testprog")
	fn := bi.FindFunction("complex_function")

	ti, err := bi.TypeOf(fn.Formals[0])
	if err != nil {
		t.Fatal(err)
	}
	if ti.Size != 8 || !ti.Signed || ti.Float {
		t.Errorf("type of a = %+v, want signed 8-byte integer", ti)
	}
}

func TestLoadErrors(t *testing.T) {
	_, fixture := loadFixture(t, "testprog")

	if _, err := bininfo.Load(fixture.Source); err == nil {
		t.Error("loading a source file should fail")
	}
	if _, err := bininfo.Load(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("loading a missing file should fail")
	}
}

func TestLoadStripped(t *testing.T) {
	stripTool, err := exec.LookPath("strip")
	if err != nil {
		t.Skip("strip not installed")
	}
	_, fixture := loadFixture(t, "testprog")

	stripped := filepath.Join(t.TempDir(), "stripped")
	if out, err := exec.Command(stripTool, "-o", stripped, "--strip-debug", fixture.Path).CombinedOutput(); err != nil {
		t.Fatalf("strip: %v\n%s", err, out)
	}

	_, err = bininfo.Load(stripped)
	if _, ok := err.(bininfo.NoDebugInfoError); !ok {
		t.Fatalf("expected NoDebugInfoError, got %v", err)
	}
}

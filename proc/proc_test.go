package proc_test

import (
	"bytes"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sys "golang.org/x/sys/unix"

	"github.com/mdbg/mdbg/proc"
	"github.com/mdbg/mdbg/proc/test"
)

func withTestProcess(t *testing.T, name string, fn func(dbp *proc.Process, fixture test.Fixture)) {
	t.Helper()
	fixture := test.BuildFixture(t, name)
	dbp, err := proc.Launch([]string{fixture.Path})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	defer func() {
		if !dbp.Exited() {
			dbp.Kill()
		}
	}()
	fn(dbp, fixture)
}

func setFunctionBreakpoint(t *testing.T, dbp *proc.Process, name string) *proc.Breakpoint {
	t.Helper()
	addr, err := dbp.FindLocation(name)
	if err != nil {
		t.Fatalf("FindLocation(%s): %v", name, err)
	}
	bp, err := dbp.SetBreakpoint(addr)
	if err != nil {
		t.Fatalf("SetBreakpoint(%s): %v", name, err)
	}
	return bp
}

func assertExited(t *testing.T, err error) {
	t.Helper()
	if _, ok := err.(proc.ProcessExitedError); !ok {
		t.Fatalf("expected ProcessExitedError, got %v", err)
	}
}

func currentPC(t *testing.T, dbp *proc.Process) uint64 {
	t.Helper()
	pc, err := dbp.PC()
	if err != nil {
		t.Fatalf("PC: %v", err)
	}
	return pc
}

func TestLaunch(t *testing.T) {
	withTestProcess(t, "testprog", func(dbp *proc.Process, fixture test.Fixture) {
		if dbp.StopReason != proc.StopLaunched {
			t.Errorf("stop reason = %v, want launched", dbp.StopReason)
		}
		if dbp.Exited() || dbp.Running() {
			t.Error("freshly launched process should be stopped")
		}
		if dbp.BinInfo == nil {
			t.Fatal("no binary info loaded")
		}
	})
}

func TestBreakpointStopsAtEntry(t *testing.T) {
	withTestProcess(t, "testprog", func(dbp *proc.Process, fixture test.Fixture) {
		bp := setFunctionBreakpoint(t, dbp, "complex_function")

		if err := dbp.Continue(); err != nil {
			t.Fatalf("Continue: %v", err)
		}
		if dbp.StopReason != proc.StopBreakpoint {
			t.Fatalf("stop reason = %v, want breakpoint", dbp.StopReason)
		}
		if pc := currentPC(t, dbp); pc != bp.Addr {
			t.Fatalf("pc = %#x, want breakpoint address %#x", pc, bp.Addr)
		}
		loc, err := dbp.CurrentLocation()
		if err != nil {
			t.Fatal(err)
		}
		if loc.Fn == nil || loc.Fn.Name != "complex_function" {
			t.Fatalf("stopped in %v, want complex_function", loc.Fn)
		}
	})
}

func TestBreakpointPatchRestore(t *testing.T) {
	withTestProcess(t, "testprog", func(dbp *proc.Process, fixture test.Fixture) {
		addr, err := dbp.FindLocation("complex_function")
		if err != nil {
			t.Fatal(err)
		}
		before, err := dbp.ReadMemory(addr, 1)
		if err != nil {
			t.Fatal(err)
		}

		bp, err := dbp.SetBreakpoint(addr)
		if err != nil {
			t.Fatal(err)
		}
		patched, err := dbp.ReadMemory(addr, 1)
		if err != nil {
			t.Fatal(err)
		}
		if patched[0] != 0xcc {
			t.Fatalf("patched byte = %#x, want int3", patched[0])
		}
		if !bytes.Equal(bp.OriginalData, before) {
			t.Fatalf("saved original %x does not match pre-patch byte %x", bp.OriginalData, before)
		}

		if _, err := dbp.ClearBreakpoint(addr); err != nil {
			t.Fatal(err)
		}
		after, err := dbp.ReadMemory(addr, 1)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(before, after) {
			t.Fatalf("restored byte %x differs from original %x", after, before)
		}
	})
}

func TestBreakpointAddressDedup(t *testing.T) {
	withTestProcess(t, "testprog", func(dbp *proc.Process, fixture test.Fixture) {
		bp := setFunctionBreakpoint(t, dbp, "complex_function")
		if _, err := dbp.SetBreakpoint(bp.Addr); err == nil {
			t.Fatal("second breakpoint at same address should fail")
		} else if _, ok := err.(proc.BreakpointExistsError); !ok {
			t.Fatalf("expected BreakpointExistsError, got %v", err)
		}
	})
}

func TestBreakpointIDsNotReused(t *testing.T) {
	withTestProcess(t, "testprog", func(dbp *proc.Process, fixture test.Fixture) {
		bp1 := setFunctionBreakpoint(t, dbp, "complex_function")
		bp2 := setFunctionBreakpoint(t, dbp, "main")
		if _, err := dbp.ClearBreakpoint(bp1.Addr); err != nil {
			t.Fatal(err)
		}
		bp3 := setFunctionBreakpoint(t, dbp, "complex_function")
		if bp3.ID <= bp2.ID {
			t.Fatalf("breakpoint id %d reused after clear (previous max %d)", bp3.ID, bp2.ID)
		}

		list := dbp.BreakpointList()
		for i := 1; i < len(list); i++ {
			if list[i].ID <= list[i-1].ID {
				t.Fatalf("breakpoint list not in creation order: %v", list)
			}
		}
	})
}

func TestStepInstruction(t *testing.T) {
	withTestProcess(t, "testprog", func(dbp *proc.Process, fixture test.Fixture) {
		setFunctionBreakpoint(t, dbp, "complex_function")
		if err := dbp.Continue(); err != nil {
			t.Fatal(err)
		}

		seen := map[uint64]bool{currentPC(t, dbp): true}
		for i := 0; i < 5; i++ {
			if err := dbp.StepInstruction(); err != nil {
				t.Fatalf("step %d: %v", i, err)
			}
			if dbp.StopReason != proc.StopStep {
				t.Fatalf("stop reason = %v, want step", dbp.StopReason)
			}
			pc := currentPC(t, dbp)
			if seen[pc] {
				t.Fatalf("pc %#x revisited while stepping straight-line code", pc)
			}
			seen[pc] = true
		}
	})
}

func TestBreakpointDoesNotRetrigger(t *testing.T) {
	withTestProcess(t, "testprog", func(dbp *proc.Process, fixture test.Fixture) {
		setFunctionBreakpoint(t, dbp, "complex_function")
		if err := dbp.Continue(); err != nil {
			t.Fatal(err)
		}
		if dbp.StopReason != proc.StopBreakpoint {
			t.Fatalf("stop reason = %v, want breakpoint", dbp.StopReason)
		}
		// complex_function runs once; the next continue must pass the
		// planted trap and run to exit.
		err := dbp.Continue()
		assertExited(t, err)
	})
}

func TestContinueToExit(t *testing.T) {
	withTestProcess(t, "testprog", func(dbp *proc.Process, fixture test.Fixture) {
		assertExited(t, dbp.Continue())
		if !dbp.Exited() {
			t.Fatal("process not marked exited")
		}

		// Every memory/register operation after exit reports the exit.
		if _, err := dbp.ReadMemory(0x1000, 8); err == nil {
			t.Error("ReadMemory after exit should fail")
		} else {
			assertExited(t, err)
		}
		if _, err := dbp.Registers(); err == nil {
			t.Error("Registers after exit should fail")
		} else {
			assertExited(t, err)
		}
		if _, err := dbp.SetBreakpoint(0x1000); err == nil {
			t.Error("SetBreakpoint after exit should fail")
		} else {
			assertExited(t, err)
		}
		assertExited(t, dbp.Continue())
	})
}

func TestNextStaysInFunction(t *testing.T) {
	withTestProcess(t, "testnextprog", func(dbp *proc.Process, fixture test.Fixture) {
		setFunctionBreakpoint(t, dbp, "main")
		if err := dbp.Continue(); err != nil {
			t.Fatal(err)
		}

		start, err := dbp.CurrentLocation()
		if err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 4; i++ {
			if err := dbp.Next(); err != nil {
				t.Fatalf("next %d: %v", i, err)
			}
			loc, err := dbp.CurrentLocation()
			if err != nil {
				t.Fatal(err)
			}
			if loc.Fn == nil || loc.Fn.Name != "main" {
				t.Fatalf("next landed in %v, want main", loc.Fn)
			}
			if loc.Line == start.Line && loc.File == start.File {
				t.Fatal("next did not advance the source line")
			}
			start = loc
		}
	})
}

func TestStepDescendsIntoCall(t *testing.T) {
	withTestProcess(t, "testnextprog", func(dbp *proc.Process, fixture test.Fixture) {
		// Stop on the line making the call, then source step.
		addr, err := dbp.FindLocation(filepath.Base(fixture.Source) + ":15")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := dbp.SetBreakpoint(addr); err != nil {
			t.Fatal(err)
		}
		if err := dbp.Continue(); err != nil {
			t.Fatal(err)
		}

		entered := false
		for i := 0; i < 3; i++ {
			if err := dbp.Step(); err != nil {
				t.Fatal(err)
			}
			loc, err := dbp.CurrentLocation()
			if err != nil {
				t.Fatal(err)
			}
			if loc.Fn != nil && loc.Fn.Name == "helper" {
				entered = true
				break
			}
		}
		if !entered {
			t.Fatal("step never descended into helper")
		}
	})
}

func TestHalt(t *testing.T) {
	withTestProcess(t, "loopprog", func(dbp *proc.Process, fixture test.Fixture) {
		go func() {
			time.Sleep(100 * time.Millisecond)
			dbp.Halt()
		}()
		if err := dbp.Continue(); err != nil {
			t.Fatalf("Continue: %v", err)
		}
		if dbp.StopReason != proc.StopManual {
			t.Fatalf("stop reason = %v, want halted", dbp.StopReason)
		}
		// The target is stopped again: register access must work.
		if _, err := dbp.Registers(); err != nil {
			t.Fatal(err)
		}
	})
}

func TestFindLocation(t *testing.T) {
	withTestProcess(t, "testprog", func(dbp *proc.Process, fixture test.Fixture) {
		if _, err := dbp.FindLocation("nonexistent_function"); err == nil {
			t.Error("expected error for unknown symbol")
		}
		addr, err := dbp.FindLocation("main")
		if err != nil {
			t.Fatal(err)
		}
		hex, err := dbp.FindLocation(fmt.Sprintf("%#x", addr))
		if err != nil {
			t.Fatal(err)
		}
		if hex != addr {
			t.Errorf("hex lookup = %#x, want %#x", hex, addr)
		}
		lineAddr, err := dbp.FindLocation(filepath.Base(fixture.Source) + ":15")
		if err != nil {
			t.Fatal(err)
		}
		fn := dbp.BinInfo.FunctionContaining(lineAddr - dbp.BaseAddress())
		if fn == nil || fn.Name != "main" {
			t.Errorf("file:line resolved into %v, want main", fn)
		}
	})
}

func TestSignalStopThenTermination(t *testing.T) {
	withTestProcess(t, "abortprog", func(dbp *proc.Process, fixture test.Fixture) {
		if err := dbp.Continue(); err != nil {
			t.Fatalf("Continue: %v", err)
		}
		if dbp.StopReason != proc.StopSignal {
			t.Fatalf("stop reason = %v, want signal", dbp.StopReason)
		}
		if dbp.StopSig != sys.SIGABRT {
			t.Errorf("stop signal = %v, want SIGABRT", dbp.StopSig)
		}
		// The target is stopped at the point of delivery and still
		// inspectable.
		if _, err := dbp.Registers(); err != nil {
			t.Fatalf("Registers at signal stop: %v", err)
		}

		// Continuing re-delivers the signal; its default action kills
		// the target.
		err := dbp.Continue()
		terr, ok := err.(proc.ProcessTerminatedError)
		if !ok {
			t.Fatalf("expected ProcessTerminatedError, got %v", err)
		}
		if terr.Signal != sys.SIGABRT {
			t.Errorf("termination signal = %v, want SIGABRT", terr.Signal)
		}
		if !dbp.Exited() {
			t.Error("process not marked exited after fatal signal")
		}
		_, err = dbp.Registers()
		assertExited(t, err)
		assertExited(t, dbp.Continue())
	})
}

func TestDetachRestoresBreakpoints(t *testing.T) {
	withTestProcess(t, "testprog", func(dbp *proc.Process, fixture test.Fixture) {
		bp := setFunctionBreakpoint(t, dbp, "complex_function")
		patched, err := dbp.ReadMemory(bp.Addr, 1)
		if err != nil {
			t.Fatal(err)
		}
		if patched[0] != 0xcc {
			t.Fatalf("no trap instruction at %#x before detach", bp.Addr)
		}

		if err := dbp.Detach(); err != nil {
			t.Fatalf("Detach: %v", err)
		}
		if bp.Enabled() {
			t.Error("breakpoint still enabled after detach")
		}
		// With the original bytes back in place the released target
		// runs through the patched address to a clean exit instead of
		// dying on the trap.
		state, err := dbp.Process.Wait()
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
		if !state.Success() {
			t.Errorf("detached process exited with %v", state)
		}
	})
}

func TestHaltInterruptsSourceStep(t *testing.T) {
	withTestProcess(t, "spinprog", func(dbp *proc.Process, fixture test.Fixture) {
		setFunctionBreakpoint(t, dbp, "main")
		if err := dbp.Continue(); err != nil {
			t.Fatalf("Continue: %v", err)
		}
		go func() {
			time.Sleep(100 * time.Millisecond)
			dbp.Halt()
		}()
		// A few steps reach the spin loop; the one stepping through
		// it can only finish by being halted.
		for i := 0; i < 10; i++ {
			if err := dbp.Step(); err != nil {
				t.Fatalf("Step: %v", err)
			}
			if dbp.StopReason == proc.StopManual {
				if _, err := dbp.Registers(); err != nil {
					t.Fatal(err)
				}
				return
			}
		}
		t.Fatal("halt never interrupted the step")
	})
}

func TestStepOverBreakpointRearms(t *testing.T) {
	withTestProcess(t, "testprog", func(dbp *proc.Process, fixture test.Fixture) {
		bp := setFunctionBreakpoint(t, dbp, "complex_function")
		if err := dbp.Continue(); err != nil {
			t.Fatalf("Continue: %v", err)
		}
		if err := dbp.StepInstruction(); err != nil {
			t.Fatalf("StepInstruction: %v", err)
		}
		if !bp.Enabled() {
			t.Error("breakpoint not re-enabled after stepping over it")
		}
		data, err := dbp.ReadMemory(bp.Addr, 1)
		if err != nil {
			t.Fatal(err)
		}
		if data[0] != 0xcc {
			t.Errorf("trap instruction not restored at %#x", bp.Addr)
		}
	})
}

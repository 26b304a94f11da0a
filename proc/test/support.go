// Package test provides helpers for building the C fixture programs
// the debugger tests run against.
package test

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
)

// Fixture is a test binary compiled from _fixtures.
type Fixture struct {
	// Name is the fixture name, the source file basename without
	// extension.
	Name string
	// Path is the path to the compiled binary.
	Path string
	// Source is the path to the source file.
	Source string
}

var (
	fixturesMu sync.Mutex
	fixtures   = make(map[string]Fixture)
	tempDir    string
)

// BuildFixture compiles the named fixture with debug information and
// without optimizations, returning the cached result on repeat calls.
// Tests are skipped entirely when no C compiler is installed.
func BuildFixture(t *testing.T, name string) Fixture {
	t.Helper()
	if runtime.GOOS != "linux" || runtime.GOARCH != "amd64" {
		t.Skip("fixtures require linux/amd64")
	}
	cc, err := exec.LookPath("cc")
	if err != nil {
		if cc, err = exec.LookPath("gcc"); err != nil {
			t.Skip("no C compiler in PATH")
		}
	}

	fixturesMu.Lock()
	defer fixturesMu.Unlock()
	if f, ok := fixtures[name]; ok {
		return f
	}

	if tempDir == "" {
		tempDir, err = ioutil.TempDir("", "mdbg-fixtures")
		if err != nil {
			t.Fatal(err)
		}
	}

	source := filepath.Join(fixturesDir(), name+".c")
	path := filepath.Join(tempDir, name)

	// Frame pointers must survive and addresses must match the debug
	// information, so optimizations, frame pointer omission and PIE are
	// all off.
	cmd := exec.Command(cc, "-g", "-O0", "-fno-omit-frame-pointer", "-no-pie", "-o", path, source)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("error compiling fixture %s: %v\n%s", name, err, out)
	}

	f := Fixture{Name: name, Path: path, Source: source}
	fixtures[name] = f
	return f
}

func fixturesDir() string {
	// Walk up from the working directory until _fixtures is found, so
	// tests can run from any package in the tree.
	wd, _ := os.Getwd()
	dir := wd
	for depth := 0; depth < 10; depth++ {
		if _, err := os.Stat(filepath.Join(dir, "_fixtures")); err == nil {
			return filepath.Join(dir, "_fixtures")
		}
		dir = filepath.Dir(dir)
	}
	panic(fmt.Sprintf("could not locate _fixtures from %s", wd))
}

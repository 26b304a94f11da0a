// Package bininfo loads and indexes the debug information of the
// target binary: function boundaries, the line table and variable
// location descriptors.
package bininfo

import (
	"debug/dwarf"
	"debug/elf"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/derekparker/trie"

	"github.com/mdbg/mdbg/logflags"
)

// BinaryInfo holds the debug information for one executable. It is
// built once by Load and immutable afterwards, except for the lazily
// populated type size cache.
type BinaryInfo struct {
	Path string

	etype     elf.Type
	dwarfData *dwarf.Data

	functions []*Function // sorted by entry address
	nameIndex map[string]*Function
	funcTrie  *trie.Trie
	lineTable lineTable

	typeCacheMu sync.Mutex
	typeCache   map[dwarf.Offset]*TypeInfo
}

// Function is the symbol table entry for a subprogram: its address
// range, enclosing compilation unit and variable descriptors.
type Function struct {
	Name    string
	LowPC   uint64 // entry address
	HighPC  uint64 // one past the last instruction
	Unit    string // name of the enclosing compilation unit

	Formals []*Variable
	Locals  []*Variable
}

// Variable describes a formal parameter or local variable of a
// function. LocationExpr is the raw DWARF location expression; it is
// only decoded when a live frame asks for the value.
type Variable struct {
	Name         string
	TypeOffset   dwarf.Offset
	LocationExpr []byte
	IsFormal     bool
}

// Contains reports whether pc falls inside the function range.
func (fn *Function) Contains(pc uint64) bool {
	return pc >= fn.LowPC && pc < fn.HighPC
}

func (fn *Function) String() string {
	return fmt.Sprintf("%s [%#x, %#x)", fn.Name, fn.LowPC, fn.HighPC)
}

// MalformedDebugInfoError is returned by Load when the binary's debug
// sections cannot be decoded. The whole load fails, never returning
// partial data: a debugger with wrong symbols is worse than one that
// refuses to start.
type MalformedDebugInfoError struct {
	Path string
	Err  error
}

func (m MalformedDebugInfoError) Error() string {
	return fmt.Sprintf("malformed debug information in %s: %v", m.Path, m.Err)
}

// NoDebugInfoError is returned by Load for binaries without the
// required DWARF sections (typically stripped binaries).
type NoDebugInfoError struct {
	Path string
}

func (n NoDebugInfoError) Error() string {
	return fmt.Sprintf("%s has no debug information; compile with -g", n.Path)
}

// UnknownSymbolError is returned when a name lookup finds no function
// with the requested name.
type UnknownSymbolError struct {
	Name string
}

func (u UnknownSymbolError) Error() string {
	return fmt.Sprintf("could not find symbol value for %s", u.Name)
}

// Load opens the executable and indexes its DWARF sections.
func Load(path string) (*BinaryInfo, error) {
	t0 := time.Now()

	elfFile, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	defer elfFile.Close()

	if elfFile.Machine != elf.EM_X86_64 {
		return nil, fmt.Errorf("%s: unsupported architecture %v", path, elfFile.Machine)
	}
	if elfFile.Section(".debug_info") == nil || elfFile.Section(".debug_line") == nil {
		return nil, NoDebugInfoError{Path: path}
	}

	dwarfData, err := elfFile.DWARF()
	if err != nil {
		return nil, MalformedDebugInfoError{Path: path, Err: err}
	}

	bi := &BinaryInfo{
		Path:      path,
		etype:     elfFile.Type,
		dwarfData: dwarfData,
		nameIndex: make(map[string]*Function),
		funcTrie:  trie.New(),
		typeCache: make(map[dwarf.Offset]*TypeInfo),
	}

	var (
		wg      sync.WaitGroup
		fnErr   error
		lineErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		fnErr = bi.loadFunctions()
	}()
	go func() {
		defer wg.Done()
		lineErr = bi.loadLineTable()
	}()
	wg.Wait()

	if fnErr != nil {
		return nil, MalformedDebugInfoError{Path: path, Err: fnErr}
	}
	if lineErr != nil {
		return nil, MalformedDebugInfoError{Path: path, Err: lineErr}
	}

	if logflags.BinInfo() {
		logflags.BinInfoLogger().Debugf("loaded %s: %d functions, %d line entries in %s",
			path, len(bi.functions), len(bi.lineTable), time.Since(t0))
	}
	return bi, nil
}

// loadFunctions walks the DWARF tree collecting subprograms and their
// formal parameters and local variables. Names are unique: on a
// duplicate the last definition wins.
func (bi *BinaryInfo) loadFunctions() error {
	rdr := bi.dwarfData.Reader()

	var (
		depth   int
		curUnit string
		curFn   *Function
	)

	for {
		entry, err := rdr.Next()
		if err != nil {
			return err
		}
		if entry == nil {
			break
		}
		if entry.Tag == 0 {
			depth--
			if depth < 2 {
				curFn = nil
			}
			continue
		}

		switch entry.Tag {
		case dwarf.TagCompileUnit:
			curUnit, _ = entry.Val(dwarf.AttrName).(string)

		case dwarf.TagSubprogram:
			fn := parseSubprogram(entry)
			if fn != nil {
				fn.Unit = curUnit
				bi.functions = append(bi.functions, fn)
				bi.nameIndex[fn.Name] = fn
				bi.funcTrie.Add(fn.Name, fn)
			}
			if depth == 1 {
				curFn = fn
			}

		case dwarf.TagFormalParameter:
			if curFn != nil && depth >= 2 {
				if v := parseVariable(entry, true); v != nil {
					curFn.Formals = append(curFn.Formals, v)
				}
			}

		case dwarf.TagVariable:
			if curFn != nil && depth >= 2 {
				if v := parseVariable(entry, false); v != nil {
					curFn.Locals = append(curFn.Locals, v)
				}
			}
		}

		if entry.Children {
			depth++
		}
	}

	sort.Slice(bi.functions, func(i, j int) bool {
		return bi.functions[i].LowPC < bi.functions[j].LowPC
	})
	return nil
}

func parseSubprogram(entry *dwarf.Entry) *Function {
	name, ok := entry.Val(dwarf.AttrName).(string)
	if !ok || name == "" {
		return nil
	}
	lowpc, ok := entry.Val(dwarf.AttrLowpc).(uint64)
	if !ok {
		// Declaration-only entry, nothing to break on.
		return nil
	}

	// DW_AT_high_pc is either an address or an offset from low_pc,
	// depending on the attribute class.
	var highpc uint64
	switch v := entry.Val(dwarf.AttrHighpc).(type) {
	case uint64:
		highpc = v
	case int64:
		highpc = lowpc + uint64(v)
	default:
		highpc = lowpc + 1
	}

	return &Function{Name: name, LowPC: lowpc, HighPC: highpc}
}

func parseVariable(entry *dwarf.Entry, formal bool) *Variable {
	name, ok := entry.Val(dwarf.AttrName).(string)
	if !ok || name == "" {
		return nil
	}
	v := &Variable{Name: name, IsFormal: formal}
	if off, ok := entry.Val(dwarf.AttrType).(dwarf.Offset); ok {
		v.TypeOffset = off
	}
	// Only exprloc-class locations are supported; a location list
	// reference (optimized code) leaves LocationExpr nil and the value
	// renders as unknown.
	if block, ok := entry.Val(dwarf.AttrLocation).([]byte); ok {
		v.LocationExpr = block
	}
	return v
}

// PIE reports whether the executable is position independent, in
// which case addresses in the debug information are offsets from the
// load base.
func (bi *BinaryInfo) PIE() bool {
	return bi.etype == elf.ET_DYN
}

// FindFunction returns the function with the given name, or nil.
func (bi *BinaryInfo) FindFunction(name string) *Function {
	return bi.nameIndex[name]
}

// FunctionContaining returns the function whose range covers pc, or
// nil when pc is outside all known functions.
func (bi *BinaryInfo) FunctionContaining(pc uint64) *Function {
	i := sort.Search(len(bi.functions), func(i int) bool {
		return bi.functions[i].LowPC > pc
	})
	if i == 0 {
		return nil
	}
	if fn := bi.functions[i-1]; fn.Contains(pc) {
		return fn
	}
	return nil
}

// Functions returns all known functions sorted by entry address.
func (bi *BinaryInfo) Functions() []*Function {
	return bi.functions
}

// FuncsMatching returns the names of all functions matching the given
// regular expression, or all names when the expression is empty.
func (bi *BinaryInfo) FuncsMatching(filter string) ([]string, error) {
	var rx *regexp.Regexp
	if filter != "" {
		var err error
		rx, err = regexp.Compile(filter)
		if err != nil {
			return nil, fmt.Errorf("invalid filter argument: %v", err)
		}
	}
	names := make([]string, 0, len(bi.functions))
	for _, fn := range bi.functions {
		if rx == nil || rx.MatchString(fn.Name) {
			names = append(names, fn.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// FuncsWithPrefix returns all function names beginning with prefix,
// used for command line completion.
func (bi *BinaryInfo) FuncsWithPrefix(prefix string) []string {
	if prefix == "" {
		return nil
	}
	return bi.funcTrie.PrefixSearch(prefix)
}

// Variables returns fn's variable descriptors, formal parameters
// first, each group in declaration order.
func (bi *BinaryInfo) Variables(fn *Function) []*Variable {
	vars := make([]*Variable, 0, len(fn.Formals)+len(fn.Locals))
	vars = append(vars, fn.Formals...)
	vars = append(vars, fn.Locals...)
	return vars
}

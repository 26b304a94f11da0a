package bininfo

import (
	"debug/dwarf"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
)

// LineEntry maps a code address to a source position. Entries are kept
// sorted by address so that PCToLine can binary search for the nearest
// entry at or below an address.
type LineEntry struct {
	Addr   uint64
	File   string
	Line   int
	IsStmt bool
	EndSeq bool
}

type lineTable []LineEntry

// loadLineTable reads the line program of every compilation unit into
// one address ordered table.
func (bi *BinaryInfo) loadLineTable() error {
	rdr := bi.dwarfData.Reader()

	for {
		entry, err := rdr.Next()
		if err != nil {
			return err
		}
		if entry == nil {
			break
		}
		if entry.Tag != dwarf.TagCompileUnit {
			rdr.SkipChildren()
			continue
		}

		lr, err := bi.dwarfData.LineReader(entry)
		if err != nil {
			return err
		}
		if lr == nil {
			continue
		}
		var le dwarf.LineEntry
		for {
			err := lr.Next(&le)
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
			e := LineEntry{Addr: le.Address, Line: le.Line, IsStmt: le.IsStmt, EndSeq: le.EndSequence}
			if le.File != nil {
				e.File = le.File.Name
			}
			bi.lineTable = append(bi.lineTable, e)
		}
		rdr.SkipChildren()
	}

	sort.SliceStable(bi.lineTable, func(i, j int) bool {
		return bi.lineTable[i].Addr < bi.lineTable[j].Addr
	})
	return nil
}

// PCToLine returns the source file and line for the line table entry
// nearest at or below pc. ok is false when pc precedes the table or
// only an end-of-sequence marker covers it.
func (bi *BinaryInfo) PCToLine(pc uint64) (file string, line int, ok bool) {
	i := sort.Search(len(bi.lineTable), func(i int) bool {
		return bi.lineTable[i].Addr > pc
	})
	if i == 0 {
		return "", 0, false
	}
	e := bi.lineTable[i-1]
	if e.EndSeq {
		return "", 0, false
	}
	return e.File, e.Line, true
}

// LineToPC resolves file:line to the first statement address generated
// for that line. The file argument may be a path suffix.
func (bi *BinaryInfo) LineToPC(file string, line int) (uint64, error) {
	for _, e := range bi.lineTable {
		if e.EndSeq || !e.IsStmt || e.Line != line {
			continue
		}
		if matchFile(e.File, file) {
			return e.Addr, nil
		}
	}
	return 0, fmt.Errorf("could not find %s:%d", file, line)
}

func matchFile(tableFile, query string) bool {
	if tableFile == query {
		return true
	}
	if filepath.Base(tableFile) == query {
		return true
	}
	return strings.HasSuffix(tableFile, "/"+query)
}

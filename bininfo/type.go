package bininfo

import (
	"debug/dwarf"
	"fmt"
)

// TypeInfo is the subset of type information needed to render a raw
// variable read: how many bytes the value occupies and how to
// interpret them.
type TypeInfo struct {
	Name   string
	Size   int64
	Signed bool
	Float  bool
}

// TypeOf resolves the type a variable descriptor refers to. Results
// are cached; resolution happens lazily because sizes are only needed
// once a live frame asks for values.
func (bi *BinaryInfo) TypeOf(v *Variable) (*TypeInfo, error) {
	if v.TypeOffset == 0 {
		return nil, fmt.Errorf("variable %s has no type", v.Name)
	}

	bi.typeCacheMu.Lock()
	defer bi.typeCacheMu.Unlock()
	if ti, ok := bi.typeCache[v.TypeOffset]; ok {
		return ti, nil
	}

	typ, err := bi.dwarfData.Type(v.TypeOffset)
	if err != nil {
		return nil, err
	}

	ti := &TypeInfo{Name: typ.String(), Size: typ.Size()}
	switch resolveTypedefs(typ).(type) {
	case *dwarf.IntType, *dwarf.CharType:
		ti.Signed = true
	case *dwarf.FloatType:
		ti.Float = true
	}
	bi.typeCache[v.TypeOffset] = ti
	return ti, nil
}

// resolveTypedefs strips typedef and qualifier wrappers to get at the
// underlying type kind.
func resolveTypedefs(typ dwarf.Type) dwarf.Type {
	for {
		switch t := typ.(type) {
		case *dwarf.TypedefType:
			typ = t.Type
		case *dwarf.QualType:
			typ = t.Type
		default:
			return typ
		}
	}
}

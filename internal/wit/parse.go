package wit

import (
	"fmt"
)

const (
	primBool         byte = 0x7f
	primS8           byte = 0x7e
	primU8           byte = 0x7d
	primS16          byte = 0x7c
	primU16          byte = 0x7b
	primS32          byte = 0x7a
	primU32          byte = 0x79
	primS64          byte = 0x78
	primU64          byte = 0x77
	primF32          byte = 0x76
	primF64          byte = 0x75
	primChar         byte = 0x74
	primString       byte = 0x73
	primErrorContext byte = 0x64
)

var primNames = map[byte]string{
	primBool:         "bool",
	primS8:           "s8",
	primU8:           "u8",
	primS16:          "s16",
	primU16:          "u16",
	primS32:          "s32",
	primU32:          "u32",
	primS64:          "s64",
	primU64:          "u64",
	primF32:          "f32",
	primF64:          "f64",
	primChar:         "char",
	primString:       "string",
	primErrorContext: "error-context",
}

func (r *reader) valType() (valType, error) {
	b, err := r.peek()
	if err != nil {
		return valType{}, err
	}
	// single byte negative s33
	if b&0x80 == 0 && b&0x40 != 0 {
		if _, ok := primNames[b]; !ok {
			return valType{}, fmt.Errorf("wit: unknown primitive 0x%02x at %d", b, r.pos)
		}
		r.pos++
		return valType{prim: b}, nil
	}
	idx, err := r.u32()
	if err != nil {
		return valType{}, err
	}
	return valType{index: idx}, nil
}

func (r *reader) optValType() (*valType, error) {
	b, err := r.byte()
	if err != nil {
		return nil, err
	}
	switch b {
	case 0x00:
		return nil, nil
	case 0x01:
		v, err := r.valType()
		if err != nil {
			return nil, err
		}
		return &v, nil
	}
	return nil, fmt.Errorf("wit: bad option flag 0x%02x at %d", b, r.pos-1)
}

func (r *reader) labels() ([]string, error) {
	var out []string
	err := r.vec(func() error {
		n, err := r.name()
		out = append(out, n)
		return err
	})
	return out, err
}

func (r *reader) fields() ([]field, error) {
	var out []field
	err := r.vec(func() error {
		n, err := r.name()
		if err != nil {
			return err
		}
		t, err := r.valType()
		if err != nil {
			return err
		}
		out = append(out, field{name: n, typ: t})
		return nil
	})
	return out, err
}

// externName reads an importname' or exportname', dropping any version
// suffix annotation.
func (r *reader) externName() (string, error) {
	b, err := r.byte()
	if err != nil {
		return "", err
	}
	n, err := r.name()
	if err != nil {
		return "", err
	}
	switch b {
	case 0x00:
	case 0x01:
		if _, err := r.name(); err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("wit: bad extern name tag 0x%02x at %d", b, r.pos)
	}
	return n, nil
}

func (r *reader) externDesc() (externDesc, error) {
	sort, err := r.byte()
	if err != nil {
		return externDesc{}, err
	}
	d := externDesc{sort: sort}
	switch sort {
	case sortCore:
		if err := r.expect(0x11); err != nil {
			return d, err
		}
		d.index, err = r.u32()
	case sortFunc, sortComponent, sortInstance:
		d.index, err = r.u32()
	case sortValue:
		var b byte
		if b, err = r.byte(); err != nil {
			return d, err
		}
		switch b {
		case 0x00:
			d.index, err = r.u32()
		case 0x01:
			_, err = r.valType()
		default:
			err = fmt.Errorf("wit: bad value bound 0x%02x", b)
		}
	case sortType:
		var b byte
		if b, err = r.byte(); err != nil {
			return d, err
		}
		switch b {
		case 0x00:
			d.index, err = r.u32()
		case 0x01:
			d.resource = true
		default:
			err = fmt.Errorf("wit: bad type bound 0x%02x", b)
		}
	default:
		err = fmt.Errorf("wit: bad extern sort 0x%02x at %d", sort, r.pos-1)
	}
	return d, err
}

func (r *reader) alias() (alias, error) {
	var a alias
	var err error
	if a.sort, err = r.byte(); err != nil {
		return a, err
	}
	if a.sort == sortCore {
		if _, err = r.byte(); err != nil {
			return a, err
		}
	}
	if a.target, err = r.byte(); err != nil {
		return a, err
	}
	switch a.target {
	case aliasExport, aliasCoreExport:
		if a.instance, err = r.u32(); err != nil {
			return a, err
		}
		a.name, err = r.name()
	case aliasOuter:
		if a.count, err = r.u32(); err != nil {
			return a, err
		}
		a.index, err = r.u32()
	default:
		err = fmt.Errorf("wit: bad alias target 0x%02x at %d", a.target, r.pos-1)
	}
	return a, err
}

func (r *reader) defType() (typeDef, error) {
	b, err := r.byte()
	if err != nil {
		return nil, err
	}
	if _, ok := primNames[b]; ok {
		return &primType{typ: valType{prim: b}}, nil
	}
	switch b {
	case 0x72:
		fs, err := r.fields()
		return &recordType{fields: fs}, err
	case 0x71:
		var cases []variantCase
		err := r.vec(func() error {
			n, err := r.name()
			if err != nil {
				return err
			}
			t, err := r.optValType()
			if err != nil {
				return err
			}
			// refines, always absent
			if err := r.expect(0x00); err != nil {
				return err
			}
			cases = append(cases, variantCase{name: n, typ: t})
			return nil
		})
		return &variantType{cases: cases}, err
	case 0x70:
		t, err := r.valType()
		return &listType{elem: t}, err
	case 0x67:
		t, err := r.valType()
		if err != nil {
			return nil, err
		}
		n, err := r.u32()
		return &listType{elem: t, length: n}, err
	case 0x6f:
		var elems []valType
		err := r.vec(func() error {
			t, err := r.valType()
			elems = append(elems, t)
			return err
		})
		return &tupleType{elems: elems}, err
	case 0x6e:
		names, err := r.labels()
		return &flagsType{names: names}, err
	case 0x6d:
		names, err := r.labels()
		return &enumType{names: names}, err
	case 0x6b:
		t, err := r.valType()
		return &optionType{elem: t}, err
	case 0x6a:
		ok, err := r.optValType()
		if err != nil {
			return nil, err
		}
		e, err := r.optValType()
		return &resultType{ok: ok, err: e}, err
	case 0x69, 0x68:
		idx, err := r.u32()
		return &handleType{borrow: b == 0x68, index: idx}, err
	case 0x66:
		t, err := r.optValType()
		return &streamType{elem: t}, err
	case 0x65:
		t, err := r.optValType()
		return &futureType{elem: t}, err
	case 0x40, 0x43:
		return r.funcType(b == 0x43)
	case 0x41:
		decls, err := r.decls(true)
		return &componentType{decls: decls}, err
	case 0x42:
		decls, err := r.decls(false)
		return &instanceType{decls: decls}, err
	case 0x3f:
		if err := r.expect(0x7f); err != nil {
			return nil, err
		}
		if _, err := r.optFuncIdx(); err != nil {
			return nil, err
		}
		return &resourceType{}, nil
	case 0x3e:
		if err := r.expect(0x7f); err != nil {
			return nil, err
		}
		if _, err := r.u32(); err != nil {
			return nil, err
		}
		if _, err := r.optFuncIdx(); err != nil {
			return nil, err
		}
		return &resourceType{}, nil
	}
	return nil, fmt.Errorf("wit: unknown type form 0x%02x at %d", b, r.pos-1)
}

func (r *reader) optFuncIdx() (bool, error) {
	b, err := r.byte()
	if err != nil {
		return false, err
	}
	switch b {
	case 0x00:
		return false, nil
	case 0x01:
		_, err := r.u32()
		return true, err
	}
	return false, fmt.Errorf("wit: bad option flag 0x%02x at %d", b, r.pos-1)
}

func (r *reader) funcType(async bool) (*funcType, error) {
	params, err := r.fields()
	if err != nil {
		return nil, err
	}
	ft := &funcType{async: async, params: params}
	b, err := r.byte()
	if err != nil {
		return nil, err
	}
	switch b {
	case 0x00:
		t, err := r.valType()
		if err != nil {
			return nil, err
		}
		ft.result = &t
	case 0x01:
		// older encoders wrote named results here; an empty list means none
		ft.results, err = r.fields()
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("wit: bad result list 0x%02x at %d", b, r.pos-1)
	}
	return ft, nil
}

// decls reads the declarators of a component or instance type. Only
// component types may carry imports.
func (r *reader) decls(component bool) ([]decl, error) {
	var out []decl
	err := r.vec(func() error {
		b, err := r.byte()
		if err != nil {
			return err
		}
		var d decl
		switch {
		case b == 0x00:
			// core types are never part of a WIT interface
			return fmt.Errorf("wit: core type declarator at %d", r.pos-1)
		case b == 0x01:
			d.kind = declType
			d.def, err = r.defType()
		case b == 0x02:
			d.kind = declAlias
			d.alias, err = r.alias()
		case b == 0x03 && component:
			d.kind = declImport
			if d.name, err = r.externName(); err == nil {
				d.extern, err = r.externDesc()
			}
		case b == 0x04:
			d.kind = declExport
			if d.name, err = r.externName(); err == nil {
				d.extern, err = r.externDesc()
			}
		default:
			return fmt.Errorf("wit: bad declarator 0x%02x at %d", b, r.pos-1)
		}
		if err != nil {
			return err
		}
		out = append(out, d)
		return nil
	})
	return out, err
}

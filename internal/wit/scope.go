package wit

import (
	"errors"
	"fmt"
)

// maxChain bounds alias chains while resolving a type index.
const maxChain = 256

var errUnresolved = errors.New("wit: unresolved type reference")

// typeEntry is one slot of a type index space. A slot either holds a
// definition or refers to another slot; imports, exports and aliases of
// instance exports carry the name they were given.
type typeEntry struct {
	def    typeDef
	scope  *scope
	target *typeEntry
	name   string
	origin string
}

type instanceEntry struct {
	name  string
	shape *shape
}

type scope struct {
	parent    *scope
	types     []*typeEntry
	instances []*instanceEntry
}

func (s *scope) up(n uint32) *scope {
	for ; n > 0 && s != nil; n-- {
		s = s.parent
	}
	return s
}

func (s *scope) typeAt(i uint32) (*typeEntry, error) {
	if int(i) >= len(s.types) {
		return nil, fmt.Errorf("wit: type index %d out of range (%d)", i, len(s.types))
	}
	return s.types[i], nil
}

func (s *scope) instanceAt(i uint32) (*instanceEntry, error) {
	if int(i) >= len(s.instances) {
		return nil, fmt.Errorf("wit: instance index %d out of range (%d)", i, len(s.instances))
	}
	return s.instances[i], nil
}

// definition follows e to the slot that defines it.
func definition(e *typeEntry) (typeDef, *scope, error) {
	for i := 0; e != nil && i < maxChain; i++ {
		if e.def != nil {
			return e.def, e.scope, nil
		}
		e = e.target
	}
	return nil, nil, errUnresolved
}

// item is an import or export of an elaborated component or instance type.
type item struct {
	name    string
	sort    byte
	typ     *typeEntry
	fn      *funcType
	fnScope *scope
	shape   *shape
}

// shape is an elaborated component or instance type.
type shape struct {
	scope   *scope
	imports []item
	exports []item
}

func (s *shape) exportedType(name string) *typeEntry {
	for _, it := range s.exports {
		if it.name == name && it.sort == sortType {
			return it.typ
		}
	}
	return nil
}

type elaborator struct {
	done map[typeDef]*shape
}

func newElaborator() *elaborator {
	return &elaborator{done: map[typeDef]*shape{}}
}

func (e *elaborator) elaborate(def typeDef, parent *scope) (*shape, error) {
	if sh, ok := e.done[def]; ok {
		return sh, nil
	}
	var decls []decl
	switch d := def.(type) {
	case *componentType:
		decls = d.decls
	case *instanceType:
		decls = d.decls
	default:
		return nil, fmt.Errorf("wit: %T is not a component or instance type", def)
	}
	sh, err := e.shape(decls, parent)
	if err != nil {
		return nil, err
	}
	e.done[def] = sh
	return sh, nil
}

func (e *elaborator) shape(decls []decl, parent *scope) (*shape, error) {
	s := &scope{parent: parent}
	sh := &shape{scope: s}
	for _, d := range decls {
		switch d.kind {
		case declType:
			s.types = append(s.types, &typeEntry{def: d.def, scope: s})
		case declAlias:
			if err := e.alias(s, d.alias); err != nil {
				return nil, err
			}
		case declImport, declExport:
			it, err := e.extern(s, d.name, d.extern)
			if err != nil {
				return nil, err
			}
			if d.kind == declImport {
				sh.imports = append(sh.imports, it)
			} else {
				sh.exports = append(sh.exports, it)
			}
		}
	}
	return sh, nil
}

func (e *elaborator) alias(s *scope, a alias) error {
	switch a.target {
	case aliasOuter:
		if a.sort != sortType {
			return nil
		}
		outer := s.up(a.count)
		if outer == nil {
			return fmt.Errorf("wit: outer alias %d escapes the component", a.count)
		}
		t, err := outer.typeAt(a.index)
		if err != nil {
			return err
		}
		s.types = append(s.types, &typeEntry{target: t})
	case aliasExport:
		inst, err := s.instanceAt(a.instance)
		if err != nil {
			return err
		}
		switch a.sort {
		case sortType:
			var target *typeEntry
			if inst.shape != nil {
				target = inst.shape.exportedType(a.name)
			}
			s.types = append(s.types, &typeEntry{target: target, name: a.name, origin: inst.name})
		case sortInstance:
			s.instances = append(s.instances, &instanceEntry{name: a.name})
		}
	}
	return nil
}

func (e *elaborator) extern(s *scope, name string, d externDesc) (item, error) {
	it := item{name: name, sort: d.sort}
	switch d.sort {
	case sortType:
		t := &typeEntry{name: name}
		if d.resource {
			t.def, t.scope = &resourceType{}, s
		} else {
			target, err := s.typeAt(d.index)
			if err != nil {
				return it, err
			}
			t.target = target
		}
		s.types = append(s.types, t)
		it.typ = t
	case sortFunc:
		def, defScope, err := s.resolve(d.index)
		if err != nil {
			return it, err
		}
		fn, ok := def.(*funcType)
		if !ok {
			return it, fmt.Errorf("wit: %s: expected func type, got %T", name, def)
		}
		it.fn, it.fnScope = fn, defScope
	case sortInstance, sortComponent:
		def, defScope, err := s.resolve(d.index)
		if err != nil {
			return it, err
		}
		if it.shape, err = e.elaborate(def, defScope); err != nil {
			return it, err
		}
		if d.sort == sortInstance {
			s.instances = append(s.instances, &instanceEntry{name: name, shape: it.shape})
		}
	}
	return it, nil
}

func (s *scope) resolve(i uint32) (typeDef, *scope, error) {
	t, err := s.typeAt(i)
	if err != nil {
		return nil, nil, err
	}
	return definition(t)
}

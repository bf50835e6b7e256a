package wit

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

var (
	magic            = []byte{0x00, 0x61, 0x73, 0x6d}
	componentVersion = []byte{0x0d, 0x00, 0x01, 0x00}
	moduleVersion    = []byte{0x01, 0x00, 0x00, 0x00}
)

const (
	secCustom    byte = 0
	secAlias     byte = 6
	secType      byte = 7
	secImport    byte = 10
	secExport    byte = 11
	secCoreFirst byte = 1
	secLast      byte = 12
)

var errNotPackage = errors.New("wit: component does not encode a WIT package")

// component is the top level of a component binary.
type component struct {
	name    string
	decls   []decl
	imports []decl
	exports []decl
	// defines reports sections that populate instance or component index
	// spaces, which WIT packages never carry.
	defines     bool
	typesBroken bool
}

func parseComponent(b []byte) (*component, error) {
	if len(b) < 8 || !bytes.Equal(b[:4], magic) || !bytes.Equal(b[4:8], componentVersion) {
		return nil, errors.New("wit: not a component binary")
	}
	c := &component{}
	r := newReader(b[8:])
	for !r.eof() {
		id, err := r.byte()
		if err != nil {
			return nil, err
		}
		size, err := r.u32()
		if err != nil {
			return nil, err
		}
		body, err := r.bytes(size)
		if err != nil {
			return nil, err
		}
		if id > secLast {
			return nil, fmt.Errorf("wit: unknown section %d", id)
		}
		sr := newReader(body)
		switch id {
		case secCustom:
			c.custom(sr)
		case secType:
			var defs []decl
			err := sr.vec(func() error {
				def, err := sr.defType()
				defs = append(defs, decl{kind: declType, def: def})
				return err
			})
			if err != nil {
				// later index spaces are unreliable; imports and exports
				// still decode
				c.typesBroken = true
				continue
			}
			c.decls = append(c.decls, defs...)
		case secAlias:
			err = sr.vec(func() error {
				a, err := sr.alias()
				c.decls = append(c.decls, decl{kind: declAlias, alias: a})
				return err
			})
		case secImport:
			err = sr.vec(func() error {
				n, err := sr.externName()
				if err != nil {
					return err
				}
				d, err := sr.externDesc()
				imp := decl{kind: declImport, name: n, extern: d}
				c.imports = append(c.imports, imp)
				c.decls = append(c.decls, imp)
				return err
			})
		case secExport:
			err = sr.vec(func() error {
				exp, err := sr.export()
				c.exports = append(c.exports, exp)
				c.decls = append(c.decls, exp)
				return err
			})
		default:
			if id >= secCoreFirst {
				c.defines = true
			}
		}
		if err != nil {
			return nil, err
		}
	}
	return c, nil
}

// export reads a top-level export; the sort index is recorded as an
// (eq i) descriptor.
func (r *reader) export() (decl, error) {
	d := decl{kind: declExport}
	var err error
	if d.name, err = r.externName(); err != nil {
		return d, err
	}
	if d.extern.sort, err = r.byte(); err != nil {
		return d, err
	}
	if d.extern.sort == sortCore {
		if _, err = r.byte(); err != nil {
			return d, err
		}
	}
	if d.extern.index, err = r.u32(); err != nil {
		return d, err
	}
	b, err := r.byte()
	if err != nil {
		return d, err
	}
	if b == 0x01 {
		_, err = r.externDesc()
	}
	return d, err
}

// custom picks the component name out of a component-name section.
// Malformed name sections are ignored.
func (c *component) custom(r *reader) {
	n, err := r.name()
	if err != nil || n != "component-name" {
		return
	}
	for !r.eof() {
		id, err := r.byte()
		if err != nil {
			return
		}
		size, err := r.u32()
		if err != nil {
			return
		}
		body, err := r.bytes(size)
		if err != nil {
			return
		}
		if id == 0 {
			if name, err := newReader(body).name(); err == nil {
				c.name = name
			}
			return
		}
	}
}

// isPackage reports whether c has the shape of an encoded WIT package:
// only type exports, labelled with plain names.
func (c *component) isPackage() bool {
	if len(c.exports) == 0 || len(c.imports) > 0 || c.defines || c.typesBroken {
		return false
	}
	for _, e := range c.exports {
		if e.extern.sort != sortType {
			return false
		}
	}
	return !strings.ContainsAny(c.exports[0].name, ":/")
}

// qualifiedName splits "ns:pkg/name@version".
type qualifiedName struct {
	namespace string
	pkg       string
	name      string
	version   string
}

func parseQualified(s string) (qualifiedName, bool) {
	var q qualifiedName
	ns, rest, ok := strings.Cut(s, ":")
	if !ok || ns == "" {
		return q, false
	}
	pkg, rest, ok := strings.Cut(rest, "/")
	if !ok || pkg == "" {
		return q, false
	}
	name, version, _ := strings.Cut(rest, "@")
	if name == "" {
		return q, false
	}
	return qualifiedName{namespace: ns, pkg: pkg, name: name, version: version}, true
}

func (q qualifiedName) packageID() string {
	id := q.namespace + ":" + q.pkg
	if q.version != "" {
		id += "@" + q.version
	}
	return id
}

type iface struct {
	name  string
	shape *shape
}

type world struct {
	name  string
	shape *shape
}

type pkg struct {
	id         qualifiedName
	interfaces []iface
	worlds     []world
}

func (p *pkg) name() string { return p.id.packageID() }

func decodePackage(c *component) (*pkg, error) {
	el := newElaborator()
	top, err := el.shape(c.decls, nil)
	if err != nil {
		return nil, err
	}
	p := &pkg{}
	for i, exp := range top.exports {
		def, defScope, err := definition(exp.typ)
		if err != nil {
			return nil, err
		}
		if _, ok := def.(*componentType); !ok {
			return nil, errNotPackage
		}
		wrapper, err := el.elaborate(def, defScope)
		if err != nil {
			return nil, err
		}
		if len(wrapper.exports) != 1 {
			return nil, fmt.Errorf("wit: %s: expected one export in package component type, found %d", exp.name, len(wrapper.exports))
		}
		inner := wrapper.exports[0]
		q, ok := parseQualified(inner.name)
		if !ok {
			return nil, fmt.Errorf("wit: %q is not a qualified name", inner.name)
		}
		if i == 0 {
			p.id = q
		}
		switch inner.sort {
		case sortInstance:
			p.interfaces = append(p.interfaces, iface{name: q.name, shape: inner.shape})
		case sortComponent:
			p.worlds = append(p.worlds, world{name: q.name, shape: inner.shape})
		default:
			return nil, fmt.Errorf("wit: %s: unexpected export sort 0x%02x", inner.name, inner.sort)
		}
	}
	return p, nil
}

package wit

import (
	"fmt"
	"strings"
)

var keywords = map[string]bool{
	"as": true, "async": true, "bool": true, "borrow": true, "char": true,
	"constructor": true, "enum": true, "export": true, "f32": true, "f64": true,
	"flags": true, "func": true, "future": true, "import": true, "include": true,
	"interface": true, "list": true, "option": true, "own": true, "package": true,
	"record": true, "resource": true, "result": true, "s16": true, "s32": true,
	"s64": true, "s8": true, "static": true, "stream": true, "string": true,
	"tuple": true, "type": true, "u16": true, "u32": true, "u64": true, "u8": true,
	"use": true, "variant": true, "with": true, "world": true,
}

func ident(s string) string {
	if keywords[s] {
		return "%" + s
	}
	return s
}

type renderer struct {
	b   strings.Builder
	pkg qualifiedName
}

func (r *renderer) line(indent int, format string, args ...any) {
	r.b.WriteString(strings.Repeat("  ", indent))
	fmt.Fprintf(&r.b, format, args...)
	r.b.WriteByte('\n')
}

func renderPackage(p *pkg) string {
	r := &renderer{pkg: p.id}
	r.line(0, "package %s;", p.name())
	for _, i := range p.interfaces {
		r.b.WriteByte('\n')
		r.line(0, "interface %s {", ident(i.name))
		r.interfaceBody(i.shape, 1)
		r.line(0, "}")
	}
	for _, w := range p.worlds {
		r.b.WriteByte('\n')
		r.line(0, "world %s {", ident(w.name))
		r.worldBody(w.shape, 1)
		r.line(0, "}")
	}
	return r.b.String()
}

// ref names an interface relative to the package being rendered.
func (r *renderer) ref(name string) string {
	q, ok := parseQualified(name)
	if !ok {
		return ident(name)
	}
	if q.namespace == r.pkg.namespace && q.pkg == r.pkg.pkg && q.version == r.pkg.version {
		return ident(q.name)
	}
	return name
}

func (r *renderer) interfaceBody(sh *shape, indent int) {
	methods := map[string][]item{}
	var funcs []item
	for _, it := range sh.exports {
		if it.sort != sortFunc {
			continue
		}
		if res, _, ok := resourceFunc(it.name); ok {
			methods[res] = append(methods[res], it)
			continue
		}
		funcs = append(funcs, it)
	}

	types := 0
	for _, it := range sh.exports {
		if it.sort == sortType {
			r.typeDecl(it.typ, methods[it.name], indent)
			types++
		}
	}
	if len(funcs) > 0 && types > 0 {
		r.b.WriteByte('\n')
	}
	for _, it := range funcs {
		r.line(indent, "%s: %s;", ident(it.name), r.funcSig(it.fn, it.fnScope, false))
	}
}

func (r *renderer) worldBody(sh *shape, indent int) {
	for _, it := range sh.imports {
		r.worldItem("import", it, indent)
	}
	for _, it := range sh.exports {
		r.worldItem("export", it, indent)
	}
}

func (r *renderer) worldItem(dir string, it item, indent int) {
	switch it.sort {
	case sortInstance:
		if _, ok := parseQualified(it.name); ok {
			r.line(indent, "%s %s;", dir, r.ref(it.name))
			return
		}
		r.line(indent, "%s %s: interface {", dir, ident(it.name))
		r.interfaceBody(it.shape, indent+1)
		r.line(indent, "}")
	case sortFunc:
		r.line(indent, "%s %s: %s;", dir, ident(it.name), r.funcSig(it.fn, it.fnScope, false))
	case sortType:
		r.typeDecl(it.typ, nil, indent)
	}
}

// resourceFunc splits "[method]res.name", "[static]res.name" and
// "[constructor]res".
func resourceFunc(name string) (res, fn string, ok bool) {
	for _, p := range []string{"[method]", "[static]"} {
		if rest, found := strings.CutPrefix(name, p); found {
			res, fn, ok = strings.Cut(rest, ".")
			return res, fn, ok
		}
	}
	if rest, found := strings.CutPrefix(name, "[constructor]"); found {
		return rest, "", true
	}
	return "", "", false
}

func (r *renderer) typeDecl(t *typeEntry, methods []item, indent int) {
	name := ident(t.name)
	if _, ok := t.def.(*resourceType); ok {
		r.resource(name, methods, indent)
		return
	}

	e := t.target
	for i := 0; e != nil && e.name == "" && e.def == nil && i < maxChain; i++ {
		e = e.target
	}
	switch {
	case e == nil:
		r.line(indent, "type %s;", name)
	case e.origin != "":
		if e.name == t.name {
			r.line(indent, "use %s.{%s};", r.ref(e.origin), name)
		} else {
			r.line(indent, "use %s.{%s as %s};", r.ref(e.origin), ident(e.name), name)
		}
	case e.name != "":
		r.line(indent, "type %s = %s;", name, ident(e.name))
	default:
		r.definition(name, e.def, e.scope, indent)
	}
}

func (r *renderer) definition(name string, def typeDef, s *scope, indent int) {
	switch d := def.(type) {
	case *recordType:
		r.line(indent, "record %s {", name)
		for _, f := range d.fields {
			r.line(indent+1, "%s: %s,", ident(f.name), r.valType(s, f.typ))
		}
		r.line(indent, "}")
	case *variantType:
		r.line(indent, "variant %s {", name)
		for _, c := range d.cases {
			if c.typ == nil {
				r.line(indent+1, "%s,", ident(c.name))
			} else {
				r.line(indent+1, "%s(%s),", ident(c.name), r.valType(s, *c.typ))
			}
		}
		r.line(indent, "}")
	case *enumType:
		r.labels("enum", name, d.names, indent)
	case *flagsType:
		r.labels("flags", name, d.names, indent)
	case *resourceType:
		r.line(indent, "resource %s;", name)
	default:
		r.line(indent, "type %s = %s;", name, r.anon(def, s))
	}
}

func (r *renderer) labels(kind, name string, names []string, indent int) {
	r.line(indent, "%s %s {", kind, name)
	for _, n := range names {
		r.line(indent+1, "%s,", ident(n))
	}
	r.line(indent, "}")
}

func (r *renderer) resource(name string, methods []item, indent int) {
	if len(methods) == 0 {
		r.line(indent, "resource %s;", name)
		return
	}
	r.line(indent, "resource %s {", name)
	for _, m := range methods {
		_, fn, _ := resourceFunc(m.name)
		switch {
		case strings.HasPrefix(m.name, "[constructor]"):
			r.line(indent+1, "constructor(%s);", r.params(m.fn.params, m.fnScope, false))
		case strings.HasPrefix(m.name, "[static]"):
			r.line(indent+1, "%s: static %s;", ident(fn), r.funcSig(m.fn, m.fnScope, false))
		default:
			r.line(indent+1, "%s: %s;", ident(fn), r.funcSig(m.fn, m.fnScope, true))
		}
	}
	r.line(indent, "}")
}

func (r *renderer) params(ps []field, s *scope, dropSelf bool) string {
	if dropSelf && len(ps) > 0 {
		ps = ps[1:]
	}
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = ident(p.name) + ": " + r.valType(s, p.typ)
	}
	return strings.Join(out, ", ")
}

func (r *renderer) funcSig(fn *funcType, s *scope, method bool) string {
	var b strings.Builder
	if fn.async {
		b.WriteString("async ")
	}
	b.WriteString("func(")
	b.WriteString(r.params(fn.params, s, method))
	b.WriteString(")")
	switch {
	case fn.result != nil:
		b.WriteString(" -> " + r.valType(s, *fn.result))
	case len(fn.results) > 0:
		b.WriteString(" -> (" + r.params(fn.results, s, false) + ")")
	}
	return b.String()
}

func (r *renderer) valType(s *scope, v valType) string {
	if v.isPrim() {
		return primNames[v.prim]
	}
	t, err := s.typeAt(v.index)
	if err != nil {
		return "_"
	}
	return r.entryRef(t)
}

func (r *renderer) entryRef(e *typeEntry) string {
	for i := 0; e != nil && i < maxChain; i++ {
		if e.name != "" {
			return ident(e.name)
		}
		if e.def != nil {
			return r.anon(e.def, e.scope)
		}
		e = e.target
	}
	return "_"
}

func (r *renderer) opt(s *scope, v *valType) string {
	if v == nil {
		return "_"
	}
	return r.valType(s, *v)
}

// anon renders a type that is referenced structurally rather than by name.
func (r *renderer) anon(def typeDef, s *scope) string {
	switch d := def.(type) {
	case *primType:
		return r.valType(s, d.typ)
	case *listType:
		if d.length > 0 {
			return fmt.Sprintf("list<%s, %d>", r.valType(s, d.elem), d.length)
		}
		return "list<" + r.valType(s, d.elem) + ">"
	case *tupleType:
		elems := make([]string, len(d.elems))
		for i, e := range d.elems {
			elems[i] = r.valType(s, e)
		}
		return "tuple<" + strings.Join(elems, ", ") + ">"
	case *optionType:
		return "option<" + r.valType(s, d.elem) + ">"
	case *resultType:
		switch {
		case d.ok == nil && d.err == nil:
			return "result"
		case d.err == nil:
			return "result<" + r.opt(s, d.ok) + ">"
		default:
			return "result<" + r.opt(s, d.ok) + ", " + r.opt(s, d.err) + ">"
		}
	case *handleType:
		t, err := s.typeAt(d.index)
		if err != nil {
			return "_"
		}
		if d.borrow {
			return "borrow<" + r.entryRef(t) + ">"
		}
		return r.entryRef(t)
	case *streamType:
		if d.elem == nil {
			return "stream"
		}
		return "stream<" + r.opt(s, d.elem) + ">"
	case *futureType:
		if d.elem == nil {
			return "future"
		}
		return "future<" + r.opt(s, d.elem) + ">"
	case *funcType:
		return r.funcSig(d, s, false)
	case *recordType:
		return "record"
	case *variantType:
		return "variant"
	case *enumType:
		return "enum"
	case *flagsType:
		return "flags"
	}
	return "_"
}

// inferred renders the minimal world listing used when no WIT package is
// embedded.
func inferred(header, world string, imports, exports []string) string {
	var b strings.Builder
	b.WriteString(header + "\n")
	fmt.Fprintf(&b, "world %s {\n", world)
	for _, n := range imports {
		fmt.Fprintf(&b, "  import %s;\n", n)
	}
	for _, n := range exports {
		fmt.Fprintf(&b, "  export %s;\n", n)
	}
	b.WriteString("}\n")
	return b.String()
}

// Package wit extracts WIT metadata from WebAssembly binaries.
//
// Components that embed an encoded WIT package are decoded into their
// interfaces and worlds and rendered back to WIT text. Other components
// are summarised by their top-level imports and exports. Core modules carry
// no component interface and yield nothing.
package wit

import (
	"bytes"
	"errors"
)

const defaultWorld = "root"

var errCoreModule = errors.New("wit: core module, not a component")

// Metadata describes the interface of a wasm binary.
type Metadata struct {
	// PackageName is "ns:pkg[@version]"; empty when the binary carries no
	// WIT package.
	PackageName string
	WorldName   string
	ImportCount int
	ExportCount int
	WitText     string
}

// Extract decodes wasm. It reports false for anything that is not a
// decodable component and never panics.
func Extract(wasm []byte) (md Metadata, ok bool) {
	defer func() {
		if recover() != nil {
			md, ok = Metadata{}, false
		}
	}()
	md, err := extract(wasm)
	if err != nil {
		return Metadata{}, false
	}
	return md, true
}

func extract(b []byte) (Metadata, error) {
	if len(b) < 8 || !bytes.Equal(b[:4], magic) {
		return Metadata{}, errors.New("wit: missing wasm magic")
	}
	if bytes.Equal(b[4:8], moduleVersion) {
		return Metadata{}, errCoreModule
	}

	c, err := parseComponent(b)
	if err != nil {
		return Metadata{}, err
	}
	if c.isPackage() {
		p, err := decodePackage(c)
		if err != nil {
			return Metadata{}, err
		}
		return packageMetadata(p), nil
	}
	return componentMetadata(c), nil
}

func packageMetadata(p *pkg) Metadata {
	md := Metadata{
		PackageName: p.name(),
		WorldName:   p.id.pkg,
		WitText:     renderPackage(p),
	}
	if len(p.worlds) > 0 {
		w := p.worlds[0]
		md.WorldName = w.name
		md.ImportCount = len(w.shape.imports)
		md.ExportCount = len(w.shape.exports)
	}
	return md
}

func componentMetadata(c *component) Metadata {
	var imports, exports []string
	for _, d := range c.imports {
		if d.extern.sort != sortValue {
			imports = append(imports, d.name)
		}
	}
	for _, d := range c.exports {
		if d.extern.sort == sortFunc || d.extern.sort == sortInstance {
			exports = append(exports, d.name)
		}
	}
	world := c.name
	if world == "" {
		world = defaultWorld
	}
	return Metadata{
		WorldName:   world,
		ImportCount: len(imports),
		ExportCount: len(exports),
		WitText:     inferred("// Inferred component interface", world, imports, exports),
	}
}

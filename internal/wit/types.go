package wit

// valType is either a primitive code or an index into the enclosing type
// index space.
type valType struct {
	prim  byte
	index uint32
}

func (v valType) isPrim() bool { return v.prim != 0 }

type field struct {
	name string
	typ  valType
}

type variantCase struct {
	name string
	typ  *valType
}

type (
	primType    struct{ typ valType }
	recordType  struct{ fields []field }
	variantType struct{ cases []variantCase }
	listType    struct {
		elem   valType
		length uint32
	}
	tupleType  struct{ elems []valType }
	flagsType  struct{ names []string }
	enumType   struct{ names []string }
	optionType struct{ elem valType }
	resultType struct{ ok, err *valType }
	handleType struct {
		borrow bool
		index  uint32
	}
	streamType   struct{ elem *valType }
	futureType   struct{ elem *valType }
	resourceType struct{}
	funcType     struct {
		async   bool
		params  []field
		result  *valType
		results []field
	}
	componentType struct{ decls []decl }
	instanceType  struct{ decls []decl }
)

// typeDef is one of the *Type structs above.
type typeDef any

type declKind uint8

const (
	declCoreType declKind = iota
	declType
	declAlias
	declImport
	declExport
)

// Sorts, as encoded in aliases, export sort indices and extern descriptors.
const (
	sortCore      byte = 0x00
	sortFunc      byte = 0x01
	sortValue     byte = 0x02
	sortType      byte = 0x03
	sortComponent byte = 0x04
	sortInstance  byte = 0x05
)

const (
	aliasExport     byte = 0x00
	aliasCoreExport byte = 0x01
	aliasOuter      byte = 0x02
)

type alias struct {
	sort     byte
	target   byte
	instance uint32
	name     string
	count    uint32
	index    uint32
}

// externDesc describes an import or export. For sortType, resource reports
// a (sub resource) bound, otherwise index is the (eq i) target.
type externDesc struct {
	sort     byte
	index    uint32
	resource bool
}

type decl struct {
	kind   declKind
	def    typeDef
	alias  alias
	name   string
	extern externDesc
}

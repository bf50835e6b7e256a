package wasmpkg

import (
	"github.com/aweris/wasmpkg/internal/metadata"
	"github.com/aweris/wasmpkg/internal/migrations"
)

// Stored data types, re-exported from internal/metadata.
type (
	ImageEntry        = metadata.ImageEntry
	KnownPackage      = metadata.KnownPackage
	WitInterface      = metadata.WitInterface
	WitInterfaceImage = metadata.WitInterfaceImage
	InsertResult      = metadata.InsertResult
	TagType           = metadata.TagType
	MigrationInfo     = migrations.Info
)

const (
	Inserted      = metadata.Inserted
	AlreadyExists = metadata.AlreadyExists

	TagRelease     = metadata.TagRelease
	TagSignature   = metadata.TagSignature
	TagAttestation = metadata.TagAttestation
)

// TagTypeFromTag classifies a tag by its name.
func TagTypeFromTag(tag string) TagType { return metadata.TagTypeFromTag(tag) }

// StateInfo is a snapshot of where the manager keeps its data.
type StateInfo struct {
	Executable   string
	DataDir      string
	LayersDir    string
	MetadataFile string
	ConfigFile   string

	MigrationCurrent int
	MigrationTotal   int

	LayersSize   int64
	MetadataSize int64

	Offline bool
}

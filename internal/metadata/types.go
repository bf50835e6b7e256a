package metadata

import (
	"strings"
	"time"

	v1 "github.com/google/go-containerregistry/pkg/v1"
)

// Identity names an image row. Empty Tag or Digest means absent.
type Identity struct {
	Registry       string
	Repository     string
	MirrorRegistry string
	Tag            string
	Digest         string
}

// InsertResult reports whether InsertImage created a row.
type InsertResult int

const (
	Inserted InsertResult = iota
	AlreadyExists
)

func (r InsertResult) String() string {
	if r == AlreadyExists {
		return "already exists"
	}
	return "inserted"
}

// ImageEntry is a stored image row.
type ImageEntry struct {
	ID                int64
	RefRegistry       string
	RefRepository     string
	RefMirrorRegistry string
	RefTag            string
	RefDigest         string
	Manifest          *v1.Manifest
	SizeOnDisk        int64
	CreatedAt         time.Time
}

// Reference renders registry/repository followed by :tag, or @digest when
// the row has no tag.
func (e ImageEntry) Reference() string {
	ref := e.RefRegistry + "/" + e.RefRepository
	switch {
	case e.RefTag != "":
		return ref + ":" + e.RefTag
	case e.RefDigest != "":
		return ref + "@" + e.RefDigest
	}
	return ref
}

// Identity returns the identity the row was inserted with.
func (e ImageEntry) Identity() Identity {
	return Identity{
		Registry:       e.RefRegistry,
		Repository:     e.RefRepository,
		MirrorRegistry: e.RefMirrorRegistry,
		Tag:            e.RefTag,
		Digest:         e.RefDigest,
	}
}

// LayerDigests returns the digests of the manifest layers in order.
func (e ImageEntry) LayerDigests() []string {
	if e.Manifest == nil {
		return nil
	}
	out := make([]string, 0, len(e.Manifest.Layers))
	for _, l := range e.Manifest.Layers {
		out = append(out, l.Digest.String())
	}
	return out
}

// TagType classifies a tag by its name.
type TagType string

const (
	TagRelease     TagType = "release"
	TagSignature   TagType = "signature"
	TagAttestation TagType = "attestation"
)

// TagTypeFromTag classifies tag: a .sig suffix is a signature, .att an
// attestation, anything else a release.
func TagTypeFromTag(tag string) TagType {
	switch {
	case strings.HasSuffix(tag, ".sig"):
		return TagSignature
	case strings.HasSuffix(tag, ".att"):
		return TagAttestation
	default:
		return TagRelease
	}
}

// KnownPackage is a catalog entry that outlives local image data.
type KnownPackage struct {
	ID              int64
	Registry        string
	Repository      string
	Description     string
	Tags            []string // release tags, most recently seen first
	SignatureTags   []string
	AttestationTags []string
	LastSeenAt      time.Time
	CreatedAt       time.Time
}

func (p KnownPackage) Reference() string {
	return p.Registry + "/" + p.Repository
}

// ReferenceWithTag uses the most recently seen release tag, or latest.
func (p KnownPackage) ReferenceWithTag() string {
	tag := "latest"
	if len(p.Tags) > 0 {
		tag = p.Tags[0]
	}
	return p.Reference() + ":" + tag
}

// AllTags returns release, signature and attestation tags in that order.
func (p KnownPackage) AllTags() []string {
	out := make([]string, 0, len(p.Tags)+len(p.SignatureTags)+len(p.AttestationTags))
	out = append(out, p.Tags...)
	out = append(out, p.SignatureTags...)
	return append(out, p.AttestationTags...)
}

// WitInterface is a deduplicated WIT description.
type WitInterface struct {
	ID          int64
	WitText     string
	PackageName string
	WorldName   string
	ImportCount int
	ExportCount int
	CreatedAt   time.Time
}

// WitInterfaceImage pairs an interface with the image it was extracted from.
type WitInterfaceImage struct {
	Interface WitInterface
	ImageID   int64
	Reference string
}

package wasmpkg

import (
	"fmt"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/opencontainers/go-digest"

	"github.com/aweris/wasmpkg/internal/metadata"
)

const defaultTag = "latest"

// Reference identifies a package image. Tag is empty for digest-only
// references.
type Reference struct {
	Registry   string
	Repository string
	Tag        string
	Digest     string
}

// ParseReference parses "[registry/]repository[:tag][@digest]". A missing
// registry resolves through opts (name.WithDefaultRegistry), Docker Hub
// otherwise. A reference with neither tag nor digest gets "latest".
func ParseReference(s string, opts ...name.Option) (Reference, error) {
	base, dig, hasDigest := strings.Cut(s, "@")

	tag, err := name.NewTag(base, opts...)
	if err != nil {
		return Reference{}, fmt.Errorf("parse reference %q: %w", s, err)
	}
	ref := Reference{
		Registry:   tag.RegistryStr(),
		Repository: tag.RepositoryStr(),
	}

	if hasDigest {
		d, err := digest.Parse(dig)
		if err != nil {
			return Reference{}, fmt.Errorf("parse reference %q: %w", s, err)
		}
		ref.Digest = d.String()
	}
	if explicitTag(base) {
		ref.Tag = tag.TagStr()
	} else if !hasDigest {
		ref.Tag = defaultTag
	}
	return ref, nil
}

// explicitTag reports whether the last path segment carries a ":tag".
func explicitTag(base string) bool {
	last := base[strings.LastIndex(base, "/")+1:]
	return strings.Contains(last, ":")
}

func (r Reference) String() string {
	s := r.Registry + "/" + r.Repository
	if r.Tag != "" {
		s += ":" + r.Tag
	}
	if r.Digest != "" {
		s += "@" + r.Digest
	}
	return s
}

// Name converts r for go-containerregistry. The digest wins over the tag.
func (r Reference) Name() (name.Reference, error) {
	repo := r.Registry + "/" + r.Repository
	if r.Digest != "" {
		return name.NewDigest(repo + "@" + r.Digest)
	}
	tag := r.Tag
	if tag == "" {
		tag = defaultTag
	}
	return name.NewTag(repo + ":" + tag)
}

func (r Reference) repository() (name.Repository, error) {
	return name.NewRepository(r.Registry + "/" + r.Repository)
}

// identity is the metadata identity of r; manifestDigest fills in a digest
// the reference did not carry.
func (r Reference) identity(manifestDigest string) metadata.Identity {
	d := r.Digest
	if d == "" {
		d = manifestDigest
	}
	return metadata.Identity{
		Registry:   r.Registry,
		Repository: r.Repository,
		Tag:        r.Tag,
		Digest:     d,
	}
}

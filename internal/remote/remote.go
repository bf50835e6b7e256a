// Package remote implements OCI registry operations for wasm components.
//
// Based on go-containerregistry patterns:
// - Authentication resolved per registry host before each operation
// - Pull: manifest → config → layers (layers fetched in parallel)
// - Tag listing over the distribution tags/list endpoint
//
// Every operation is a single attempt; failures are returned to the caller.
package remote

import (
	"context"

	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
)

// Client handles OCI registry operations.
type Client interface {
	// Pull downloads the manifest, config and layers of ref.
	Pull(ctx context.Context, ref name.Reference) (*Image, error)

	// ListTags returns every tag of repo in registry order.
	ListTags(ctx context.Context, repo name.Repository) ([]string, error)
}

// Image is a pulled image held in memory.
type Image struct {
	Manifest    *v1.Manifest
	RawManifest []byte
	RawConfig   []byte
	Digest      v1.Hash // manifest digest
	Layers      []Layer // manifest order
}

// Layer is a layer descriptor with its blob bytes as stored in the registry.
type Layer struct {
	Descriptor v1.Descriptor
	Data       []byte
}

// Size returns the total size of the layer blobs.
func (i *Image) Size() int64 {
	var n int64
	for _, l := range i.Layers {
		n += int64(len(l.Data))
	}
	return n
}

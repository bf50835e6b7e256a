// Package store implements the local content storage layer.
//
// Blobs are addressed by key. Digest keys map onto a sharded tree:
//
//	root/
//	  sha256/
//	    ab/cd123...       (blob, zstd when it pays off)
//	  keys/
//	    9f/86d08...       (blob stored under a non-digest key)
//	    9f/86d08....key   (the original key)
//
// Anything else is hashed into keys/ so that the fallback key of a layer
// without a digest still gets a stable location.
package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Read for a key that was never written.
var ErrNotFound = errors.New("store: blob not found")

// Error is an I/O failure of the content store.
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store: %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Store handles local blob storage.
type Store interface {
	// Write stores data under key. Writing an existing key is a no-op.
	Write(ctx context.Context, key string, data []byte) error

	// Read returns the blob stored under key or ErrNotFound.
	Read(ctx context.Context, key string) ([]byte, error)

	Has(ctx context.Context, key string) (bool, error)

	// Remove deletes a blob. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// Keys lists every stored key.
	Keys(ctx context.Context) ([]string, error)

	// Size returns the bytes used on disk.
	Size(ctx context.Context) (int64, error)
}

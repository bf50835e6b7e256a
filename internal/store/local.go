package store

import (
	"bytes"
	"context"
	"crypto/sha256"
	_ "crypto/sha512"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/aweris/wasmpkg/internal/compression"
)

const (
	keysDir   = "keys"
	keySuffix = ".key"
	tmpPrefix = ".tmp-"
)

// LocalStore implements Store on the local filesystem.
type LocalStore struct {
	root       string
	cache      Cache
	compressor *compression.Compressor
}

// Options configures a LocalStore.
type Options struct {
	CacheSize          int
	CompressionLevel   int
	CompressionEnabled bool
}

// DefaultOptions compresses at the default level with the default cache.
func DefaultOptions() Options {
	return Options{CacheSize: DefaultCacheSize, CompressionLevel: 2, CompressionEnabled: true}
}

// NewLocalStore creates root if needed and returns a store rooted there.
func NewLocalStore(root string, opts Options) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, &Error{Op: "init", Key: root, Err: err}
	}

	compressor, err := compression.New(opts.CompressionLevel, opts.CompressionEnabled)
	if err != nil {
		return nil, &Error{Op: "init", Key: root, Err: err}
	}

	return &LocalStore{
		root:       root,
		cache:      NewLRUCache(opts.CacheSize),
		compressor: compressor,
	}, nil
}

// Root returns the directory the store writes to.
func (s *LocalStore) Root() string { return s.root }

func (s *LocalStore) Write(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if d, ok := parseDigest(key); ok {
		if got := d.Algorithm().FromBytes(data); got != d {
			return &Error{Op: "write", Key: key, Err: errors.New("content digest is " + got.String())}
		}
	}

	path := s.blobPath(key)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &Error{Op: "write", Key: key, Err: err}
	}

	if _, ok := parseDigest(key); !ok {
		if err := writeAtomic(dir, path+keySuffix, []byte(key)); err != nil {
			return &Error{Op: "write", Key: key, Err: err}
		}
	}
	if err := writeAtomic(dir, path, s.compressor.Compress(data)); err != nil {
		return &Error{Op: "write", Key: key, Err: err}
	}

	s.cache.Add(key, bytes.Clone(data))
	return nil
}

func (s *LocalStore) Read(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if data, ok := s.cache.Get(key); ok {
		return bytes.Clone(data), nil
	}

	raw, err := os.ReadFile(s.blobPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, &Error{Op: "read", Key: key, Err: err}
	}

	data, err := s.compressor.Decompress(raw)
	if err != nil {
		return nil, &Error{Op: "decompress", Key: key, Err: err}
	}

	s.cache.Add(key, data)
	return bytes.Clone(data), nil
}

func (s *LocalStore) Has(ctx context.Context, key string) (bool, error) {
	if s.cache.Has(key) {
		return true, nil
	}
	_, err := os.Stat(s.blobPath(key))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, &Error{Op: "stat", Key: key, Err: err}
	}
}

func (s *LocalStore) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.cache.Remove(key)

	path := s.blobPath(key)
	for _, p := range []string{path, path + keySuffix} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return &Error{Op: "remove", Key: key, Err: err}
		}
	}
	return nil
}

func (s *LocalStore) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.walk(ctx, func(path string, rel []string, _ fs.DirEntry) error {
		if len(rel) != 3 || strings.HasPrefix(rel[2], tmpPrefix) {
			return nil
		}
		if rel[0] == keysDir {
			if !strings.HasSuffix(rel[2], keySuffix) {
				return nil
			}
			key, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			keys = append(keys, string(key))
			return nil
		}
		keys = append(keys, rel[0]+":"+rel[1]+rel[2])
		return nil
	})
	if err != nil {
		return nil, &Error{Op: "keys", Key: s.root, Err: err}
	}
	return keys, nil
}

func (s *LocalStore) Size(ctx context.Context) (int64, error) {
	var size int64
	err := s.walk(ctx, func(_ string, _ []string, d fs.DirEntry) error {
		info, err := d.Info()
		if err != nil {
			return err
		}
		size += info.Size()
		return nil
	})
	if err != nil {
		return 0, &Error{Op: "size", Key: s.root, Err: err}
	}
	return size, nil
}

// Clear drops the in-memory cache.
func (s *LocalStore) Clear() {
	s.cache.Clear()
}

func (s *LocalStore) Close() error {
	return s.compressor.Close()
}

// walk visits every regular file under root with its path split into
// components relative to root.
func (s *LocalStore) walk(ctx context.Context, fn func(path string, rel []string, d fs.DirEntry) error) error {
	return filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		return fn(path, strings.Split(filepath.ToSlash(rel), "/"), d)
	})
}

// blobPath shards digest keys as <algo>/<hh>/<rest>; other keys are hashed
// into keys/.
func (s *LocalStore) blobPath(key string) string {
	if d, ok := parseDigest(key); ok {
		enc := d.Encoded()
		return filepath.Join(s.root, string(d.Algorithm()), enc[:2], enc[2:])
	}
	sum := sha256.Sum256([]byte(key))
	h := hex.EncodeToString(sum[:])
	return filepath.Join(s.root, keysDir, h[:2], h[2:])
}

func parseDigest(key string) (digest.Digest, bool) {
	d, err := digest.Parse(key)
	if err != nil {
		return "", false
	}
	return d, true
}

func writeAtomic(dir, path string, data []byte) error {
	f, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

package wasmpkg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/registry"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/static"
	"github.com/google/go-containerregistry/pkg/v1/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	internalremote "github.com/aweris/wasmpkg/internal/remote"
)

// component imports a function named log.
var component = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x0d, 0x00, 0x01, 0x00,
	0x0a, 0x08, 0x01, 0x00, 0x03, 'l', 'o', 'g', 0x01, 0x00,
}

// coreModule imports env.log and exports run.
var coreModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x04, 0x01, 0x60, 0x00, 0x00,
	0x02, 0x0b, 0x01, 0x03, 'e', 'n', 'v', 0x03, 'l', 'o', 'g', 0x00, 0x00,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x07, 0x01, 0x03, 'r', 'u', 'n', 0x00, 0x01,
	0x0a, 0x04, 0x01, 0x02, 0x00, 0x0b,
}

func isolate(t *testing.T) {
	t.Helper()
	keyring.MockInit()
	t.Setenv("DOCKER_CONFIG", t.TempDir())
	t.Setenv("REGISTRY_AUTH_FILE", t.TempDir()+"/auth.json")
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())
}

func newRegistry(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(registry.New(registry.Logger(log.New(io.Discard, "", 0))))
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://")
}

func layer(data []byte) v1.Layer {
	return static.NewLayer(data, "application/wasm")
}

func pushImage(t *testing.T, ref string, layers ...v1.Layer) v1.Image {
	t.Helper()
	img := mutate.MediaType(empty.Image, types.OCIManifestSchema1)
	img = mutate.ConfigMediaType(img, "application/vnd.wasm.config.v0+json")
	for _, l := range layers {
		var err error
		img, err = mutate.Append(img, mutate.Addendum{Layer: l})
		require.NoError(t, err)
	}
	r, err := name.ParseReference(ref)
	require.NoError(t, err)
	require.NoError(t, remote.Write(r, img))
	return img
}

func digestOf(t *testing.T, l v1.Layer) string {
	t.Helper()
	d, err := l.Digest()
	require.NoError(t, err)
	return d.String()
}

func openManager(t *testing.T, dir string, opts ...Option) *Manager {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	opts = append([]Option{WithDataDir(dir), WithLogger(logger)}, opts...)
	m, err := Open(context.Background(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func mustParse(t *testing.T, s string) Reference {
	t.Helper()
	ref, err := ParseReference(s)
	require.NoError(t, err)
	return ref
}

func TestPullListDelete(t *testing.T) {
	isolate(t)
	host := newRegistry(t)
	wasm := layer([]byte("\x00asm\x0d\x00\x01\x00component"))
	pushImage(t, host+"/example/app:v1.0.0", wasm)

	ctx := context.Background()
	m := openManager(t, t.TempDir())
	ref := mustParse(t, host+"/example/app:v1.0.0")

	res, err := m.Pull(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, Inserted, res)

	images, err := m.ListImages(ctx)
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, "v1.0.0", images[0].RefTag)
	assert.Equal(t, host, images[0].RefRegistry)
	assert.Equal(t, "example/app", images[0].RefRepository)
	assert.NotEmpty(t, images[0].RefDigest)
	assert.Equal(t, []string{digestOf(t, wasm)}, images[0].LayerDigests())

	data, err := m.Read(ctx, digestOf(t, wasm))
	require.NoError(t, err)
	assert.Equal(t, []byte("\x00asm\x0d\x00\x01\x00component"), data)

	res, err = m.Pull(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, AlreadyExists, res)
	images, err = m.ListImages(ctx)
	require.NoError(t, err)
	assert.Len(t, images, 1)

	deleted, err := m.Delete(ctx, ref)
	require.NoError(t, err)
	assert.True(t, deleted)

	images, err = m.ListImages(ctx)
	require.NoError(t, err)
	assert.Empty(t, images)

	_, err = m.Read(ctx, digestOf(t, wasm))
	assert.ErrorIs(t, err, ErrNotFound)

	deleted, err = m.Delete(ctx, ref)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestPullRecordsKnownPackage(t *testing.T) {
	isolate(t)
	host := newRegistry(t)
	l := layer([]byte("v1"))
	pushImage(t, host+"/example/app:v1.0.0", l)
	pushImage(t, host+"/example/app:v1.0.0.sig", layer([]byte("sig")))

	ctx := context.Background()
	m := openManager(t, t.TempDir())
	_, err := m.Pull(ctx, mustParse(t, host+"/example/app:v1.0.0"))
	require.NoError(t, err)

	pkg, err := m.GetKnownPackage(ctx, host, "example/app")
	require.NoError(t, err)
	assert.Equal(t, []string{"v1.0.0"}, pkg.Tags)
	assert.Equal(t, []string{"v1.0.0.sig"}, pkg.SignatureTags)

	_, err = m.Delete(ctx, mustParse(t, host+"/example/app:v1.0.0"))
	require.NoError(t, err)

	pkgs, err := m.SearchPackages(ctx, "example")
	require.NoError(t, err)
	require.Len(t, pkgs, 1)
	assert.Equal(t, "example/app", pkgs[0].Repository)

	_, err = m.GetKnownPackage(ctx, host, "example/missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteKeepsSharedLayers(t *testing.T) {
	isolate(t)
	host := newRegistry(t)
	shared := layer([]byte("shared"))
	first := layer([]byte("first"))
	second := layer([]byte("second"))
	pushImage(t, host+"/example/app:v1", shared, first)
	pushImage(t, host+"/example/app:v2", shared, second)

	ctx := context.Background()
	m := openManager(t, t.TempDir())
	v1ref := mustParse(t, host+"/example/app:v1")
	v2ref := mustParse(t, host+"/example/app:v2")
	for _, ref := range []Reference{v1ref, v2ref} {
		_, err := m.Pull(ctx, ref)
		require.NoError(t, err)
	}

	readable := func(l v1.Layer) bool {
		_, err := m.Read(ctx, digestOf(t, l))
		return err == nil
	}

	deleted, err := m.Delete(ctx, v1ref)
	require.NoError(t, err)
	require.True(t, deleted)
	assert.False(t, readable(first))
	assert.True(t, readable(shared))
	assert.True(t, readable(second))

	images, err := m.ListImages(ctx)
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, "v2", images[0].RefTag)

	_, err = m.Delete(ctx, v2ref)
	require.NoError(t, err)
	assert.False(t, readable(shared))
	assert.False(t, readable(second))
}

func TestPullExtractsWit(t *testing.T) {
	isolate(t)
	host := newRegistry(t)
	pushImage(t, host+"/example/app:v1.0.0", layer(component))
	pushImage(t, host+"/example/other:v1", layer(component))
	pushImage(t, host+"/example/core:v1", layer(coreModule))

	ctx := context.Background()
	m := openManager(t, t.TempDir())
	for _, r := range []string{"/example/app:v1.0.0", "/example/other:v1", "/example/core:v1"} {
		_, err := m.Pull(ctx, mustParse(t, host+r))
		require.NoError(t, err)
	}

	ifaces, err := m.ListWitInterfaces(ctx)
	require.NoError(t, err)
	require.Len(t, ifaces, 1)
	assert.Equal(t, "root", ifaces[0].WorldName)
	assert.Equal(t, 1, ifaces[0].ImportCount)
	assert.Zero(t, ifaces[0].ExportCount)
	assert.Contains(t, ifaces[0].WitText, "import log;")

	linked, err := m.ListWitInterfacesWithImages(ctx)
	require.NoError(t, err)
	require.Len(t, linked, 2)
	assert.Equal(t, host+"/example/app:v1.0.0", linked[0].Reference)
	assert.Equal(t, host+"/example/other:v1", linked[1].Reference)

	w, err := m.WitInterfaceForImage(ctx, linked[0].ImageID)
	require.NoError(t, err)
	assert.Equal(t, ifaces[0].ID, w.ID)

	images, err := m.ListImages(ctx)
	require.NoError(t, err)
	core := -1
	for i, img := range images {
		if img.RefRepository == "example/core" {
			core = i
		}
	}
	require.NotEqual(t, -1, core)
	_, err = m.WitInterfaceForImage(ctx, images[core].ID)
	assert.ErrorIs(t, err, ErrNotFound, "core modules carry no component interface")
}

// countingClient fails the test if it is used.
type countingClient struct{ calls atomic.Int32 }

func (c *countingClient) Pull(context.Context, name.Reference) (*internalremote.Image, error) {
	c.calls.Add(1)
	return nil, errors.New("unexpected pull")
}

func (c *countingClient) ListTags(context.Context, name.Repository) ([]string, error) {
	c.calls.Add(1)
	return nil, errors.New("unexpected list")
}

// blockingClient serves img once release is closed.
type blockingClient struct {
	img     *internalremote.Image
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func newBlockingClient(img *internalremote.Image) *blockingClient {
	return &blockingClient{img: img, started: make(chan struct{}), release: make(chan struct{})}
}

func (c *blockingClient) Pull(ctx context.Context, _ name.Reference) (*internalremote.Image, error) {
	c.once.Do(func() { close(c.started) })
	select {
	case <-c.release:
		return c.img, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *blockingClient) ListTags(context.Context, name.Repository) ([]string, error) {
	return nil, nil
}

func sha256Of(t *testing.T, b []byte) v1.Hash {
	t.Helper()
	h, _, err := v1.SHA256(bytes.NewReader(b))
	require.NoError(t, err)
	return h
}

func wasmImage(t *testing.T, data []byte) *internalremote.Image {
	t.Helper()
	config := []byte("{}")
	manifest := &v1.Manifest{
		SchemaVersion: 2,
		MediaType:     types.OCIManifestSchema1,
		Config: v1.Descriptor{
			MediaType: "application/vnd.wasm.config.v0+json",
			Size:      int64(len(config)),
			Digest:    sha256Of(t, config),
		},
		Layers: []v1.Descriptor{{
			MediaType: "application/wasm",
			Size:      int64(len(data)),
			Digest:    sha256Of(t, data),
		}},
	}
	raw, err := json.Marshal(manifest)
	require.NoError(t, err)
	return &internalremote.Image{
		Manifest:    manifest,
		RawManifest: raw,
		RawConfig:   config,
		Digest:      sha256Of(t, raw),
		Layers:      []internalremote.Layer{{Descriptor: manifest.Layers[0], Data: data}},
	}
}

func TestPruneWaitsForInFlightPull(t *testing.T) {
	isolate(t)
	ctx := context.Background()
	img := wasmImage(t, []byte("layer written before its row"))
	client := newBlockingClient(img)
	m := openManager(t, t.TempDir(), WithRegistryClient(client))
	ref := mustParse(t, "example.com/example/app:v1")

	pulled := make(chan error, 1)
	go func() {
		_, err := m.Pull(ctx, ref)
		pulled <- err
	}()
	<-client.started

	pruned := make(chan int, 1)
	go func() {
		n, err := m.Prune(ctx)
		assert.NoError(t, err)
		pruned <- n
	}()

	assert.Never(t, func() bool { return len(pruned) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
	close(client.release)

	require.NoError(t, <-pulled)
	assert.Zero(t, <-pruned)

	_, err := m.Read(ctx, img.Layers[0].Descriptor.Digest.String())
	assert.NoError(t, err)
}

func TestPullOutlivesCancelledCaller(t *testing.T) {
	isolate(t)
	client := newBlockingClient(wasmImage(t, []byte("shared pull")))
	m := openManager(t, t.TempDir(), WithRegistryClient(client))
	ref := mustParse(t, "example.com/example/app:v1")

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := m.Pull(first, ref)
		firstErr <- err
	}()
	<-client.started

	second := make(chan error, 1)
	go func() {
		_, err := m.Pull(context.Background(), ref)
		second <- err
	}()

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)
	close(client.release)
	require.NoError(t, <-second)

	images, err := m.ListImages(context.Background())
	require.NoError(t, err)
	assert.Len(t, images, 1)
}

func TestOffline(t *testing.T) {
	isolate(t)
	host := newRegistry(t)
	pushImage(t, host+"/example/app:v1.0.0", layer([]byte("a")))
	pushImage(t, host+"/example/app:v1.0.0.att", layer([]byte("b")))

	ctx := context.Background()
	dir := t.TempDir()
	ref := mustParse(t, host+"/example/app:v1.0.0")

	client := &countingClient{}
	m := openManager(t, dir, WithOffline(true), WithRegistryClient(client))

	tags, err := m.ListTags(ctx, ref)
	require.NoError(t, err)
	assert.NotNil(t, tags)
	assert.Empty(t, tags)

	_, err = m.Pull(ctx, ref)
	assert.ErrorIs(t, err, ErrOffline)
	assert.Zero(t, client.calls.Load())
	images, err := m.ListImages(ctx)
	require.NoError(t, err)
	assert.Empty(t, images)
	require.NoError(t, m.Close())

	online := openManager(t, dir)
	_, err = online.Pull(ctx, ref)
	require.NoError(t, err)
	require.NoError(t, online.Close())

	m = openManager(t, dir, WithOffline(true), WithRegistryClient(client))
	tags, err = m.ListTags(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, []string{"v1.0.0", "v1.0.0.att"}, tags)
	assert.Zero(t, client.calls.Load())
}

func TestListTagsOnlineCachesTags(t *testing.T) {
	isolate(t)
	host := newRegistry(t)
	pushImage(t, host+"/example/app:v1", layer([]byte("a")))
	pushImage(t, host+"/example/app:v2", layer([]byte("b")))

	ctx := context.Background()
	m := openManager(t, t.TempDir())
	tags, err := m.ListTags(ctx, mustParse(t, host+"/example/app"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"v1", "v2"}, tags)

	pkg, err := m.GetKnownPackage(ctx, host, "example/app")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"v1", "v2"}, pkg.Tags)
}

func TestPrune(t *testing.T) {
	isolate(t)
	host := newRegistry(t)
	kept := layer([]byte("kept"))
	pushImage(t, host+"/example/app:v1", kept)

	ctx := context.Background()
	m := openManager(t, t.TempDir())
	_, err := m.Pull(ctx, mustParse(t, host+"/example/app:v1"))
	require.NoError(t, err)

	orphan := layer([]byte("orphan"))
	require.NoError(t, m.blobs.Write(ctx, digestOf(t, orphan), []byte("orphan")))

	removed, err := m.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = m.Read(ctx, digestOf(t, orphan))
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Read(ctx, digestOf(t, kept))
	assert.NoError(t, err)

	removed, err = m.Prune(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestStateInfo(t *testing.T) {
	isolate(t)
	host := newRegistry(t)
	pushImage(t, host+"/example/app:v1", layer([]byte(strings.Repeat("x", 64))))

	ctx := context.Background()
	dir := t.TempDir()
	m := openManager(t, dir)

	info, err := m.StateInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, dir, info.DataDir)
	assert.Equal(t, info.MigrationTotal, info.MigrationCurrent)
	assert.Positive(t, info.MigrationTotal)
	assert.Zero(t, info.LayersSize)
	assert.Positive(t, info.MetadataSize)
	assert.False(t, info.Offline)

	_, err = m.Pull(ctx, mustParse(t, host+"/example/app:v1"))
	require.NoError(t, err)
	info, err = m.StateInfo(ctx)
	require.NoError(t, err)
	assert.Positive(t, info.LayersSize)
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "0 B", FormatSize(0))
	assert.Equal(t, "1.5 KiB", FormatSize(1536))
	assert.Equal(t, "0 B", FormatSize(-1))
}

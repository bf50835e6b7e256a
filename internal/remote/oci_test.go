package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/registry"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/static"
	"github.com/google/go-containerregistry/pkg/v1/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	wasmConfigType types.MediaType = "application/vnd.wasm.config.v0+json"
	wasmLayerType  types.MediaType = "application/wasm"
)

// testServer serves an in-memory registry; tags/list requests go to tags
// when it is set.
type testServer struct {
	*httptest.Server
	tags http.HandlerFunc
}

func newTestServer(t *testing.T, tags http.HandlerFunc) *testServer {
	t.Helper()
	s := &testServer{tags: tags}
	reg := registry.New(registry.Logger(log.New(io.Discard, "", 0)))
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if s.tags != nil && strings.HasSuffix(req.URL.Path, "/tags/list") {
			s.tags(w, req)
			return
		}
		reg.ServeHTTP(w, req)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *testServer) host() string {
	return strings.TrimPrefix(s.URL, "http://")
}

func wasmImage(t *testing.T, layers ...[]byte) v1.Image {
	t.Helper()
	img := mutate.MediaType(empty.Image, types.OCIManifestSchema1)
	img = mutate.ConfigMediaType(img, wasmConfigType)
	for _, data := range layers {
		var err error
		img, err = mutate.Append(img, mutate.Addendum{Layer: static.NewLayer(data, wasmLayerType)})
		require.NoError(t, err)
	}
	return img
}

func push(t *testing.T, ref string, img v1.Image) name.Reference {
	t.Helper()
	r, err := name.ParseReference(ref)
	require.NoError(t, err)
	require.NoError(t, remote.Write(r, img))
	return r
}

type recordingAuth struct {
	mu         sync.Mutex
	registries []string
	err        error
}

func (a *recordingAuth) Authenticator(_ context.Context, registry string) (authn.Authenticator, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.registries = append(a.registries, registry)
	if a.err != nil {
		return nil, a.err
	}
	return authn.Anonymous, nil
}

func TestPull(t *testing.T) {
	srv := newTestServer(t, nil)
	first := []byte("\x00asm\x0d\x00\x01\x00first")
	second := []byte("\x00asm\x0d\x00\x01\x00second")
	img := wasmImage(t, first, second)
	ref := push(t, srv.host()+"/example/app:v1.0.0", img)

	auth := &recordingAuth{}
	pulled, err := NewOCIRemote(auth, WithConcurrency(2)).Pull(context.Background(), ref)
	require.NoError(t, err)

	wantDigest, err := img.Digest()
	require.NoError(t, err)
	assert.Equal(t, wantDigest, pulled.Digest)
	assert.Equal(t, types.OCIManifestSchema1, pulled.Manifest.MediaType)
	assert.Equal(t, wasmConfigType, pulled.Manifest.Config.MediaType)
	assert.NotEmpty(t, pulled.RawManifest)
	assert.NotEmpty(t, pulled.RawConfig)

	require.Len(t, pulled.Layers, 2)
	assert.Equal(t, first, pulled.Layers[0].Data)
	assert.Equal(t, second, pulled.Layers[1].Data)
	assert.Equal(t, wasmLayerType, pulled.Layers[0].Descriptor.MediaType)
	assert.Equal(t, int64(len(first)+len(second)), pulled.Size())

	assert.Equal(t, []string{srv.host()}, auth.registries)
}

func TestPullMissing(t *testing.T) {
	srv := newTestServer(t, nil)
	ref, err := name.ParseReference(srv.host() + "/example/missing:v1")
	require.NoError(t, err)

	_, err = NewOCIRemote(nil).Pull(context.Background(), ref)
	assert.Error(t, err)
}

func TestPullAuthFailure(t *testing.T) {
	srv := newTestServer(t, nil)
	ref := push(t, srv.host()+"/example/app:v1", wasmImage(t, []byte("x")))

	_, err := NewOCIRemote(&recordingAuth{err: errors.New("boom")}).Pull(context.Background(), ref)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

// pagedTags serves tags sorted, pageSize per page unless n is given, and
// honours last. Requests are recorded as "last/n".
type pagedTags struct {
	mu       sync.Mutex
	tags     []string
	pageSize int
	requests []string
	fail     func(last, n string) bool
}

func (p *pagedTags) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	last, n := q.Get("last"), q.Get("n")

	p.mu.Lock()
	p.requests = append(p.requests, last+"/"+n)
	p.mu.Unlock()

	if p.fail != nil && p.fail(last, n) {
		http.Error(w, "unavailable", http.StatusInternalServerError)
		return
	}

	tags := append([]string(nil), p.tags...)
	sort.Strings(tags)
	start := sort.SearchStrings(tags, last)
	if last != "" && start < len(tags) && tags[start] == last {
		start++
	}
	tags = tags[start:]

	size := p.pageSize
	if n != "" {
		size, _ = strconv.Atoi(n)
	}
	if len(tags) > size {
		tags = tags[:size]
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"name": "example/app", "tags": tags})
}

func (p *pagedTags) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.requests...)
}

func numberedTags(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = "v" + strconv.Itoa(100+i)
	}
	return out
}

func repository(t *testing.T, srv *testServer) name.Repository {
	t.Helper()
	repo, err := name.NewRepository(srv.host() + "/example/app")
	require.NoError(t, err)
	return repo
}

func TestListTagsPaginates(t *testing.T) {
	tags := &pagedTags{tags: numberedTags(25), pageSize: 10}
	srv := newTestServer(t, tags.ServeHTTP)

	got, err := NewOCIRemote(nil).ListTags(context.Background(), repository(t, srv))
	require.NoError(t, err)
	assert.Equal(t, numberedTags(25), got)

	assert.Equal(t, []string{
		"/", "v109/1",
		"v109/", "v119/1",
		"v119/", "v124/1",
	}, tags.seen())
}

func TestListTagsSinglePage(t *testing.T) {
	tags := &pagedTags{tags: []string{"v1", "v2"}, pageSize: 10}
	srv := newTestServer(t, tags.ServeHTTP)

	got, err := NewOCIRemote(nil).ListTags(context.Background(), repository(t, srv))
	require.NoError(t, err)
	assert.Equal(t, []string{"v1", "v2"}, got)
	assert.Equal(t, []string{"/", "v2/1"}, tags.seen())
}

func TestListTagsEmpty(t *testing.T) {
	tags := &pagedTags{pageSize: 10}
	srv := newTestServer(t, tags.ServeHTTP)

	got, err := NewOCIRemote(nil).ListTags(context.Background(), repository(t, srv))
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Len(t, tags.seen(), 1)
}

func TestListTagsMalformedFirstPage(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	})

	got, err := NewOCIRemote(nil).ListTags(context.Background(), repository(t, srv))
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestListTagsFirstPageError(t *testing.T) {
	tags := &pagedTags{tags: []string{"v1"}, pageSize: 10, fail: func(string, string) bool { return true }}
	srv := newTestServer(t, tags.ServeHTTP)

	_, err := NewOCIRemote(nil).ListTags(context.Background(), repository(t, srv))
	assert.Error(t, err)
}

func TestListTagsLaterPageFailureTruncates(t *testing.T) {
	tags := &pagedTags{
		tags:     numberedTags(25),
		pageSize: 10,
		fail:     func(last, n string) bool { return last == "v109" && n == "" },
	}
	srv := newTestServer(t, tags.ServeHTTP)

	got, err := NewOCIRemote(nil).ListTags(context.Background(), repository(t, srv))
	require.NoError(t, err)
	assert.Equal(t, numberedTags(10), got)
}

func TestListTagsRegistryIgnoringLast(t *testing.T) {
	var calls atomic.Int32
	srv := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"name": "example/app", "tags": []string{"a", "b"}})
	})

	got, err := NewOCIRemote(nil).ListTags(context.Background(), repository(t, srv))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, int32(3), calls.Load())
}

func TestListTagsInMemoryRegistry(t *testing.T) {
	srv := newTestServer(t, nil)
	img := wasmImage(t, []byte("\x00asm\x0d\x00\x01\x00"))
	push(t, srv.host()+"/example/app:v1.0.0", img)
	push(t, srv.host()+"/example/app:v1.1.0", img)

	got, err := NewOCIRemote(nil).ListTags(context.Background(), repository(t, srv))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"v1.0.0", "v1.1.0"}, got)
}

package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
)

const DefaultConcurrency = 4

// OCIRemote is a Client backed by go-containerregistry.
type OCIRemote struct {
	auth        Authenticator
	transport   http.RoundTripper
	concurrency int
	log         logrus.FieldLogger
}

// Option configures an OCIRemote.
type Option func(*OCIRemote)

// WithConcurrency sets the number of parallel layer downloads.
func WithConcurrency(n int) Option {
	return func(r *OCIRemote) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithTransport replaces http.DefaultTransport.
func WithTransport(t http.RoundTripper) Option {
	return func(r *OCIRemote) { r.transport = t }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(r *OCIRemote) { r.log = log }
}

// NewOCIRemote returns a client authenticating through auth. A nil auth
// means anonymous access.
func NewOCIRemote(auth Authenticator, opts ...Option) *OCIRemote {
	if auth == nil {
		auth = AnonymousAuthenticator{}
	}
	r := &OCIRemote{
		auth:        auth,
		transport:   http.DefaultTransport,
		concurrency: DefaultConcurrency,
		log:         logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Pull downloads ref. Layer blobs are read compressed, which for wasm
// layers is the raw module bytes.
func (r *OCIRemote) Pull(ctx context.Context, ref name.Reference) (*Image, error) {
	log := r.log.WithField("ref", ref.String())

	auth, err := r.authenticator(ctx, ref.Context().RegistryStr())
	if err != nil {
		return nil, err
	}

	img, err := remote.Image(ref,
		remote.WithAuth(auth),
		remote.WithContext(ctx),
		remote.WithTransport(r.transport),
		remote.WithRetryBackoff(remote.Backoff{Steps: 1}),
	)
	if err != nil {
		return nil, fmt.Errorf("fetch image %s: %w", ref, err)
	}

	rawManifest, err := img.RawManifest()
	if err != nil {
		return nil, fmt.Errorf("get manifest: %w", err)
	}
	manifest, err := img.Manifest()
	if err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	digest, err := img.Digest()
	if err != nil {
		return nil, fmt.Errorf("get digest: %w", err)
	}
	rawConfig, err := img.RawConfigFile()
	if err != nil {
		return nil, fmt.Errorf("get config: %w", err)
	}

	log.WithField("layers", len(manifest.Layers)).Debug("downloading layers")

	layers := make([]Layer, len(manifest.Layers))
	p := pool.New().WithMaxGoroutines(r.concurrency).WithContext(ctx).WithCancelOnError()
	for i, desc := range manifest.Layers {
		p.Go(func(ctx context.Context) error {
			layer, err := img.LayerByDigest(desc.Digest)
			if err != nil {
				return fmt.Errorf("layer %s: %w", desc.Digest, err)
			}
			rc, err := layer.Compressed()
			if err != nil {
				return fmt.Errorf("read layer %s: %w", desc.Digest, err)
			}
			data, err := io.ReadAll(rc)
			if cerr := rc.Close(); cerr != nil && err == nil {
				err = cerr
			}
			if err != nil {
				return fmt.Errorf("read layer %s: %w", desc.Digest, err)
			}

			layers[i] = Layer{Descriptor: desc, Data: data}
			log.WithFields(logrus.Fields{"digest": desc.Digest.String(), "size": len(data)}).Debug("layer downloaded")
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	return &Image{
		Manifest:    manifest,
		RawManifest: rawManifest,
		RawConfig:   rawConfig,
		Digest:      digest,
		Layers:      layers,
	}, nil
}

func (r *OCIRemote) authenticator(ctx context.Context, registry string) (authn.Authenticator, error) {
	auth, err := r.auth.Authenticator(ctx, registry)
	if err != nil {
		return nil, fmt.Errorf("authenticate to %s: %w", registry, err)
	}
	return auth, nil
}

package wasmpkg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/singleflight"

	"github.com/aweris/wasmpkg/internal/config"
	"github.com/aweris/wasmpkg/internal/credentials"
	"github.com/aweris/wasmpkg/internal/metadata"
	"github.com/aweris/wasmpkg/internal/remote"
	"github.com/aweris/wasmpkg/internal/store"
	"github.com/aweris/wasmpkg/internal/wit"
)

const descriptionAnnotation = "org.opencontainers.image.description"

// Manager is the package cache: a metadata store and a blob store fed by a
// registry client.
type Manager struct {
	cfg         *config.Config
	meta        *metadata.Store
	blobs       *store.LocalStore
	client      RegistryClient
	creds       *credentials.Resolver
	offline     bool
	concurrency int
	log         logrus.FieldLogger

	// pulls hold gc shared from fetch through insert; Delete and Prune
	// hold it exclusively while they remove blobs.
	gc        sync.RWMutex
	pulls     singleflight.Group
	closeOnce sync.Once
	closeErr  error
}

// Open creates or opens the data root and runs pending migrations.
func Open(ctx context.Context, opts ...Option) (*Manager, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	cfg := config.Default()
	if options.Config != nil {
		c := *options.Config
		cfg = &c
	}
	if options.DataDir != "" {
		cfg.DataDir = options.DataDir
	}
	log := options.Logger

	if err := os.MkdirAll(cfg.LayersDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	meta, err := metadata.Open(ctx, cfg.MetadataFile(), log)
	if err != nil {
		return nil, err
	}

	blobs, err := store.NewLocalStore(cfg.LayersDir(), store.DefaultOptions())
	if err != nil {
		_ = meta.Close()
		return nil, err
	}

	creds := credentials.NewResolver(cfg, credentials.WithLogger(log))
	client := options.Client
	if client == nil {
		client = remote.NewOCIRemote(creds,
			remote.WithConcurrency(options.Concurrency),
			remote.WithLogger(log),
		)
	}

	return &Manager{
		cfg:         cfg,
		meta:        meta,
		blobs:       blobs,
		client:      client,
		creds:       creds,
		offline:     options.Offline || cfg.Offline,
		concurrency: options.Concurrency,
		log:         log,
	}, nil
}

// Config returns the effective configuration.
func (m *Manager) Config() *config.Config { return m.cfg }

func (m *Manager) Offline() bool { return m.offline }

// Pull fetches ref and records it. Concurrent pulls of the same reference
// share one fetch, which is detached from the cancellation of whichever
// caller started it.
func (m *Manager) Pull(ctx context.Context, ref Reference) (InsertResult, error) {
	if m.offline {
		return Inserted, fmt.Errorf("pull %s: %w", ref, ErrOffline)
	}
	ch := m.pulls.DoChan(ref.String(), func() (any, error) {
		return m.pull(context.WithoutCancel(ctx), ref)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return Inserted, ctx.Err()
	}
	if res.Err != nil {
		return Inserted, res.Err
	}
	return res.Val.(InsertResult), nil
}

func (m *Manager) pull(ctx context.Context, ref Reference) (InsertResult, error) {
	log := m.log.WithField("ref", ref.String())

	img, result, err := m.fetch(ctx, log, ref)
	if err != nil {
		return Inserted, err
	}
	log.WithFields(logrus.Fields{"result": result.String(), "size": img.Size()}).Debug("pulled")

	description := ""
	if img.Manifest != nil {
		description = img.Manifest.Annotations[descriptionAnnotation]
	}
	if err := m.meta.UpsertKnownPackage(ctx, ref.Registry, ref.Repository, ref.Tag, description); err != nil {
		return result, err
	}
	m.refreshTags(ctx, log, ref)
	return result, nil
}

// fetch pulls ref and stores whatever is new. Blob removal waits for it, so
// layers written here are never collected before their row exists.
func (m *Manager) fetch(ctx context.Context, log logrus.FieldLogger, ref Reference) (*remote.Image, InsertResult, error) {
	m.gc.RLock()
	defer m.gc.RUnlock()

	nref, err := ref.Name()
	if err != nil {
		return nil, Inserted, err
	}
	img, err := m.client.Pull(ctx, nref)
	if err != nil {
		return nil, Inserted, fmt.Errorf("pull %s: %w", ref, err)
	}

	id := ref.identity(img.Digest.String())
	exists, err := m.meta.ImageExists(ctx, id)
	if err != nil {
		return nil, Inserted, err
	}
	if exists {
		return img, AlreadyExists, nil
	}

	// blobs first: an interrupted pull leaves orphans for Prune, never a
	// row without its layers
	if err := m.writeLayers(ctx, ref, img); err != nil {
		return nil, Inserted, err
	}
	result, imageID, err := m.meta.InsertImage(ctx, id, img.RawManifest, img.Size())
	if err != nil {
		return nil, Inserted, err
	}
	if result == Inserted {
		m.linkInterfaces(ctx, log, imageID, img)
	}
	return img, result, nil
}

func layerKey(ref Reference, l remote.Layer) string {
	if l.Descriptor.Digest.Hex != "" {
		return l.Descriptor.Digest.String()
	}
	return ref.String()
}

func (m *Manager) writeLayers(ctx context.Context, ref Reference, img *remote.Image) error {
	p := pool.New().WithMaxGoroutines(m.concurrency).WithContext(ctx).WithCancelOnError()
	for _, l := range img.Layers {
		p.Go(func(ctx context.Context) error {
			return m.blobs.Write(ctx, layerKey(ref, l), l.Data)
		})
	}
	return p.Wait()
}

// linkInterfaces records the WIT interface of every layer that has one.
// Failures are logged only.
func (m *Manager) linkInterfaces(ctx context.Context, log logrus.FieldLogger, imageID int64, img *remote.Image) {
	for _, l := range img.Layers {
		md, ok := wit.Extract(l.Data)
		if !ok {
			continue
		}
		llog := log.WithFields(logrus.Fields{"digest": l.Descriptor.Digest.String(), "world": md.WorldName})
		witID, err := m.meta.InsertWitInterface(ctx, metadata.WitInterface{
			WitText:     md.WitText,
			PackageName: md.PackageName,
			WorldName:   md.WorldName,
			ImportCount: md.ImportCount,
			ExportCount: md.ExportCount,
		})
		if err != nil {
			llog.WithError(err).Warn("storing wit interface failed")
			continue
		}
		if err := m.meta.LinkImageWitInterface(ctx, imageID, witID); err != nil {
			llog.WithError(err).Warn("linking wit interface failed")
			continue
		}
		llog.Debug("wit interface linked")
	}
}

// refreshTags caches the remote tag list. Failures are logged only.
func (m *Manager) refreshTags(ctx context.Context, log logrus.FieldLogger, ref Reference) {
	repo, err := ref.repository()
	if err != nil {
		return
	}
	tags, err := m.client.ListTags(ctx, repo)
	if err != nil {
		log.WithError(err).Warn("refreshing tags failed")
		return
	}
	m.cacheTags(ctx, log, ref, tags)
}

func (m *Manager) cacheTags(ctx context.Context, log logrus.FieldLogger, ref Reference, tags []string) {
	for _, t := range tags {
		if err := m.meta.UpsertKnownPackage(ctx, ref.Registry, ref.Repository, t, ""); err != nil {
			log.WithError(err).Warn("caching tags failed")
			return
		}
	}
}

// Delete removes the images matching ref together with every layer no
// other image uses. It reports whether anything was removed.
func (m *Manager) Delete(ctx context.Context, ref Reference) (bool, error) {
	m.gc.Lock()
	defer m.gc.Unlock()

	id := ref.identity("")
	targets, err := m.meta.FindImages(ctx, id)
	if err != nil {
		return false, err
	}
	if len(targets) == 0 {
		return false, nil
	}

	doomed := make(map[int64]bool, len(targets))
	for _, t := range targets {
		doomed[t.ID] = true
	}
	all, err := m.meta.ListImages(ctx)
	if err != nil {
		return false, err
	}
	shared := map[string]bool{}
	for _, img := range all {
		if doomed[img.ID] {
			continue
		}
		for _, d := range img.LayerDigests() {
			shared[d] = true
		}
	}

	log := m.log.WithField("ref", ref.String())
	for _, t := range targets {
		for _, d := range t.LayerDigests() {
			if shared[d] {
				log.WithField("digest", d).Debug("layer still referenced, keeping")
				continue
			}
			if err := m.blobs.Remove(ctx, d); err != nil {
				return false, err
			}
		}
	}

	return m.meta.DeleteImage(ctx, id)
}

// ListTags returns the tags of ref's repository. Offline, the cached
// release, signature and attestation tags are returned instead.
func (m *Manager) ListTags(ctx context.Context, ref Reference) ([]string, error) {
	if m.offline {
		pkg, err := m.meta.GetKnownPackage(ctx, ref.Registry, ref.Repository)
		if errors.Is(err, metadata.ErrNotFound) {
			return []string{}, nil
		}
		if err != nil {
			return nil, err
		}
		return pkg.AllTags(), nil
	}

	repo, err := ref.repository()
	if err != nil {
		return nil, err
	}
	tags, err := m.client.ListTags(ctx, repo)
	if err != nil {
		return nil, err
	}
	m.cacheTags(ctx, m.log.WithField("ref", ref.String()), ref, tags)
	return tags, nil
}

func (m *Manager) ListImages(ctx context.Context) ([]ImageEntry, error) {
	return m.meta.ListImages(ctx)
}

// SearchPackages matches query against registry and repository names.
func (m *Manager) SearchPackages(ctx context.Context, query string) ([]KnownPackage, error) {
	return m.meta.SearchKnownPackages(ctx, query)
}

func (m *Manager) ListKnownPackages(ctx context.Context) ([]KnownPackage, error) {
	return m.meta.ListKnownPackages(ctx)
}

func (m *Manager) GetKnownPackage(ctx context.Context, registry, repository string) (*KnownPackage, error) {
	pkg, err := m.meta.GetKnownPackage(ctx, registry, repository)
	return pkg, notFound(err)
}

func (m *Manager) ListWitInterfaces(ctx context.Context) ([]WitInterface, error) {
	return m.meta.ListWitInterfaces(ctx)
}

func (m *Manager) ListWitInterfacesWithImages(ctx context.Context) ([]WitInterfaceImage, error) {
	return m.meta.ListWitInterfacesWithImages(ctx)
}

func (m *Manager) WitInterfaceForImage(ctx context.Context, imageID int64) (*WitInterface, error) {
	w, err := m.meta.WitInterfaceForImage(ctx, imageID)
	return w, notFound(err)
}

// Read returns the blob stored under key, normally a layer digest.
func (m *Manager) Read(ctx context.Context, key string) ([]byte, error) {
	data, err := m.blobs.Read(ctx, key)
	return data, notFound(err)
}

// Prune removes blobs that no image references and returns how many were
// removed.
func (m *Manager) Prune(ctx context.Context) (int, error) {
	m.gc.Lock()
	defer m.gc.Unlock()

	images, err := m.meta.ListImages(ctx)
	if err != nil {
		return 0, err
	}
	live := map[string]bool{}
	for _, img := range images {
		for _, d := range img.LayerDigests() {
			live[d] = true
		}
	}

	keys, err := m.blobs.Keys(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, k := range keys {
		if live[k] {
			continue
		}
		if err := m.blobs.Remove(ctx, k); err != nil {
			return removed, err
		}
		m.log.WithField("key", k).Debug("pruned blob")
		removed++
	}
	return removed, nil
}

// Login stores credentials for registry in the OS keyring.
func (m *Manager) Login(registry, username, password string) error {
	return m.creds.Login(registry, username, password)
}

func (m *Manager) Logout(registry string) error {
	return m.creds.Logout(registry)
}

// Close releases the stores. It is safe to call more than once.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.closeErr = errors.Join(m.meta.Close(), m.blobs.Close())
	})
	return m.closeErr
}

func notFound(err error) error {
	if errors.Is(err, metadata.ErrNotFound) || errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}

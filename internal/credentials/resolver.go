// Package credentials resolves registry credentials.
//
// For a registry host the resolver tries, in order:
//
//  1. the credential helper configured for that host (cached after the
//     first success for the lifetime of the resolver)
//  2. the OS keyring entry written by Login, then the docker config and
//     its native credential helpers
//  3. anonymous access
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/sirupsen/logrus"
	"github.com/zalando/go-keyring"

	"github.com/aweris/wasmpkg/internal/config"
)

// DefaultKeyringService is the keyring service Login writes to.
const DefaultKeyringService = "wasmpkg"

// ErrIdentityToken is returned when the OS store holds an identity token
// for the registry. Identity tokens are not supported.
var ErrIdentityToken = errors.New("credentials: identity tokens not supported")

// Auth is a resolved credential. The zero value is anonymous.
type Auth struct {
	Username string
	Password string
}

func (a Auth) IsAnonymous() bool {
	return a.Username == "" && a.Password == ""
}

// Authenticator converts a to a go-containerregistry authenticator.
func (a Auth) Authenticator() authn.Authenticator {
	if a.IsAnonymous() {
		return authn.Anonymous
	}
	return &authn.Basic{Username: a.Username, Password: a.Password}
}

// String never includes the password.
func (a Auth) String() string {
	if a.IsAnonymous() {
		return "anonymous"
	}
	return "basic(" + a.Username + ")"
}

func (a Auth) GoString() string { return a.String() }

// Resolver finds credentials for registry hosts. It is safe for concurrent
// use.
type Resolver struct {
	cfg      *config.Config
	keychain authn.Keychain
	service  string
	log      logrus.FieldLogger

	mu    sync.Mutex
	cache map[string]Auth
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithKeychain replaces the docker keychain.
func WithKeychain(k authn.Keychain) Option {
	return func(r *Resolver) { r.keychain = k }
}

// WithKeyringService changes the keyring service name.
func WithKeyringService(service string) Option {
	return func(r *Resolver) { r.service = service }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(r *Resolver) { r.log = log }
}

// NewResolver returns a resolver using the helpers configured in cfg.
func NewResolver(cfg *config.Config, opts ...Option) *Resolver {
	if cfg == nil {
		cfg = config.Default()
	}
	r := &Resolver{
		cfg:      cfg,
		keychain: authn.DefaultKeychain,
		service:  DefaultKeyringService,
		log:      logrus.StandardLogger(),
		cache:    map[string]Auth{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns credentials for registry.
func (r *Resolver) Resolve(ctx context.Context, registry string) (Auth, error) {
	log := r.log.WithField("registry", registry)

	if helper, ok := r.cfg.CredentialHelper(registry); ok {
		auth, err := r.fromHelper(ctx, registry, helper)
		if err != nil {
			return Auth{}, err
		}
		log.WithField("username", auth.Username).Debug("using credential helper")
		return auth, nil
	}

	auth, err := r.fromOS(registry)
	if err != nil {
		return Auth{}, err
	}
	if auth.IsAnonymous() {
		log.Debug("no stored credentials, using anonymous access")
	} else {
		log.WithField("username", auth.Username).Debug("using stored credentials")
	}
	return auth, nil
}

// Authenticator resolves registry and converts the result.
func (r *Resolver) Authenticator(ctx context.Context, registry string) (authn.Authenticator, error) {
	auth, err := r.Resolve(ctx, registry)
	if err != nil {
		return nil, err
	}
	return auth.Authenticator(), nil
}

func (r *Resolver) fromHelper(ctx context.Context, registry string, helper config.CredentialHelper) (Auth, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if auth, ok := r.cache[registry]; ok {
		return auth, nil
	}

	r.log.WithFields(logrus.Fields{"registry": registry, "helper": helper.String()}).Debug("running credential helper")
	auth, err := runHelper(ctx, helper)
	if err != nil {
		return Auth{}, fmt.Errorf("resolve credentials for %s: %w", registry, err)
	}
	r.cache[registry] = auth
	return auth, nil
}

func (r *Resolver) fromOS(registry string) (Auth, error) {
	if auth, ok := r.fromKeyring(registry); ok {
		return auth, nil
	}
	return r.fromKeychain(registry)
}

func (r *Resolver) fromKeyring(registry string) (Auth, bool) {
	secret, err := keyring.Get(r.service, normalize(registry))
	if err != nil {
		if !errors.Is(err, keyring.ErrNotFound) {
			r.log.WithField("registry", registry).WithError(err).Debug("keyring unavailable")
		}
		return Auth{}, false
	}

	var auth Auth
	if err := json.Unmarshal([]byte(secret), &auth); err != nil {
		r.log.WithField("registry", registry).Debug("ignoring malformed keyring entry")
		return Auth{}, false
	}
	return auth, !auth.IsAnonymous()
}

// fromKeychain reads the docker config. Docker Hub is stored under its
// historical key https://index.docker.io/v1/, which the keychain applies
// to the normalized index.docker.io host.
func (r *Resolver) fromKeychain(registry string) (Auth, error) {
	reg, err := name.NewRegistry(registry)
	if err != nil {
		r.log.WithField("registry", registry).WithError(err).Debug("invalid registry name")
		return Auth{}, nil
	}

	authenticator, err := r.keychain.Resolve(reg)
	if err != nil {
		r.log.WithField("registry", registry).WithError(err).Debug("docker keychain lookup failed")
		return Auth{}, nil
	}

	cfg, err := authenticator.Authorization()
	if err != nil {
		r.log.WithField("registry", registry).WithError(err).Debug("docker keychain lookup failed")
		return Auth{}, nil
	}
	if cfg.IdentityToken != "" {
		return Auth{}, fmt.Errorf("resolve credentials for %s: %w", registry, ErrIdentityToken)
	}
	return Auth{Username: cfg.Username, Password: cfg.Password}, nil
}

// Login stores credentials for registry in the OS keyring.
func (r *Resolver) Login(registry, username, password string) error {
	secret, err := json.Marshal(Auth{Username: username, Password: password})
	if err != nil {
		return err
	}
	if err := keyring.Set(r.service, normalize(registry), string(secret)); err != nil {
		return fmt.Errorf("store credentials for %s: %w", registry, err)
	}

	r.mu.Lock()
	delete(r.cache, registry)
	r.mu.Unlock()
	return nil
}

// Logout removes the keyring entry for registry. Logging out of a
// registry without stored credentials is not an error.
func (r *Resolver) Logout(registry string) error {
	if err := keyring.Delete(r.service, normalize(registry)); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("remove credentials for %s: %w", registry, err)
	}

	r.mu.Lock()
	delete(r.cache, registry)
	r.mu.Unlock()
	return nil
}

// normalize maps docker.io style aliases onto one keyring key.
func normalize(registry string) string {
	reg, err := name.NewRegistry(registry)
	if err != nil {
		return registry
	}
	return reg.RegistryStr()
}

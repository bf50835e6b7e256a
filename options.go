package wasmpkg

import (
	"github.com/sirupsen/logrus"

	"github.com/aweris/wasmpkg/internal/config"
	"github.com/aweris/wasmpkg/internal/remote"
)

// RegistryClient pulls images and lists tags. Re-exported from
// internal/remote so callers can substitute their own.
type RegistryClient = remote.Client

// Options configures a Manager.
type Options struct {
	Config      *config.Config
	DataDir     string
	Offline     bool
	Client      RegistryClient
	Logger      logrus.FieldLogger
	Concurrency int
}

// Option is a functional option for configuring Open.
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		Logger:      logrus.StandardLogger(),
		Concurrency: remote.DefaultConcurrency,
	}
}

// WithConfig uses cfg instead of the built-in defaults.
func WithConfig(cfg *config.Config) Option {
	return func(o *Options) { o.Config = cfg }
}

// WithDataDir overrides the data root of the configuration.
func WithDataDir(dir string) Option {
	return func(o *Options) { o.DataDir = dir }
}

// WithOffline disables every network operation. Offline mode from the
// configuration applies as well.
func WithOffline(offline bool) Option {
	return func(o *Options) { o.Offline = offline }
}

// WithRegistryClient replaces the go-containerregistry backed client.
func WithRegistryClient(c RegistryClient) Option {
	return func(o *Options) { o.Client = c }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(o *Options) {
		if log != nil {
			o.Logger = log
		}
	}
}

// WithConcurrency sets the number of parallel layer downloads and writes.
func WithConcurrency(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.Concurrency = n
		}
	}
}

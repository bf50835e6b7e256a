// Package config loads wasmpkg configuration.
//
// Settings come from, in increasing priority: defaults, the config file
// ($XDG_CONFIG_HOME/wasm/config.json unless --config is given), WASMPKG_*
// environment variables and bound command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"github.com/BurntSushi/toml"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "WASMPKG"

	// KeyDelimiter replaces viper's "." so registry hosts can be map keys.
	KeyDelimiter = "::"

	KeyDefaultRegistry = "default_registry"
	KeyOffline         = "offline"
	KeyDataDir         = "data_dir"
	KeyRegistries      = "registries"
)

// Config is the resolved configuration.
type Config struct {
	DefaultRegistry string              `mapstructure:"default_registry"`
	Offline         bool                `mapstructure:"offline"`
	DataDir         string              `mapstructure:"data_dir"`
	Registries      map[string]Registry `mapstructure:"registries"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

// Registry holds per-registry settings.
type Registry struct {
	CredentialHelper CredentialHelper `mapstructure:"credential_helper"`
}

// Default returns a configuration with the default paths and no registries.
func Default() *Config {
	return &Config{
		DataDir:    DefaultDataDir(),
		Registries: map[string]Registry{},
		File:       DefaultFile(),
	}
}

// LayersDir is where blobs are stored.
func (c *Config) LayersDir() string {
	return filepath.Join(c.DataDir, "layers")
}

// MetadataFile is the sqlite database path.
func (c *Config) MetadataFile() string {
	return filepath.Join(c.DataDir, "metadata.db3")
}

// CredentialHelper returns the helper configured for registry.
func (c *Config) CredentialHelper(registry string) (CredentialHelper, bool) {
	r, ok := c.Registries[registry]
	if !ok || r.CredentialHelper.IsZero() {
		return CredentialHelper{}, false
	}
	return r.CredentialHelper, true
}

// NewViper returns a viper instance with the wasmpkg defaults, key
// delimiter and environment binding.
func NewViper() *viper.Viper {
	v := viper.NewWithOptions(viper.KeyDelimiter(KeyDelimiter))
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetDefault(KeyDefaultRegistry, "")
	v.SetDefault(KeyOffline, false)
	v.SetDefault(KeyDataDir, "")
	return v
}

// Load reads configuration through v. A config file set on v must exist;
// the default file is optional.
func Load(v *viper.Viper) (*Config, error) {
	explicit := v.ConfigFileUsed() != ""
	if !explicit {
		v.SetConfigFile(DefaultFile())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case explicit:
			return nil, fmt.Errorf("read config %s: %w", v.ConfigFileUsed(), err)
		case errors.As(err, &notFound), errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read config %s: %w", v.ConfigFileUsed(), err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		credentialHelperHook,
		mapstructure.StringToTimeDurationHookFunc(),
	))); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.File = v.ConfigFileUsed()
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir()
	}
	if cfg.Registries == nil {
		cfg.Registries = map[string]Registry{}
	}
	if cfg.DefaultRegistry == "" {
		cfg.DefaultRegistry = wkgDefaultRegistry()
	}
	return cfg, nil
}

// LoadFile loads configuration from path without flag bindings.
func LoadFile(path string) (*Config, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
	}
	return Load(v)
}

// credentialHelperHook accepts the string form of a credential helper.
func credentialHelperHook(from, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(CredentialHelper{}) {
		return data, nil
	}
	if s, ok := data.(string); ok {
		return map[string]any{"command": s}, nil
	}
	return data, nil
}

// wkgDefaultRegistry reads default_registry from the wasm-pkg tools config.
func wkgDefaultRegistry() string {
	path := os.Getenv("WKG_CONFIG_FILE")
	if path == "" {
		path = filepath.Join(configHome(), "wasm-pkg", "config.toml")
	}

	var wkg struct {
		DefaultRegistry string `toml:"default_registry"`
	}
	if _, err := toml.DecodeFile(path, &wkg); err != nil {
		return ""
	}
	return wkg.DefaultRegistry
}

// DefaultFile is $XDG_CONFIG_HOME/wasm/config.json.
func DefaultFile() string {
	return filepath.Join(configHome(), "wasm", "config.json")
}

// DefaultDataDir is $XDG_DATA_HOME/wasm.
func DefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "wasm")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "wasm")
	}
	return ".wasm"
}

func configHome() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return xdg
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config")
	}
	return "."
}

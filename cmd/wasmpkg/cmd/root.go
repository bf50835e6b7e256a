package cmd

import (
	"context"
	"os"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/aweris/wasmpkg"
	"github.com/aweris/wasmpkg/internal/config"
)

const keyVerbose = "verbose"

var (
	v   = config.NewViper()
	log = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:           "wasmpkg",
	Short:         "WebAssembly component package manager",
	Long:          "Pull, cache and inspect WebAssembly components published to OCI registries.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default: ~/.config/wasm/config.json)")
	flags.String("data-dir", "", "data directory (default: ~/.local/share/wasm)")
	flags.Bool("offline", false, "never access the network")
	flags.BoolP("verbose", "v", false, "enable debug logging")

	_ = v.BindPFlag(config.KeyDataDir, flags.Lookup("data-dir"))
	_ = v.BindPFlag(config.KeyOffline, flags.Lookup("offline"))
	_ = v.BindPFlag(keyVerbose, flags.Lookup("verbose"))

	log.SetOutput(os.Stderr)
}

func initConfig() {
	if cfg := rootCmd.PersistentFlags().Lookup("config").Value.String(); cfg != "" {
		v.SetConfigFile(cfg)
	}
	if v.GetBool(keyVerbose) {
		log.SetLevel(logrus.DebugLevel)
	}
}

// openManager loads the configuration and opens the package cache.
func openManager(ctx context.Context) (*wasmpkg.Manager, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	log.WithField("config", cfg.File).Debug("configuration loaded")
	return wasmpkg.Open(ctx, wasmpkg.WithConfig(cfg), wasmpkg.WithLogger(log))
}

// parseRef resolves s against the configured default registry.
func parseRef(m *wasmpkg.Manager, s string) (wasmpkg.Reference, error) {
	var opts []name.Option
	if r := m.Config().DefaultRegistry; r != "" {
		opts = append(opts, name.WithDefaultRegistry(r))
	}
	return wasmpkg.ParseReference(s, opts...)
}

// closeManager folds a Close error into err.
func closeManager(m *wasmpkg.Manager, err *error) {
	if cerr := m.Close(); cerr != nil && *err == nil {
		*err = cerr
	}
}

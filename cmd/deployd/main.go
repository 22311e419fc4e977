package main

import (
	"fmt"
	"os"

	"github.com/cuemby/deployd/pkg/config"
	"github.com/cuemby/deployd/pkg/health"
	"github.com/cuemby/deployd/pkg/lock"
	"github.com/cuemby/deployd/pkg/log"
	"github.com/cuemby/deployd/pkg/storage"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "deployd",
	Short: "deployd - fleet deployment orchestrator",
	Long: `deployd decides what every host of a fleet should install next and
promotes environments to newer builds and deploys on their own.

Hosts ping with one report per environment; deployd answers with a single
instruction, pacing rollouts so only a bounded number of hosts deploy at once.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"deployd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory (overrides the config file)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Log as JSON")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("deployd version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

// loadConfig resolves the configuration: defaults, then the file, then
// DEPLOYD_* variables, then flags. It also initializes logging.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	cfg.ApplyEnvOverrides()

	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.Storage.DataDir, _ = flags.GetString("data-dir")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("json-logs") {
		cfg.Log.JSON, _ = flags.GetBool("json-logs")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Init(log.Config{
		Level:      log.ParseLevel(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
		Output:     os.Stderr,
	})
	return cfg, nil
}

func openStore(dataDir string) (*storage.BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := storage.NewBoltStore(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return store, nil
}

// newLocker returns the configured Locker, a checker for its backend when
// it has one, and a func closing it
func newLocker(cfg config.LockConfig) (lock.Locker, health.Checker, func() error, error) {
	switch cfg.Backend {
	case config.LockBackendRedis:
		l, err := lock.NewRedisLocker(cfg.RedisURL, cfg.TTL)
		if err != nil {
			return nil, nil, nil, err
		}
		return l, health.NewRedisChecker(cfg.RedisURL, l), l.Close, nil
	default:
		return lock.NewLocalLocker(), nil, func() error { return nil }, nil
	}
}

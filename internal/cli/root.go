package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/engram/internal/config"
	"github.com/lazypower/engram/internal/memory"
	"github.com/lazypower/engram/internal/metrics"
	"github.com/lazypower/engram/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "engram",
	Short: "Durable memory for AI agents",
	Long:  "Engram is a local memory store for AI agents: full-text recall with hybrid ranking, importance-driven decay, and offline consolidation. Single Go binary, one SQLite file.",
}

// Persistent flags shared by every command that opens the store.
var (
	flagDBPath     string
	flagConfigPath string
)

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "database path (default ~/.engram/engram.db)")
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file (default ~/.engram/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(storeCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(recallCmd)
	rootCmd.AddCommand(forgetCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(consolidateCmd)
}

func loadConfig() (*config.Config, error) {
	if flagConfigPath != "" {
		return config.LoadFromPath(flagConfigPath)
	}
	return config.Load()
}

// openEngine opens the configured database and builds an engine from config.
// The caller owns the returned DB handle.
func openEngine(cfg *config.Config, collector metrics.Collector) (*memory.Engine, *store.DB, error) {
	dbPath := flagDBPath
	if dbPath == "" {
		dbPath = cfg.Database.Path
	}
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, nil, fmt.Errorf("resolve db path: %w", err)
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	engine := memory.NewEngine(db, memory.Options{
		CacheSize:      cfg.Cache.Size,
		CacheTTL:       time.Duration(cfg.Cache.TTLSeconds) * time.Second,
		CacheDisabled:  !cfg.Cache.Enabled,
		Metrics:        collector,
		AccessPolicy:   cfg.Recall.AccessPolicy,
		DefaultTTLDays: cfg.Memory.DefaultTTLDays,
	})
	return engine, db, nil
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lazypower/engram/internal/metrics"
)

var (
	pruneDryRun      bool
	pruneDeletedDays float64
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Permanently remove expired and long-deleted memories",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		engine, db, err := openEngine(cfg, metrics.NewNoopCollector())
		if err != nil {
			return err
		}
		defer db.Close()

		res, err := engine.Prune(pruneDeletedDays, pruneDryRun)
		if err != nil {
			return err
		}

		verb := "removed"
		if res.DryRun {
			verb = "would remove"
		}
		fmt.Printf("%s %d expired, %d soft-deleted, %d orphan entities\n",
			verb, res.Expired, res.SoftDeleted, res.OrphanEntities)

		if !res.DryRun {
			if err := db.OptimizeFTS(); err != nil {
				return err
			}
			if err := db.Checkpoint(); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	pruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "report counts without deleting")
	pruneCmd.Flags().Float64Var(&pruneDeletedDays, "deleted-older-than", 30, "remove soft-deleted memories idle for this many days")
}

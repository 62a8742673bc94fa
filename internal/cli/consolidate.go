package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lazypower/engram/internal/consolidate"
)

var (
	consolidateOut      string
	consolidateDiscover bool
)

var consolidateCmd = &cobra.Command{
	Use:   "consolidate [source.db ...]",
	Short: "Merge several databases into one fresh store",
	Long:  "Merges the named source databases into a new database, deduplicating memories with identical kind and content. Sources are never modified. With --discover, candidate databases under ~/.engram are listed without merging.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if consolidateDiscover {
			root, err := consolidate.DefaultRoot()
			if err != nil {
				return err
			}
			found, err := consolidate.Discover(root)
			if err != nil {
				return err
			}
			if len(found) == 0 {
				fmt.Printf("no databases found under %s\n", root)
				return nil
			}
			for _, path := range found {
				fmt.Println(path)
			}
			return nil
		}

		if consolidateOut == "" {
			return fmt.Errorf("--out is required")
		}
		sources := args
		if len(sources) == 0 {
			return fmt.Errorf("no sources: name databases or pass --discover")
		}

		summary, err := consolidate.Consolidate(consolidateOut, sources)
		if err != nil {
			return err
		}

		fmt.Printf("consolidated %d sources into %s\n", summary.Sources, consolidateOut)
		fmt.Printf("  records: %d in, %d out (%d duplicates merged)\n",
			summary.RecordsIn, summary.RecordsOut, summary.DuplicatesMerged)
		fmt.Printf("  entities: %d in, %d out\n", summary.EntitiesIn, summary.EntitiesOut)
		fmt.Printf("  links: %d, provenance rows: %d\n", summary.Links, summary.ProvenanceRows)
		for _, w := range summary.Warnings {
			fmt.Fprintf(os.Stderr, "warning: %s\n", w)
		}
		return nil
	},
}

func init() {
	consolidateCmd.Flags().StringVar(&consolidateOut, "out", "", "target database path (must not exist)")
	consolidateCmd.Flags().BoolVar(&consolidateDiscover, "discover", false, "list candidate databases under ~/.engram without merging")
}

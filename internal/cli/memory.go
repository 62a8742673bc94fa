package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lazypower/engram/internal/memory"
	"github.com/lazypower/engram/internal/metrics"
)

var (
	storeID         string
	storeKind       string
	storeImportance float64
	storeEntities   []string
	storeTags       []string
	storeTTLDays    float64
	storeContext    string
)

var storeCmd = &cobra.Command{
	Use:   "store <content>",
	Short: "Store a memory",
	Args:  cobra.ExactArgs(1),
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

		params := memory.StoreParams{
			ID:         storeID,
			Content:    args[0],
			Kind:       storeKind,
			Entities:   storeEntities,
			Tags:       storeTags,
			Provenance: "cli",
			Context:    storeContext,
		}
		if cmd.Flags().Changed("importance") {
			params.Importance = &storeImportance
		}
		if cmd.Flags().Changed("ttl-days") {
			params.TTLDays = &storeTTLDays
		}

		rec, ents, err := engine.Store(params)
		if err != nil {
			return err
		}

		fmt.Printf("stored %s (kind=%s importance=%.1f)\n", rec.ID, rec.Kind, rec.Importance)
		if len(ents) > 0 {
			names := make([]string, len(ents))
			for i, e := range ents {
				names[i] = e.Name
			}
			fmt.Printf("  entities: %s\n", strings.Join(names, ", "))
		}
		if rec.ExpiresAt == nil {
			fmt.Println("  expires: never")
		}
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Fetch one memory by id",
	Args:  cobra.ExactArgs(1),
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

		rec, ents, err := engine.Get(args[0])
		if err != nil {
			return err
		}

		out := map[string]any{"record": rec}
		if len(ents) > 0 {
			names := make([]string, len(ents))
			for i, e := range ents {
				names[i] = e.Name
			}
			out["entities"] = names
		}
		return json.NewEncoder(os.Stdout).Encode(out)
	},
}

var (
	recallKind      string
	recallEntities  []string
	recallLimit     int
	recallMaxTokens int
	recallJSON      bool
)

var recallCmd = &cobra.Command{
	Use:   "recall <query>",
	Short: "Search memories",
	Args:  cobra.ExactArgs(1),
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

		res, err := engine.Recall(memory.RecallRequest{
			Query:     args[0],
			Kind:      recallKind,
			Entities:  recallEntities,
			Limit:     recallLimit,
			MaxTokens: recallMaxTokens,
		})
		if err != nil {
			return err
		}

		if recallJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}

		fmt.Printf("%d matches (~%d tokens)\n", res.TotalCount, res.TokensUsed)
		for _, entry := range res.Index {
			fmt.Printf("- [%s] (%s, %.1f, score %.2f) %s\n",
				entry.ID, entry.Kind, entry.Importance, entry.Score, entry.Summary)
		}
		for _, d := range res.Details {
			fmt.Printf("\n## %s\n%s\n", d.ID, d.Content)
			if len(d.Entities) > 0 {
				fmt.Printf("entities: %s\n", strings.Join(d.Entities, ", "))
			}
		}
		if res.HasMore {
			fmt.Println("\n(more matches beyond the limit)")
		}
		return nil
	},
}

var forgetReason string

var forgetCmd = &cobra.Command{
	Use:   "forget <id>",
	Short: "Soft-delete a memory",
	Args:  cobra.ExactArgs(1),
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

		res, err := engine.Forget(args[0], forgetReason, "cli")
		if err != nil {
			return err
		}
		fmt.Printf("forgot %s\n", res.MemoryID)
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <id>",
	Short: "Reverse a soft delete",
	Args:  cobra.ExactArgs(1),
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

		if err := engine.Restore(args[0], "cli"); err != nil {
			return err
		}
		fmt.Printf("restored %s\n", args[0])
		return nil
	},
}

func init() {
	storeCmd.Flags().StringVar(&storeID, "id", "", "update an existing memory instead of creating")
	storeCmd.Flags().StringVar(&storeKind, "kind", "", "memory kind: fact, entity, relationship, self")
	storeCmd.Flags().Float64Var(&storeImportance, "importance", 0, "explicit importance 0-10")
	storeCmd.Flags().StringSliceVar(&storeEntities, "entity", nil, "entity name (repeatable)")
	storeCmd.Flags().StringSliceVar(&storeTags, "tag", nil, "tag label (repeatable)")
	storeCmd.Flags().Float64Var(&storeTTLDays, "ttl-days", 0, "lifetime in days")
	storeCmd.Flags().StringVar(&storeContext, "context", "", "audit note for why this was stored")

	recallCmd.Flags().StringVar(&recallKind, "kind", "", "restrict to one kind")
	recallCmd.Flags().StringSliceVar(&recallEntities, "entity", nil, "restrict to an entity (repeatable)")
	recallCmd.Flags().IntVar(&recallLimit, "limit", 0, "maximum matches to rank (1-50)")
	recallCmd.Flags().IntVar(&recallMaxTokens, "max-tokens", 0, "token budget (100-5000)")
	recallCmd.Flags().BoolVar(&recallJSON, "json", false, "emit the raw result as JSON")

	forgetCmd.Flags().StringVar(&forgetReason, "reason", "", "why the memory is being forgotten")
}

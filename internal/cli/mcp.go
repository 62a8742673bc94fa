package cli

import (
	"github.com/spf13/cobra"

	"github.com/lazypower/engram/internal/mcpserver"
	"github.com/lazypower/engram/internal/metrics"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve MCP tools over stdio",
	Long:  "Exposes engram_store, engram_recall, engram_forget, and engram_context as MCP tools on stdin/stdout, for agent runtimes that speak the Model Context Protocol.",
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	engine, db, err := openEngine(cfg, metrics.NewNoopCollector())
	if err != nil {
		return err
	}
	defer db.Close()

	return mcpserver.New(engine, VersionString()).ServeStdio()
}

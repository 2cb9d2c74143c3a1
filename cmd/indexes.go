package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/ihavespoons/ctxai/internal/index"
	"github.com/ihavespoons/ctxai/internal/vectordb"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// indexesCmd represents the indexes command
var indexesCmd = &cobra.Command{
	Use:   "indexes",
	Short: "Manage indexes",
	Long: `Inspect and remove the indexes stored in the ctxai home.

Commands:
  list    - List all indexes
  stats   - Show statistics for one index
  delete  - Remove an index`,
}

// indexesListCmd represents the indexes list command
var indexesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all indexes",
	Run: func(cmd *cobra.Command, args []string) {
		manager := openManager()
		defer func() { _ = manager.Close() }()

		infos, err := manager.List()
		if err != nil {
			exitErrorJSON(err)
		}

		if jsonOutput {
			if infos == nil {
				infos = []*index.Info{}
			}
			if err := outputJSON(infos); err != nil {
				exitError("failed to encode JSON: %v", err)
			}
			return
		}

		if len(infos) == 0 {
			fmt.Println("No indexes found. Create one with 'ctxai index <path>'")
			return
		}
		fmt.Printf("Indexes in %s\n\n", manager.Home().IndexesPath())
		for _, info := range infos {
			printInfo(info)
		}
	},
}

// indexStats is the JSON form of indexes stats
type indexStats struct {
	index.Info
	Stats     *vectordb.Stats `json:"stats"`
	DiskUsage int64           `json:"disk_usage"`
}

// indexesStatsCmd represents the indexes stats command
var indexesStatsCmd = &cobra.Command{
	Use:   "stats <name>",
	Short: "Show index statistics",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		manager := openManager()
		defer func() { _ = manager.Close() }()

		ix, err := manager.Open(args[0])
		if err != nil {
			exitErrorJSON(err)
		}
		defer func() { _ = ix.Close() }()

		stats, err := ix.Stats()
		if err != nil {
			exitError("failed to get stats: %v", err)
		}
		usage, _ := manager.DiskUsage(args[0])
		info := ix.Info()

		if jsonOutput {
			if err := outputJSON(indexStats{Info: info, Stats: stats, DiskUsage: usage}); err != nil {
				exitError("failed to encode JSON: %v", err)
			}
			return
		}

		fmt.Printf("Index: %s\n", info.Name)
		fmt.Println(strings.Repeat("=", 7+len(info.Name)))
		fmt.Printf("Status: %s\n", info.Status)
		if info.Error != "" {
			fmt.Printf("Last error: %s\n", info.Error)
		}
		fmt.Printf("Root: %s\n", info.Root)
		fmt.Printf("Embeddings: %s/%s (%d dimensions)\n", info.Provider, info.Model, info.Dimension)
		fmt.Printf("Source size: %s\n", index.FormatSize(info.SizeBytes))
		fmt.Printf("Storage size: %s\n", index.FormatSize(usage))
		fmt.Printf("Created: %s\n", info.CreatedAt.Local().Format(time.DateTime))
		fmt.Printf("Updated: %s\n", info.UpdatedAt.Local().Format(time.DateTime))
		fmt.Printf("\nIndex Statistics:\n")
		fmt.Printf("  Total Chunks: %d\n", stats.TotalChunks)
		fmt.Printf("  Unique Files: %d\n", stats.UniqueFiles)

		if len(stats.Languages) > 0 {
			fmt.Printf("\nBy Language:\n")
			for _, lang := range sortedCounts(stats.Languages) {
				fmt.Printf("  %s: %d\n", lang, stats.Languages[lang])
			}
		}
		if len(stats.Kinds) > 0 {
			fmt.Printf("\nBy Kind:\n")
			for _, kind := range sortedCounts(stats.Kinds) {
				fmt.Printf("  %s: %d\n", kind, stats.Kinds[kind])
			}
		}
	},
}

// indexesDeleteCmd represents the indexes delete command
var indexesDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete an index",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]
		yes, _ := cmd.Flags().GetBool("yes")

		manager := openManager()
		defer func() { _ = manager.Close() }()

		if !manager.Exists(name) {
			exitError("index %q not found", name)
		}
		if !yes && !jsonOutput && term.IsTerminal(int(syscall.Stdin)) && !confirm(fmt.Sprintf("Delete index '%s'?", name)) {
			fmt.Println("Aborted")
			return
		}

		if err := manager.Delete(name); err != nil {
			exitErrorJSON(err)
		}

		if jsonOutput {
			if err := outputJSON(map[string]interface{}{"success": true, "deleted": name}); err != nil {
				exitError("failed to encode JSON: %v", err)
			}
			return
		}
		fmt.Printf("Deleted index '%s'\n", name)
	},
}

// confirm asks a yes/no question on the terminal
func confirm(question string) bool {
	fmt.Printf("%s [y/N] ", question)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func init() {
	rootCmd.AddCommand(indexesCmd)
	indexesCmd.AddCommand(indexesListCmd)
	indexesCmd.AddCommand(indexesStatsCmd)
	indexesCmd.AddCommand(indexesDeleteCmd)

	indexesDeleteCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
}

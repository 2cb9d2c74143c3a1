package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ihavespoons/ctxai/internal/chunk"
	"github.com/ihavespoons/ctxai/internal/export"
	"github.com/ihavespoons/ctxai/internal/index"
	"github.com/ihavespoons/ctxai/internal/vectordb"
	"github.com/spf13/cobra"
)

// queryCmd represents the query command
var queryCmd = &cobra.Command{
	Use:   "query <name> <text>",
	Short: "Search an index",
	Long: `Search an index with a natural language query.

Modes:
  vector   - nearest embeddings (default)
  keyword  - full-text match on content, names and paths
  hybrid   - both rankings fused with reciprocal rank fusion

Examples:
  ctxai query api "where are sessions validated"
  ctxai query api "retry backoff" --mode hybrid -n 10
  ctxai query api "http handler" --lang go --kind function --file "internal/**"
  ctxai query api "auth" --format md -o auth.md`,
	Args: cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]
		query := strings.Join(args[1:], " ")

		limit, _ := cmd.Flags().GetInt("limit")
		modeFlag, _ := cmd.Flags().GetString("mode")
		langs, _ := cmd.Flags().GetStringSlice("lang")
		kinds, _ := cmd.Flags().GetStringSlice("kind")
		files, _ := cmd.Flags().GetStringSlice("file")
		minScore, _ := cmd.Flags().GetFloat32("min-score")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		format, _ := cmd.Flags().GetString("format")
		outFile, _ := cmd.Flags().GetString("output")

		if limit < 1 {
			exitError("-n must be at least 1")
		}
		mode, err := index.ParseMode(modeFlag)
		if err != nil {
			exitErrorJSON(err)
		}
		if format != "" {
			if _, err := export.GetExporter(format); err != nil {
				exitErrorJSON(err)
			}
		}

		var filter *vectordb.Filter
		if len(langs) > 0 || len(kinds) > 0 || len(files) > 0 || minScore > 0 {
			filter = &vectordb.Filter{
				Languages: langs,
				Files:     files,
				MinScore:  minScore,
			}
			for _, k := range kinds {
				filter.Kinds = append(filter.Kinds, chunk.Kind(k))
			}
		}

		manager := openManager()
		defer func() { _ = manager.Close() }()

		ix, err := manager.Open(name)
		if err != nil {
			exitErrorJSON(err)
		}
		defer func() { _ = ix.Close() }()

		opts := index.DefaultSearchOptions()
		opts.Limit = limit
		opts.Mode = mode
		opts.Filter = filter
		if timeout > 0 {
			opts.TimeLimit = timeout
		}

		ctx, cancel := signalContext()
		defer cancel()

		results, err := ix.Search(ctx, query, opts)
		if err != nil {
			exitError("search failed: %v", err)
		}

		if format != "" {
			data, err := export.ExportResults(results, format, name)
			if err != nil {
				exitError("export failed: %v", err)
			}
			if outFile == "" {
				_, _ = os.Stdout.Write(data)
				return
			}
			if err := os.WriteFile(outFile, data, 0644); err != nil {
				exitError("failed to write %s: %v", outFile, err)
			}
			fmt.Fprintf(os.Stderr, "Wrote %d results to %s\n", len(results.Results), outFile)
			return
		}

		if jsonOutput {
			if err := outputJSON(results); err != nil {
				exitError("failed to encode JSON: %v", err)
			}
			return
		}
		printSearchResults(results)
	},
}

// printSearchResults prints search results in human-readable format
func printSearchResults(results *index.SearchResults) {
	if len(results.Results) == 0 {
		fmt.Println("No results found")
		return
	}

	for i, r := range results.Results {
		c := r.Chunk
		fmt.Printf("%d. %s:%d-%d", i+1, c.File, c.StartLine, c.EndLine)
		if results.Mode == index.ModeVector {
			fmt.Printf(" (similarity: %.1f%%)\n", r.Score*100)
		} else {
			fmt.Printf(" (score: %.3f)\n", r.Score)
		}

		fmt.Printf("   %s (%s)", c.Kind, c.Language)
		if name := c.Name(); name != "" {
			fmt.Printf(" %s", name)
		}
		fmt.Println()

		for _, line := range strings.Split(truncate(c.Content, queryTruncateAt), "\n") {
			fmt.Printf("   │ %s\n", line)
		}
		fmt.Println()
	}

	fmt.Printf("Found %d results (%s)\n", len(results.Results), results.Duration.Round(time.Millisecond))
}

func init() {
	rootCmd.AddCommand(queryCmd)

	queryCmd.Flags().IntP("limit", "n", index.DefaultSearchOptions().Limit, "Number of results")
	queryCmd.Flags().String("mode", string(index.ModeVector), "Search mode: vector, keyword or hybrid")
	queryCmd.Flags().StringSlice("lang", nil, "Only return chunks in these languages")
	queryCmd.Flags().StringSlice("kind", nil, "Only return chunks of these kinds (function, class, section, ...)")
	queryCmd.Flags().StringSlice("file", nil, "Only return chunks from files matching these globs")
	queryCmd.Flags().Float32("min-score", 0, "Drop vector results below this similarity")
	queryCmd.Flags().Duration("timeout", 0, "Search time limit (default 10s)")
	queryCmd.Flags().String("format", "", "Export results as json, csv or md")
	queryCmd.Flags().StringP("output", "o", "", "Write exported results to a file")
}

package cmd

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ihavespoons/ctxai/internal/chunk"
	"github.com/ihavespoons/ctxai/internal/index"
	"github.com/ihavespoons/ctxai/internal/traverse"
	"github.com/spf13/cobra"
)

// filesCmd represents the files command
var filesCmd = &cobra.Command{
	Use:   "files <path>",
	Short: "List the files an index build would include",
	Long: `Walk a codebase with the same rules as 'ctxai index' and list the files
that would be indexed, followed by a size check against the configured limits.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		root, err := filepath.Abs(args[0])
		if err != nil {
			exitError("invalid path: %v", err)
		}
		include, _ := cmd.Flags().GetStringSlice("include")
		exclude, _ := cmd.Flags().GetStringSlice("exclude")
		noIgnore, _ := cmd.Flags().GetBool("no-gitignore")
		quiet, _ := cmd.Flags().GetBool("quiet")
		langs, _ := cmd.Flags().GetStringSlice("lang")

		known := chunk.Languages()
		for _, l := range langs {
			if !slices.Contains(known, l) {
				exitError("unknown language %q (known: %s)", l, strings.Join(known, ", "))
			}
		}

		walk, err := traverse.Walk(traverse.Config{
			Root:             root,
			Include:          include,
			Exclude:          exclude,
			FollowIgnoreFile: !noIgnore,
		})
		if err != nil {
			exitErrorJSON(err)
		}
		files := filterByLanguage(slices.Collect(walk), langs)

		validator := index.NewSizeValidator(peekConfig(root).Indexing)
		stats := validator.Analyze(files)
		ok, messages := validator.Validate(stats)

		if jsonOutput {
			rel := make([]string, 0, len(files))
			for _, f := range files {
				rel = append(rel, relPath(root, f))
			}
			if err := outputJSON(map[string]interface{}{
				"root":     root,
				"files":    rel,
				"stats":    stats,
				"ok":       ok,
				"messages": messages,
			}); err != nil {
				exitError("failed to encode JSON: %v", err)
			}
			return
		}

		if !quiet {
			for _, f := range files {
				fmt.Println(relPath(root, f))
			}
			fmt.Println()
		}
		for _, line := range validator.Summary(stats) {
			fmt.Println(line)
		}
		if len(messages) > 0 {
			fmt.Println()
			for _, msg := range messages {
				fmt.Println(msg)
			}
		}
		if !ok {
			exitError("project exceeds the configured limits")
		}
	},
}

// chunksCmd represents the chunks command
var chunksCmd = &cobra.Command{
	Use:   "chunks <file>",
	Short: "Show how a file is split into chunks",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		size, _ := cmd.Flags().GetInt("size")
		overlap, _ := cmd.Flags().GetInt("overlap")
		full, _ := cmd.Flags().GetBool("full")
		kindFlags, _ := cmd.Flags().GetStringSlice("kind")

		indexing := peekConfig("").Indexing
		cfg := chunk.DefaultConfig()
		cfg.MaxChunkSize = indexing.ChunkSize
		cfg.Overlap = indexing.ChunkOverlap
		if cmd.Flags().Changed("size") {
			cfg.MaxChunkSize = size
		}
		if cmd.Flags().Changed("overlap") {
			cfg.Overlap = overlap
		}

		chunker, err := chunk.NewChunker(cfg)
		if err != nil {
			exitErrorJSON(err)
		}
		kinds := make([]chunk.Kind, 0, len(kindFlags))
		for _, k := range kindFlags {
			kinds = append(kinds, chunk.Kind(k))
		}
		chunks := chunk.FilterByKind(chunker.ChunkFile(args[0]), kinds...)

		if jsonOutput {
			if chunks == nil {
				chunks = []*chunk.Chunk{}
			}
			if err := outputJSON(chunks); err != nil {
				exitError("failed to encode JSON: %v", err)
			}
			return
		}

		if len(chunks) == 0 {
			if len(kinds) > 0 {
				fmt.Println("No chunks of the requested kinds")
			} else {
				fmt.Println("No chunks (empty, unreadable or binary file)")
			}
			return
		}
		for i, c := range chunks {
			fmt.Printf("── %d. %s ", i+1, c.Kind)
			if name := c.Name(); name != "" {
				fmt.Printf("%s ", name)
			}
			fmt.Printf("[%d-%d] %s, %d chars\n", c.StartLine, c.EndLine, c.Language, len([]rune(c.Content)))
			content := c.Content
			if !full {
				content = truncate(content, queryTruncateAt)
			}
			fmt.Println(content)
			fmt.Println()
		}
		fmt.Printf("%d chunks\n", len(chunks))
	},
}

// filterByLanguage keeps the files whose detected language is in langs. With
// no langs every file is kept.
func filterByLanguage(files, langs []string) []string {
	if len(langs) == 0 {
		return files
	}
	var out []string
	for _, f := range files {
		if lang, ok := chunk.DetectLanguage(f); ok && slices.Contains(langs, lang) {
			out = append(out, f)
		}
	}
	return out
}

func relPath(root, path string) string {
	if rel, err := filepath.Rel(root, path); err == nil {
		return filepath.ToSlash(rel)
	}
	return path
}

func init() {
	rootCmd.AddCommand(filesCmd)
	rootCmd.AddCommand(chunksCmd)

	filesCmd.Flags().StringSlice("include", nil, "Only list files matching these globs")
	filesCmd.Flags().StringSlice("exclude", nil, "Additional globs to exclude")
	filesCmd.Flags().Bool("no-gitignore", false, "Do not apply .gitignore rules")
	filesCmd.Flags().BoolP("quiet", "q", false, "Only print the summary")
	filesCmd.Flags().StringSlice("lang", nil, "Only list files in these languages")

	chunksCmd.Flags().Int("size", chunk.DefaultConfig().MaxChunkSize, "Maximum chunk size in characters")
	chunksCmd.Flags().Int("overlap", chunk.DefaultConfig().Overlap, "Overlap between split chunks in characters")
	chunksCmd.Flags().Bool("full", false, "Print whole chunks instead of truncating")
	chunksCmd.Flags().StringSlice("kind", nil, "Only show chunks of these kinds (function, class, text, ...)")
}

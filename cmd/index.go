package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ihavespoons/ctxai/internal/index"
	"github.com/spf13/cobra"
)

// indexCmd represents the index command
var indexCmd = &cobra.Command{
	Use:   "index <path>",
	Short: "Build an index for a codebase",
	Long: `Walk a codebase, split it into chunks and store their embeddings.

Files ignored by .gitignore, common build and dependency directories, and
binary files are skipped. Projects over the configured file or size limits
are rejected; individual files over the per-file limit are skipped.

Examples:
  ctxai index .
  ctxai index ~/src/api --name api --include "*.go" --include "*.sql"
  ctxai index . --exclude "testdata/**" --force`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		root, err := filepath.Abs(args[0])
		if err != nil {
			exitError("invalid path: %v", err)
		}

		name, _ := cmd.Flags().GetString("name")
		include, _ := cmd.Flags().GetStringSlice("include")
		exclude, _ := cmd.Flags().GetStringSlice("exclude")
		noIgnore, _ := cmd.Flags().GetBool("no-gitignore")
		force, _ := cmd.Flags().GetBool("force")

		if name == "" {
			name = filepath.Base(root)
		}
		if err := index.ValidateName(name); err != nil {
			exitErrorJSON(err)
		}

		home, err := openHome(root)
		if err != nil {
			exitErrorJSON(err)
		}
		manager := index.NewManager(home)
		defer func() { _ = manager.Close() }()

		if manager.Exists(name) && !force {
			exitError("index %q already exists. Use --force to rebuild it or 'ctxai update %s'", name, name)
		}

		ix, err := manager.Create(name, root)
		if err != nil {
			exitErrorJSON(err)
		}
		defer func() { _ = ix.Close() }()

		ctx, cancel := signalContext()
		defer cancel()

		opts := index.BuildOptions{
			Include:          include,
			Exclude:          exclude,
			FollowIgnoreFile: !noIgnore,
		}

		if !jsonOutput {
			fmt.Printf("Indexing %s as '%s'...\n", root, name)
		}

		progress := newProgressPrinter()
		result, err := ix.Build(ctx, opts, progress.Func())
		progress.Done()
		if err != nil {
			if ctx.Err() != nil {
				fmt.Fprintln(os.Stderr, "Indexing cancelled")
				os.Exit(130)
			}
			var sizeErr *index.SizeLimitError
			if errors.As(err, &sizeErr) && !jsonOutput {
				for _, msg := range sizeErr.Messages {
					fmt.Fprintln(os.Stderr, msg)
				}
				fmt.Fprintln(os.Stderr, "\nNarrow the project with --include/--exclude or raise the limits with 'ctxai config set'.")
				os.Exit(1)
			}
			exitError("indexing failed: %v", err)
		}

		if jsonOutput {
			if err := outputJSON(result); err != nil {
				exitError("failed to encode JSON: %v", err)
			}
			return
		}

		for _, msg := range result.Messages {
			fmt.Println(msg)
		}
		fmt.Printf("Index built successfully\n")
		fmt.Printf("  Files: %d\n", result.Info.Files)
		fmt.Printf("  Chunks: %d\n", result.Info.Chunks)
		if result.Skipped > 0 {
			fmt.Printf("  Skipped oversized files: %d\n", result.Skipped)
		}
		fmt.Printf("  Embeddings: %s/%s\n", result.Info.Provider, result.Info.Model)
		fmt.Printf("  Location: %s\n", ix.Dir())
		fmt.Printf("  Duration: %s\n", result.Duration.Round(time.Millisecond))
	},
}

// updateCmd represents the update command
var updateCmd = &cobra.Command{
	Use:   "update <name>",
	Short: "Incrementally update an index",
	Long: `Re-index files whose content changed since the last build and drop
files that no longer exist.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		manager := openManager()
		defer func() { _ = manager.Close() }()

		ix, err := manager.Open(args[0])
		if err != nil {
			exitErrorJSON(err)
		}
		defer func() { _ = ix.Close() }()

		ctx, cancel := signalContext()
		defer cancel()

		if !jsonOutput {
			fmt.Printf("Updating index '%s'...\n", args[0])
		}

		progress := newProgressPrinter()
		result, err := ix.Update(ctx, progress.Func())
		progress.Done()
		if err != nil {
			exitError("update failed: %v", err)
		}

		if jsonOutput {
			if err := outputJSON(result); err != nil {
				exitError("failed to encode JSON: %v", err)
			}
			return
		}
		printUpdate(result)
	},
}

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch <name>",
	Short: "Watch a codebase and keep its index current",
	Long:  `Start a file watcher that updates the index when files under its root change.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		debounce, _ := cmd.Flags().GetDuration("debounce")
		if debounce > 0 {
			index.WatchDebounce = debounce
		}

		manager := openManager()
		defer func() { _ = manager.Close() }()

		ix, err := manager.Open(args[0])
		if err != nil {
			exitErrorJSON(err)
		}
		defer func() { _ = ix.Close() }()

		ctx, cancel := signalContext()
		defer cancel()

		if !jsonOutput {
			fmt.Printf("Watching %s for changes... (Ctrl+C to stop)\n", ix.Info().Root)
		}

		err = ix.Watch(ctx, func(result *index.UpdateResult, err error) {
			if err != nil {
				fmt.Fprintf(os.Stderr, "Update failed: %v\n", err)
				return
			}
			if jsonOutput {
				_ = outputJSON(result)
				return
			}
			if result.Changed() > 0 {
				fmt.Printf("[%s] ", time.Now().Format("15:04:05"))
				printUpdate(result)
			}
		})
		if err != nil {
			exitError("watch failed: %v", err)
		}
		if !jsonOutput {
			fmt.Println("\nStopped watching")
		}
	},
}

func printUpdate(result *index.UpdateResult) {
	fmt.Printf("Index updated: %d added, %d modified, %d removed, %d unchanged (%d chunks, %s)\n",
		result.Added, result.Modified, result.Removed, result.Unchanged, result.Chunks,
		result.Duration.Round(time.Millisecond))
}

func init() {
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(watchCmd)

	indexCmd.Flags().String("name", "", "Index name (default: directory name)")
	indexCmd.Flags().StringSlice("include", nil, "Only index files matching these globs")
	indexCmd.Flags().StringSlice("exclude", nil, "Additional globs to exclude")
	indexCmd.Flags().Bool("no-gitignore", false, "Do not apply .gitignore rules")
	indexCmd.Flags().Bool("force", false, "Rebuild an existing index")

	watchCmd.Flags().Duration("debounce", 0, "Wait this long for changes to settle (default 500ms)")
}

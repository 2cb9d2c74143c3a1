package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ihavespoons/ctxai/internal/index"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"
)

// truncateAt is the number of characters of chunk content shown per result
const truncateAt = 500

// handleListIndexes handles the list_indexes tool invocation
func (s *Server) handleListIndexes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos, err := s.manager.List()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error listing indexes: %v", err)), nil
	}
	if len(infos) == 0 {
		return mcp.NewToolResultText("No indexes found. Create one using the index_codebase tool."), nil
	}

	var b strings.Builder
	b.WriteString("Available indexes:\n\n")
	for _, info := range infos {
		fmt.Fprintf(&b, "- **%s**: %d chunks from %d files (%s)\n", info.Name, info.Chunks, info.Files, info.Status)
		fmt.Fprintf(&b, "  Root: %s\n", info.Root)
		fmt.Fprintf(&b, "  Embeddings: %s/%s\n\n", info.Provider, info.Model)
	}
	return mcp.NewToolResultText(b.String()), nil
}

// handleIndexCodebase handles the index_codebase tool invocation
func (s *Server) handleIndexCodebase(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	path, err := requireString(args, "path")
	if err != nil {
		return invalidArgument(err), nil
	}
	name, err := requireString(args, "name")
	if err != nil {
		return invalidArgument(err), nil
	}
	if err := index.ValidateName(name); err != nil {
		return invalidArgument(err), nil
	}

	st, err := os.Stat(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error: Path does not exist: %s", path)), nil
	}
	if !st.IsDir() {
		return mcp.NewToolResultError(fmt.Sprintf("Error: Path is not a directory: %s", path)), nil
	}

	opts := index.BuildOptions{
		Include:          getStringSlice(args, "include_patterns"),
		Exclude:          getStringSlice(args, "exclude_patterns"),
		FollowIgnoreFile: getBoolDefault(args, "follow_gitignore", true),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ix, err := s.manager.Create(name, path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error indexing codebase: %v", err)), nil
	}
	defer func() { _ = ix.Close() }()

	log := logrus.WithFields(logrus.Fields{"tool": "index_codebase", "index": name})
	result, err := ix.Build(ctx, opts, nil)
	if err != nil {
		log.WithError(err).Warn("indexing failed")
		return mcp.NewToolResultError(fmt.Sprintf("Error indexing codebase: %v", err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Successfully indexed codebase '%s'\n\n", name)
	fmt.Fprintf(&b, "- Files: %d\n", result.Info.Files)
	fmt.Fprintf(&b, "- Total chunks: %d\n", result.Info.Chunks)
	if result.Skipped > 0 {
		fmt.Fprintf(&b, "- Skipped oversized files: %d\n", result.Skipped)
	}
	fmt.Fprintf(&b, "- Location: %s\n", ix.Dir())
	fmt.Fprintf(&b, "- Duration: %s\n", result.Duration.Round(time.Millisecond))
	for _, msg := range result.Messages {
		fmt.Fprintf(&b, "\n%s", msg)
	}
	return mcp.NewToolResultText(b.String()), nil
}

// handleQueryCodebase handles the query_codebase tool invocation
func (s *Server) handleQueryCodebase(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	name, err := requireString(args, "index_name")
	if err != nil {
		return invalidArgument(err), nil
	}
	query, err := requireString(args, "query")
	if err != nil {
		return invalidArgument(err), nil
	}

	n := getIntDefault(args, "n_results", DefaultResults)
	if n < 1 || n > MaxResults {
		return invalidArgument(fmt.Errorf("n_results must be between 1 and %d, got %d", MaxResults, n)), nil
	}
	modeArg, _ := args["mode"].(string)
	mode, err := index.ParseMode(modeArg)
	if err != nil {
		return invalidArgument(err), nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ix, err := s.manager.Get(name)
	if errors.Is(err, index.ErrIndexNotFound) || errors.Is(err, index.ErrInvalidName) {
		return mcp.NewToolResultError(fmt.Sprintf("Error: Index '%s' not found. Use list_indexes to see available indexes.", name)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error querying codebase: %v", err)), nil
	}

	opts := index.DefaultSearchOptions()
	opts.Limit = n
	opts.Mode = mode
	results, err := ix.Search(ctx, query, opts)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error querying codebase: %v", err)), nil
	}
	if len(results.Results) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No results found for query: %s", query)), nil
	}
	return mcp.NewToolResultText(formatResults(results)), nil
}

// handleGetIndexStats handles the get_index_stats tool invocation
func (s *Server) handleGetIndexStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := requireString(arguments(request), "index_name")
	if err != nil {
		return invalidArgument(err), nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ix, err := s.manager.Get(name)
	if errors.Is(err, index.ErrIndexNotFound) || errors.Is(err, index.ErrInvalidName) {
		return mcp.NewToolResultError(fmt.Sprintf("Error: Index '%s' not found.", name)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error getting index stats: %v", err)), nil
	}
	stats, err := ix.Stats()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error getting index stats: %v", err)), nil
	}
	usage, err := s.manager.DiskUsage(name)
	if err != nil {
		logrus.WithError(err).WithField("index", name).Debug("could not measure index size")
	}

	info := ix.Info()
	var b strings.Builder
	fmt.Fprintf(&b, "## Index: %s\n\n", name)
	fmt.Fprintf(&b, "- **Status:** %s\n", info.Status)
	fmt.Fprintf(&b, "- **Root:** %s\n", info.Root)
	fmt.Fprintf(&b, "- **Total chunks:** %d\n", stats.TotalChunks)
	fmt.Fprintf(&b, "- **Unique files:** %d\n", stats.UniqueFiles)
	fmt.Fprintf(&b, "- **Embeddings:** %s/%s (%d dimensions)\n", info.Provider, info.Model, info.Dimension)
	fmt.Fprintf(&b, "- **Storage size:** %s\n", index.FormatSize(usage))
	fmt.Fprintf(&b, "- **Location:** %s\n", ix.Dir())
	fmt.Fprintf(&b, "- **Last updated:** %s\n", info.UpdatedAt.Format("2006-01-02 15:04:05 MST"))
	writeCounts(&b, "Languages", stats.Languages)
	writeCounts(&b, "Chunk kinds", stats.Kinds)
	return mcp.NewToolResultText(b.String()), nil
}

// formatResults renders search results as markdown with fenced code
func formatResults(results *index.SearchResults) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d result(s) for: %q\n\n", len(results.Results), results.Query)
	for i, r := range results.Results {
		c := r.Chunk
		if results.Mode == index.ModeVector {
			fmt.Fprintf(&b, "## Result %d (Similarity: %.1f%%)\n\n", i+1, r.Score*100)
		} else {
			fmt.Fprintf(&b, "## Result %d (Score: %.3f)\n\n", i+1, r.Score)
		}
		fmt.Fprintf(&b, "**File:** %s\n", c.File)
		fmt.Fprintf(&b, "**Lines:** %d-%d\n", c.StartLine, c.EndLine)
		fmt.Fprintf(&b, "**Type:** %s (%s)\n", c.Kind, c.Language)
		if name := c.Name(); name != "" {
			fmt.Fprintf(&b, "**Name:** %s\n", name)
		}
		fmt.Fprintf(&b, "\n**Code:**\n```%s\n%s\n```\n\n", c.Language, Truncate(c.Content, truncateAt))
	}
	return b.String()
}

// Truncate shortens s to n characters and marks the cut
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "\n... (truncated)"
}

func writeCounts(b *strings.Builder, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	fmt.Fprintf(b, "\n### %s\n\n", title)
	for _, k := range keys {
		fmt.Fprintf(b, "- %s: %d\n", k, counts[k])
	}
}

// Helper functions

// invalidArgument reports a bad tool argument as a tool error
func invalidArgument(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("Error: %v", err))
}

// arguments returns the call arguments; anything but an object reads as empty
func arguments(request mcp.CallToolRequest) map[string]interface{} {
	args, _ := request.Params.Arguments.(map[string]interface{})
	return args
}

func requireString(args map[string]interface{}, key string) (string, error) {
	v, ok := args[key].(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("%s parameter is required", key)
	}
	return v, nil
}

func getBoolDefault(args map[string]interface{}, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}

// getIntDefault accepts JSON numbers, which decode as float64
func getIntDefault(args map[string]interface{}, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func getStringSlice(args map[string]interface{}, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// Bounds of the query_codebase n_results argument
const (
	DefaultResults = 5
	MaxResults     = 20
)

func listIndexesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_indexes",
		Description: "List all available code indexes with their statistics",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
			Required:   []string{},
		},
	}
}

func indexCodebaseTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_codebase",
		Description: "Index a codebase for semantic search. Chunks the code, creates embeddings and stores them in a vector index.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Path to the codebase directory to index",
				},
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Name for the index (letters, digits, '.', '_' and '-')",
				},
				"include_patterns": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "File patterns to include (e.g. '*.py', 'src/**/*.go')",
				},
				"exclude_patterns": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Additional file patterns to exclude beyond .gitignore",
				},
				"follow_gitignore": map[string]interface{}{
					"type":        "boolean",
					"description": "Follow .gitignore patterns when traversing",
					"default":     true,
				},
			},
			Required: []string{"path", "name"},
		},
	}
}

func queryCodebaseTool() mcp.Tool {
	return mcp.Tool{
		Name:        "query_codebase",
		Description: "Query an indexed codebase using natural language. Returns relevant code chunks with file and line metadata.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"index_name": map[string]interface{}{
					"type":        "string",
					"description": "Name of the index to query",
				},
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Natural language query to search the codebase",
				},
				"n_results": map[string]interface{}{
					"type":        "integer",
					"description": "Number of results to return",
					"default":     DefaultResults,
					"minimum":     1,
					"maximum":     MaxResults,
				},
				"mode": map[string]interface{}{
					"type":        "string",
					"description": "Matching mode",
					"enum":        []string{"vector", "keyword", "hybrid"},
					"default":     "vector",
				},
			},
			Required: []string{"index_name", "query"},
		},
	}
}

func getIndexStatsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_index_stats",
		Description: "Get detailed statistics about a specific index",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"index_name": map[string]interface{}{
					"type":        "string",
					"description": "Name of the index",
				},
			},
			Required: []string{"index_name"},
		},
	}
}

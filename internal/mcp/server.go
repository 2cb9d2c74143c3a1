// Package mcp exposes the code indexes as Model Context Protocol tools over
// stdio.
package mcp

import (
	"context"
	"io"
	"log"
	"sync"

	"github.com/ihavespoons/ctxai/internal/index"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"
)

// ServerName is the MCP server name
const ServerName = "ctxai"

// Server wraps the MCP server with the index manager
type Server struct {
	mcp     *server.MCPServer
	manager *index.Manager

	// builds take the write lock so queries never see an index being replaced
	mu sync.RWMutex
}

// NewServer creates a server for the indexes of manager
func NewServer(manager *index.Manager, version string) *Server {
	s := &Server{
		mcp:     server.NewMCPServer(ServerName, version),
		manager: manager,
	}
	s.registerTools()
	return s
}

// Serve reads requests from in and writes responses to out until ctx is
// cancelled or in is closed
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	errLog := logrus.StandardLogger().WriterLevel(logrus.ErrorLevel)
	defer func() { _ = errLog.Close() }()
	stdio.SetErrorLogger(log.New(errLog, "", 0))

	logrus.WithField("server", ServerName).Info("mcp server listening on stdio")
	return stdio.Listen(ctx, in, out)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(listIndexesTool(), s.handleListIndexes)
	s.mcp.AddTool(indexCodebaseTool(), s.handleIndexCodebase)
	s.mcp.AddTool(queryCodebaseTool(), s.handleQueryCodebase)
	s.mcp.AddTool(getIndexStatsTool(), s.handleGetIndexStats)
}

// Package dashboard serves a JSON API over the indexes of a ctxai home.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ihavespoons/ctxai/internal/chunk"
	"github.com/ihavespoons/ctxai/internal/config"
	"github.com/ihavespoons/ctxai/internal/export"
	"github.com/ihavespoons/ctxai/internal/index"
	"github.com/ihavespoons/ctxai/internal/vectordb"
	"github.com/sirupsen/logrus"
)

// DefaultPort is the port used when none is given
const DefaultPort = 3000

// MaxResults bounds the n parameter of the search endpoint
const MaxResults = 50

// Server represents the dashboard HTTP server
type Server struct {
	router  chi.Router
	manager *index.Manager
	version string

	// indexMu is held for reading while a handler uses an open index and
	// for writing while one is deleted, so a delete never closes an index
	// under a running search.
	indexMu sync.RWMutex

	sseClients map[chan SSEEvent]bool
	sseMu      sync.RWMutex
}

// SSEEvent represents a server-sent event
type SSEEvent struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// IndexDetail is the body of GET /api/indexes/{name}
type IndexDetail struct {
	index.Info
	Stats     *vectordb.Stats `json:"stats,omitempty"`
	DiskUsage int64           `json:"disk_usage"`
	DiskSize  string          `json:"disk_size"`
}

// HomeSummary is the body of GET /api/health
type HomeSummary struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Home    string            `json:"home"`
	Indexes int               `json:"indexes"`
	Current *config.IndexMeta `json:"current,omitempty"`
}

// NewServer creates a dashboard server for the indexes of manager
func NewServer(manager *index.Manager, version string) *Server {
	s := &Server{
		manager:    manager,
		version:    version,
		sseClients: make(map[chan SSEEvent]bool),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(logrus.StandardLogger()))

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/events", s.handleSSE)

	r.Route("/api/indexes", func(r chi.Router) {
		r.Get("/", s.handleListIndexes)
		r.Get("/{name}", s.handleGetIndex)
		r.Get("/{name}/search", s.handleSearch)
		r.Delete("/{name}", s.handleDeleteIndex)
	})

	s.router = r
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start serves on addr until ctx is cancelled
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.WithField("addr", addr).Info("dashboard listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("dashboard shutdown: %w", err)
		}
		return nil
	}
}

// Broadcast sends an event to all SSE clients
func (s *Server) Broadcast(event SSEEvent) {
	s.sseMu.RLock()
	defer s.sseMu.RUnlock()

	for client := range s.sseClients {
		select {
		case client <- event:
		default:
			// Client buffer full, skip
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, err error, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// writeLookupError maps index lookup failures to a status code
func (s *Server) writeLookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, index.ErrIndexNotFound), errors.Is(err, index.ErrInvalidName):
		s.writeError(w, err, http.StatusNotFound)
	default:
		s.writeError(w, err, http.StatusInternalServerError)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	infos, err := s.manager.List()
	if err != nil {
		s.writeError(w, err, http.StatusInternalServerError)
		return
	}
	home := s.manager.Home()
	s.writeJSON(w, HomeSummary{
		Status:  "ok",
		Version: s.version,
		Home:    home.Path,
		Indexes: len(infos),
		Current: home.Config.Current,
	})
}

func (s *Server) handleListIndexes(w http.ResponseWriter, r *http.Request) {
	infos, err := s.manager.List()
	if err != nil {
		s.writeError(w, err, http.StatusInternalServerError)
		return
	}
	if infos == nil {
		infos = []*index.Info{}
	}
	s.writeJSON(w, infos)
}

func (s *Server) handleGetIndex(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	info, err := s.manager.Info(name)
	if err != nil {
		s.writeLookupError(w, err)
		return
	}

	s.indexMu.RLock()
	defer s.indexMu.RUnlock()

	detail := IndexDetail{Info: *info}
	if info.Status == config.StatusCompleted {
		ix, err := s.manager.Get(name)
		if err != nil {
			s.writeLookupError(w, err)
			return
		}
		detail.Info = ix.Info()
		if detail.Stats, err = ix.Stats(); err != nil {
			s.writeError(w, err, http.StatusInternalServerError)
			return
		}
	}
	if usage, err := s.manager.DiskUsage(name); err == nil {
		detail.DiskUsage = usage
		detail.DiskSize = index.FormatSize(usage)
	}
	s.writeJSON(w, detail)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	q := r.URL.Query()

	query := strings.TrimSpace(q.Get("q"))
	if query == "" {
		s.writeError(w, fmt.Errorf("query parameter q is required"), http.StatusBadRequest)
		return
	}

	opts := index.DefaultSearchOptions()
	if raw := q.Get("n"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > MaxResults {
			s.writeError(w, fmt.Errorf("n must be between 1 and %d", MaxResults), http.StatusBadRequest)
			return
		}
		opts.Limit = n
	}
	mode, err := index.ParseMode(q.Get("mode"))
	if err != nil {
		s.writeError(w, err, http.StatusBadRequest)
		return
	}
	opts.Mode = mode
	opts.Filter = filterFromQuery(q["lang"], q["kind"], q["file"])

	results, err := s.search(r.Context(), name, query, opts)
	if err != nil {
		s.writeLookupError(w, err)
		return
	}

	format := q.Get("format")
	if format == "" {
		s.writeJSON(w, results)
		return
	}
	exporter, err := export.GetExporter(format)
	if err != nil {
		s.writeError(w, err, http.StatusBadRequest)
		return
	}
	if exp, ok := exporter.(export.ExporterWithIndex); ok {
		exp.SetIndexName(name)
	}
	data, err := exporter.Export(results)
	if err != nil {
		s.writeError(w, err, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", exporter.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s-results%s", name, exporter.FileExtension()))
	_, _ = w.Write(data)
}

// search runs a query against the named index while holding it open
func (s *Server) search(ctx context.Context, name, query string, opts *index.SearchOptions) (*index.SearchResults, error) {
	s.indexMu.RLock()
	defer s.indexMu.RUnlock()

	ix, err := s.manager.Get(name)
	if err != nil {
		return nil, err
	}
	return ix.Search(ctx, query, opts)
}

func (s *Server) handleDeleteIndex(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	s.indexMu.Lock()
	err := s.manager.Delete(name)
	s.indexMu.Unlock()
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	logrus.WithField("index", name).Info("index deleted")
	s.Broadcast(SSEEvent{Event: "index_deleted", Data: map[string]string{"name": name}})
	w.WriteHeader(http.StatusNoContent)
}

// SSE handler
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, fmt.Errorf("SSE not supported"), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client := make(chan SSEEvent, 10)

	s.sseMu.Lock()
	s.sseClients[client] = true
	s.sseMu.Unlock()

	defer func() {
		s.sseMu.Lock()
		delete(s.sseClients, client)
		s.sseMu.Unlock()
		close(client)
	}()

	_, _ = fmt.Fprintf(w, "event: connected\ndata: {}\n\n")
	flusher.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			_, _ = fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		case event := <-client:
			data, _ := json.Marshal(event.Data)
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Event, data)
			flusher.Flush()
		}
	}
}

// filterFromQuery builds a search filter from repeated or comma separated
// lang, kind and file parameters
func filterFromQuery(langs, kinds, files []string) *vectordb.Filter {
	f := &vectordb.Filter{
		Languages: splitValues(langs),
		Files:     splitValues(files),
	}
	for _, k := range splitValues(kinds) {
		f.Kinds = append(f.Kinds, chunk.Kind(k))
	}
	if f.IsEmpty() {
		return nil
	}
	return f
}

func splitValues(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

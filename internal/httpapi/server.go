// Package httpapi exposes the service over JSON/HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"localrag/internal/domain"
	"localrag/internal/logging"
	"localrag/internal/usecase"
)

const maxBodyBytes = 32 << 20

// DefaultAllowedOrigins are the local front-ends allowed by CORS.
var DefaultAllowedOrigins = []string{"http://localhost:3000", "http://localhost:1420"}

// Server routes HTTP requests to a usecase.Service.
type Server struct {
	svc            *usecase.Service
	logger         *logging.Logger
	allowedOrigins map[string]bool
	metrics        bool
}

// Option configures a Server.
type Option func(*Server)

// WithAllowedOrigins replaces the CORS origin allow list.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		s.allowedOrigins = make(map[string]bool, len(origins))
		for _, o := range origins {
			s.allowedOrigins[o] = true
		}
	}
}

// WithMetrics mounts the Prometheus handler on /metrics.
func WithMetrics() Option {
	return func(s *Server) { s.metrics = true }
}

func NewServer(svc *usecase.Service, logger *logging.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	s := &Server{svc: svc, logger: logger}
	WithAllowedOrigins(DefaultAllowedOrigins...)(s)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler wrapped in CORS and request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/rag/info", s.handleInfo)
	mux.HandleFunc("GET /api/rag/documents", s.handleListDocuments)
	mux.HandleFunc("POST /api/rag/documents", s.handleAddDocument)
	mux.HandleFunc("GET /api/rag/documents/{path...}", s.handleGetDocument)
	mux.HandleFunc("DELETE /api/rag/documents/{path...}", s.handleDeleteDocument)
	mux.HandleFunc("POST /api/rag/search", s.handleSearchPost)
	mux.HandleFunc("GET /api/rag/search", s.handleSearchGet)
	mux.HandleFunc("POST /api/rag/test/add-sample", s.handleAddSamples)
	if s.metrics {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
	return s.cors(s.logRequests(mux))
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("failed to start HTTP server: %w", err)
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errChan
		return nil
	case err := <-errChan:
		return err
	}
}

type documentRequest struct {
	FilePath string `json:"file_path"`
	Content  string `json:"content"`
	Title    string `json:"title,omitempty"`
	Type     string `json:"type,omitempty"`
}

type searchRequest struct {
	Query string `json:"query"`
	Limit *int   `json:"limit,omitempty"`
}

type documentInfo struct {
	FilePath string `json:"file_path"`
	domain.DocumentSummary
}

type messageResponse struct {
	Message  string `json:"message"`
	FilePath string `json:"file_path,omitempty"`
	Chunks   *int   `json:"chunks,omitempty"`
	Warning  string `json:"warning,omitempty"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Local RAG API", "status": "running"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	model, dim := s.svc.EmbeddingModel()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"service":   "local-rag",
		"model":     model,
		"dimension": dim,
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.GetDocumentInfo())
}

func (s *Server) handleListDocuments(w http.ResponseWriter, _ *http.Request) {
	info := s.svc.GetDocumentInfo()
	docs := make([]documentInfo, 0, len(info.Documents))
	for path, summary := range info.Documents {
		docs = append(docs, documentInfo{FilePath: path, DocumentSummary: summary})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].FilePath < docs[j].FilePath })
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	summary, err := s.svc.GetDocument(path)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, documentInfo{FilePath: path, DocumentSummary: summary})
}

func (s *Server) handleAddDocument(w http.ResponseWriter, r *http.Request) {
	var req documentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	res, err := s.svc.AddDocument(r.Context(), usecase.AddRequest{
		FilePath: req.FilePath,
		Content:  req.Content,
		Title:    req.Title,
		Type:     req.Type,
	})
	if err != nil && !errors.Is(err, domain.ErrDurability) {
		s.writeError(w, err)
		return
	}

	resp := messageResponse{
		Message:  "Document added successfully",
		FilePath: req.FilePath,
		Chunks:   &res.Chunks,
	}
	if err != nil {
		resp.Warning = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	removed, err := s.svc.DeleteDocument(r.Context(), path)
	if err != nil && !errors.Is(err, domain.ErrDurability) {
		s.writeError(w, err)
		return
	}
	if !removed {
		writeJSON(w, http.StatusNotFound, errorResponse{Detail: "Document not found"})
		return
	}

	resp := messageResponse{Message: "Document deleted successfully", FilePath: path}
	if err != nil {
		resp.Warning = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSearchPost(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	s.search(w, r, req.Query, req.Limit)
}

func (s *Server) handleSearchGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !q.Has("query") {
		s.writeError(w, fmt.Errorf("%w: query parameter is required", domain.ErrValidation))
		return
	}

	var limit *int
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, fmt.Errorf("%w: limit %q is not an integer", domain.ErrValidation, raw))
			return
		}
		limit = &n
	}
	s.search(w, r, q.Get("query"), limit)
}

func (s *Server) search(w http.ResponseWriter, r *http.Request, query string, limit *int) {
	results, err := s.svc.SearchDocuments(r.Context(), query, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

var sampleDocuments = []usecase.AddRequest{
	{
		FilePath: "sample1.md",
		Content:  "Chonost is an intelligent writing platform that combines AI with creative tools. It features The All-Seeing Eye for file indexing, The Forge for code execution, and The Trinity Layout for seamless user experience.",
		Title:    "Chonost Overview",
		Type:     "markdown",
	},
	{
		FilePath: "sample2.md",
		Content:  "The Trinity Layout consists of three main areas: Left Sidebar (Knowledge Explorer), Main Content (Editor/Whiteboard), and Right Sidebar (Assistant Panel). This design provides a seamless workflow for creative writing.",
		Title:    "The Trinity Layout",
		Type:     "markdown",
	},
	{
		FilePath: "sample3.md",
		Content:  "The All-Seeing Eye is the file indexing system that automatically scans and indexes all files in the project. It uses advanced NLP techniques to extract entities and create searchable embeddings.",
		Title:    "The All-Seeing Eye",
		Type:     "markdown",
	},
}

func (s *Server) handleAddSamples(w http.ResponseWriter, r *http.Request) {
	added := 0
	for _, doc := range sampleDocuments {
		_, err := s.svc.AddDocument(r.Context(), doc)
		if err != nil && !errors.Is(err, domain.ErrDurability) {
			s.logger.WarnKV("sample document rejected", "path", doc.FilePath, "error", err)
			continue
		}
		added++
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":         fmt.Sprintf("Added %d sample documents", added),
		"total_documents": s.svc.GetDocumentInfo().TotalDocuments,
	})
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrEmbedding):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorKV("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, errorResponse{Detail: err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %w", domain.ErrValidation, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.allowedOrigins[origin] {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			h.Add("Vary", "Origin")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.DebugKV("request", "method", r.Method, "path", r.URL.Path,
			"status", rec.status, "duration", time.Since(start))
	})
}

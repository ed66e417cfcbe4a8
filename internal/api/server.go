// Package api exposes the intake pipeline and the read API over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/vanguard/internal/config"
	"github.com/dharsanguruparan/vanguard/internal/intake"
	"github.com/dharsanguruparan/vanguard/internal/logging"
	"github.com/dharsanguruparan/vanguard/internal/s3storage"
	"github.com/dharsanguruparan/vanguard/internal/signing"
	"github.com/dharsanguruparan/vanguard/internal/store"
)

// multipartOverhead is slack on top of the upload cap for part headers and
// form fields.
const multipartOverhead = 64 << 10

// Intake runs the photo pipeline.
type Intake interface {
	Handle(ctx context.Context, req intake.Request) (*intake.Response, error)
}

// Archive serves archived photos. It is nil when no object store is configured.
type Archive interface {
	OpenOriginal(ctx context.Context, itemID string) (*s3storage.Object, error)
	PresignPreviewURL(ctx context.Context, itemID string, expiry time.Duration) (string, error)
}

// Server exposes HTTP endpoints for uploads and found-item visibility.
type Server struct {
	cfg     *config.Config
	intake  Intake
	store   store.Store
	archive Archive
	signer  *signing.Signer

	handler http.Handler
	server  *http.Server
	once    sync.Once
}

// New constructs a Server. archive may be nil.
func New(cfg *config.Config, in Intake, st store.Store, archive Archive, signer *signing.Signer) *Server {
	return &Server{
		cfg:     cfg,
		intake:  in,
		store:   st,
		archive: archive,
		signer:  signer,
	}
}

// Handler returns the routed handler wrapped in CORS and access logging.
func (s *Server) Handler() http.Handler {
	s.once.Do(func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/api/health", s.handleHealth)
		mux.HandleFunc("/api/image", s.handleImage)
		mux.HandleFunc("/api/items/types", s.handleItemTypes)
		mux.HandleFunc("/api/items/found", s.handleFoundItems)
		mux.HandleFunc("/api/items/found/", s.handleFoundRoute)
		s.handler = corsMiddleware(loggingMiddleware(mux))
	})
	return s.handler
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	logging.Infof("api listening on %s", s.cfg.Address)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.store.Ping(r.Context()); err != nil {
		logging.Errorf("health check failed: %v", err)
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "detail": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleItemTypes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	types, err := s.store.ItemTypes(r.Context())
	if err != nil {
		logging.Errorf("list item types: %v", err)
		respondError(w, http.StatusInternalServerError, "internal", "failed to list item types")
		return
	}
	respondJSON(w, http.StatusOK, types)
}

func (s *Server) handleFoundItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	items, err := s.store.FoundItems(r.Context())
	if err != nil {
		logging.Errorf("list found items: %v", err)
		respondError(w, http.StatusInternalServerError, "internal", "failed to list found items")
		return
	}
	respondJSON(w, http.StatusOK, items)
}

func (s *Server) handleFoundRoute(w http.ResponseWriter, r *http.Request) {
	// /api/items/found/{id} and nested resources like /{id}/image-url.
	path := strings.TrimPrefix(r.URL.Path, "/api/items/found/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" || len(parts) > 2 {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, err := uuid.Parse(parts[0])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "found item id must be a uuid")
		return
	}
	if len(parts) == 1 {
		s.handleFoundItem(w, r, id.String())
		return
	}
	switch parts[1] {
	case "image-url":
		s.handleSignedImageURL(w, r, id.String())
	case "image":
		s.handleArchivedImage(w, r, id.String())
	case "preview-url":
		s.handlePreviewURL(w, r, id.String())
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleFoundItem(w http.ResponseWriter, r *http.Request, id string) {
	item, err := s.store.FoundItem(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "not_found", "found item not found")
		return
	}
	if err != nil {
		logging.Errorf("get found item %s: %v", id, err)
		respondError(w, http.StatusInternalServerError, "internal", "failed to load found item")
		return
	}
	respondJSON(w, http.StatusOK, item)
}

// requireArchived writes an error and returns false unless the item exists
// and an archive is configured.
func (s *Server) requireArchived(w http.ResponseWriter, r *http.Request, id string) bool {
	if _, err := s.store.FoundItem(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "found item not found")
		} else {
			logging.Errorf("get found item %s: %v", id, err)
			respondError(w, http.StatusInternalServerError, "internal", "failed to load found item")
		}
		return false
	}
	if s.archive == nil {
		respondError(w, http.StatusServiceUnavailable, "archive_disabled", "image archive is not configured")
		return false
	}
	return true
}

func (s *Server) handleSignedImageURL(w http.ResponseWriter, r *http.Request, id string) {
	if !s.requireArchived(w, r, id) {
		return
	}
	path, expires := s.signer.SignedImagePath(id, s.cfg.SignedURLTTL)
	respondJSON(w, http.StatusOK, map[string]string{
		"url":     path,
		"expires": strconv.FormatInt(expires.Unix(), 10),
	})
}

func (s *Server) handleArchivedImage(w http.ResponseWriter, r *http.Request, id string) {
	expires := r.URL.Query().Get("expires")
	signature := r.URL.Query().Get("signature")
	if expires == "" || signature == "" {
		respondError(w, http.StatusBadRequest, "missing_parameters", "expires and signature are required")
		return
	}
	if err := s.signer.Verify(id, expires, signature); err != nil {
		respondError(w, http.StatusUnauthorized, "invalid_link", err.Error())
		return
	}
	if !s.requireArchived(w, r, id) {
		return
	}
	obj, err := s.archive.OpenOriginal(r.Context(), id)
	if errors.Is(err, s3storage.ErrObjectNotFound) {
		respondError(w, http.StatusNotFound, "not_found", "no archived photo for this item")
		return
	}
	if err != nil {
		logging.Errorf("open archived photo %s: %v", id, err)
		respondError(w, http.StatusInternalServerError, "internal", "photo unavailable")
		return
	}
	defer obj.Body.Close()
	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, obj.Body); err != nil {
		logging.Warnf("stream archived photo %s: %v", id, err)
	}
}

func (s *Server) handlePreviewURL(w http.ResponseWriter, r *http.Request, id string) {
	if !s.requireArchived(w, r, id) {
		return
	}
	url, err := s.archive.PresignPreviewURL(r.Context(), id, s.cfg.SignedURLTTL)
	if errors.Is(err, s3storage.ErrObjectNotFound) {
		respondError(w, http.StatusNotFound, "not_found", "preview not available yet")
		return
	}
	if err != nil {
		logging.Errorf("presign preview %s: %v", id, err)
		respondError(w, http.StatusInternalServerError, "internal", "failed to generate url")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"url": url})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Errorf("encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, detail string) {
	respondJSON(w, status, map[string]string{"error": code, "detail": detail})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
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

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logging.Infof("%s %s %d (%s)", r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}

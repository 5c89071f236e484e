package api

import (
	"net/http"
	"strings"

	"github.com/graphsnap/graphsnap/internal/auth"
	"github.com/graphsnap/graphsnap/internal/store"
	"log/slog"
)

// SetupRoutes configures all API routes
func SetupRoutes(mux *http.ServeMux, service *store.Service, authConfig auth.Config, logger *slog.Logger) {
	handler := NewHandler(service, logger)
	authHandler := NewAuthHandler(authConfig, logger)

	// Auth middleware
	authMiddleware := auth.AuthMiddleware(authConfig)

	// Authentication routes (public)
	mux.HandleFunc("/api/auth/login", authHandler.Login)
	mux.HandleFunc("/api/auth/validate", func(w http.ResponseWriter, r *http.Request) {
		authMiddleware(http.HandlerFunc(authHandler.ValidateToken)).ServeHTTP(w, r)
	})

	// Capture ingestion routes (public: the agent posts without credentials)
	mux.HandleFunc("/api/ingest", handler.IngestHandler)
	mux.HandleFunc("/api/page-context", handler.PageContextHandler)

	// Read routes (public)
	mux.HandleFunc("/api/snapshot", handler.SnapshotHandler)
	mux.HandleFunc("/api/badge", handler.BadgeHandler)
	mux.HandleFunc("/api/stats", handler.StatsHandler)
	mux.HandleFunc("/api/record-view", handler.RecordViewHandler)

	// Export routes (require auth)
	mux.HandleFunc("/api/export/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/json"):
			authMiddleware(http.HandlerFunc(handler.ExportJSONHandler)).ServeHTTP(w, r)
		case strings.HasSuffix(r.URL.Path, "/csv"):
			authMiddleware(http.HandlerFunc(handler.ExportCSVHandler)).ServeHTTP(w, r)
		default:
			http.Error(w, "Not found", http.StatusNotFound)
		}
	})

	// Destructive routes (require auth)
	mux.HandleFunc("/api/clear", func(w http.ResponseWriter, r *http.Request) {
		authMiddleware(http.HandlerFunc(handler.ClearHandler)).ServeHTTP(w, r)
	})
}

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"flowplay/internal/auth"
	"flowplay/internal/cache"
	"flowplay/internal/config"
	"flowplay/internal/database"
	"flowplay/internal/metadata"
	"flowplay/internal/playlists"
	"flowplay/internal/storage"
	"flowplay/internal/tracks"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// MusicServer is the FlowPlay HTTP API
type MusicServer struct {
	config    *config.Config
	db        *database.Database
	backend   storage.Backend
	auth      *auth.Service
	tracks    *tracks.Service
	playlists *playlists.Service
	listings  *cache.ListingCache
	logger    *logrus.Logger

	httpServer *http.Server
}

// NewMusicServer wires the services over an open database and storage
// backend. backend is nil when audio is kept inline.
func NewMusicServer(cfg *config.Config, db *database.Database, backend storage.Backend, logger *logrus.Logger) (*MusicServer, error) {
	tokens, err := auth.NewTokenIssuer(cfg.Auth.TokenSecret, cfg.TokenTTL())
	if err != nil {
		return nil, fmt.Errorf("failed to create token issuer: %w", err)
	}

	authService, err := auth.NewService(db, tokens, cfg.Auth.BcryptCost, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth service: %w", err)
	}

	listings := cache.NewListingCache(time.Duration(cfg.Cache.PublicTTLSeconds) * time.Second)

	ms := &MusicServer{
		config:    cfg,
		db:        db,
		backend:   backend,
		auth:      authService,
		tracks:    tracks.NewService(db, backend, metadata.NewExtractor(logger), listings, cfg, logger),
		playlists: playlists.NewService(db, logger),
		listings:  listings,
		logger:    logger,
	}

	ms.httpServer = &http.Server{
		Addr:         cfg.GetAddress(),
		Handler:      ms.Handler(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	return ms, nil
}

// Handler returns the routed handler with middleware applied.
func (ms *MusicServer) Handler() http.Handler {
	router := ms.setupRoutes()

	var handler http.Handler = router
	handler = ms.corsMiddleware(handler)
	handler = ms.requestLoggingMiddleware(handler)
	handler = ms.panicRecoveryMiddleware(handler)
	return handler
}

// Start serves until Shutdown is called.
func (ms *MusicServer) Start() error {
	storageName := "inline"
	if ms.backend != nil {
		storageName = ms.backend.Name()
	}

	ms.logger.WithFields(logrus.Fields{
		"address":  ms.config.GetAddress(),
		"database": string(ms.db.Dialect()),
		"storage":  storageName,
	}).Info("FlowPlay server starting")

	if err := ms.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

func (ms *MusicServer) setupRoutes() *mux.Router {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(ms.handleNotFound)
	router.MethodNotAllowedHandler = http.HandlerFunc(ms.handleMethodNotAllowed)

	router.HandleFunc("/health", ms.handleHealthCheck).Methods(http.MethodGet)

	// Auth and profile
	router.HandleFunc("/auth/register", ms.handleRegister).Methods(http.MethodPost)
	router.HandleFunc("/auth/login", ms.handleLogin).Methods(http.MethodPost)
	router.Handle("/user/profile", ms.requireAuth(ms.handleGetProfile)).Methods(http.MethodGet)
	router.Handle("/user/profile", ms.requireAuth(ms.handleUpdateProfile)).Methods(http.MethodPut)

	// Tracks. Fixed paths must precede /tracks/{id}.
	router.HandleFunc("/tracks/public", ms.handleGetPublicTracks).Methods(http.MethodGet)
	router.Handle("/tracks/my", ms.requireAuth(ms.handleGetMyTracks)).Methods(http.MethodGet)
	router.Handle("/tracks/upload", ms.requireAuth(ms.handleUploadTrack)).Methods(http.MethodPost)
	router.Handle("/tracks/{id}", ms.optionalAuth(ms.handleGetTrack, false)).Methods(http.MethodGet)
	router.Handle("/tracks/{id}", ms.requireAuth(ms.handleUpdateTrack)).Methods(http.MethodPatch)
	router.Handle("/tracks/{id}", ms.requireAuth(ms.handleDeleteTrack)).Methods(http.MethodDelete)
	router.Handle("/tracks/{id}/stream", ms.optionalAuth(ms.handleStreamTrack, true)).Methods(http.MethodGet, http.MethodHead)
	router.Handle("/tracks/{id}/like", ms.requireAuth(ms.handleLikeTrack)).Methods(http.MethodPost)

	// Playlists
	router.Handle("/playlists", ms.requireAuth(ms.handleCreatePlaylist)).Methods(http.MethodPost)
	router.Handle("/playlists/my", ms.requireAuth(ms.handleGetMyPlaylists)).Methods(http.MethodGet)
	router.HandleFunc("/playlists/public", ms.handleGetPublicPlaylists).Methods(http.MethodGet)
	router.Handle("/playlists/{id}", ms.optionalAuth(ms.handleGetPlaylist, false)).Methods(http.MethodGet)
	router.Handle("/playlists/{id}", ms.requireAuth(ms.handleUpdatePlaylist)).Methods(http.MethodPut)
	router.Handle("/playlists/{id}", ms.requireAuth(ms.handleDeletePlaylist)).Methods(http.MethodDelete)
	router.Handle("/playlists/{id}/tracks", ms.requireAuth(ms.handleAddTrackToPlaylist)).Methods(http.MethodPost)
	router.Handle("/playlists/{id}/tracks/{trackId}", ms.requireAuth(ms.handleRemoveTrackFromPlaylist)).Methods(http.MethodDelete)

	return router
}

// Shutdown stops accepting requests, waits for in-flight ones and drains
// background play counting.
func (ms *MusicServer) Shutdown(ctx context.Context) error {
	ms.logger.Info("Shutting down music server...")

	err := ms.httpServer.Shutdown(ctx)
	ms.tracks.Wait()
	ms.listings.Close()

	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	ms.logger.Info("Music server shutdown complete")
	return nil
}

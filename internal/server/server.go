// Package server exposes the composition repository, audio assets,
// render jobs and the server-side player over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/satindergrewal/whitenoise/internal/assets"
	"github.com/satindergrewal/whitenoise/internal/composer"
	"github.com/satindergrewal/whitenoise/internal/render"
	"github.com/satindergrewal/whitenoise/internal/repository"
	"github.com/satindergrewal/whitenoise/internal/transport"
)

// Deps are the collaborators behind the routes. Nil optional fields
// disable their routes with 503.
type Deps struct {
	Repo     repository.Repository
	Library  *repository.Library
	Audio    assets.Source
	Player   *transport.Transport
	Renderer *render.Service
	// RenderDir is served under /renders/.
	RenderDir string
	Composer  *composer.Generator
	Store     composer.Saver
	Hub       *Hub
	MP3       http.Handler
	WebRTC    http.Handler
}

// Server is the HTTP surface.
type Server struct {
	deps   Deps
	log    *zap.Logger
	router *mux.Router
}

// New builds the router.
func New(d Deps, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{deps: d, log: log, router: mux.NewRouter()}
	s.routes()
	return s
}

// Handler returns the root handler. CORS wraps the router so preflight
// requests are answered before method matching.
func (s *Server) Handler() http.Handler {
	return cors(s.router)
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.logRequests)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/compositions", s.listCompositions).Methods(http.MethodGet)
	api.HandleFunc("/compositions/{id}", s.getComposition).Methods(http.MethodGet)
	api.HandleFunc("/compositions/{id}/render", s.startRender).Methods(http.MethodPost)
	api.HandleFunc("/compositions/{id}/render/status", s.renderStatus).Methods(http.MethodGet)
	api.HandleFunc("/sounds", s.listSounds).Methods(http.MethodGet)
	api.HandleFunc("/compose", s.compose).Methods(http.MethodPost)

	player := api.PathPrefix("/player").Subrouter()
	player.HandleFunc("/status", s.playerStatus).Methods(http.MethodGet)
	player.HandleFunc("/play", s.playerPlay).Methods(http.MethodPost)
	player.HandleFunc("/pause", s.playerCommand(func(p *transport.Transport) error { p.Pause(); return nil })).Methods(http.MethodPost)
	player.HandleFunc("/stop", s.playerCommand(func(p *transport.Transport) error { p.Stop(); return nil })).Methods(http.MethodPost)
	player.HandleFunc("/restart", s.playerCommand((*transport.Transport).Restart)).Methods(http.MethodPost)
	player.HandleFunc("/close", s.playerCommand(func(p *transport.Transport) error { p.Close(); return nil })).Methods(http.MethodPost)
	player.HandleFunc("/toggle", s.playerToggle).Methods(http.MethodPost)
	player.HandleFunc("/seek", s.playerSeek).Methods(http.MethodPost)
	player.HandleFunc("/volume", s.playerVolume).Methods(http.MethodPost)
	player.HandleFunc("/load", s.playerLoad).Methods(http.MethodPost)

	r.HandleFunc("/audio/{filename}", s.serveAudio).Methods(http.MethodGet, http.MethodHead)
	if s.deps.RenderDir != "" {
		r.PathPrefix("/renders/").Handler(http.StripPrefix("/renders/", http.FileServer(http.Dir(s.deps.RenderDir))))
	}
	if s.deps.Hub != nil {
		r.Handle("/ws", s.deps.Hub)
	}
	if s.deps.MP3 != nil {
		r.Handle("/stream", s.deps.MP3).Methods(http.MethodGet)
	}
	if s.deps.WebRTC != nil {
		r.Handle("/offer", s.deps.WebRTC).Methods(http.MethodPost, http.MethodOptions)
	}
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
		// No WriteTimeout: /stream and /ws are long-lived. Their request
		// contexts end with ctx so Shutdown can drain them.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if s.deps.Hub != nil {
		s.deps.Hub.Close()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS, HEAD")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Range")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("took", time.Since(start)))
	})
}

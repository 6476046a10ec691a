package server

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/satindergrewal/whitenoise/internal/audio"
	"github.com/satindergrewal/whitenoise/internal/repository"
	"github.com/satindergrewal/whitenoise/internal/transport"
)

// playerError maps transport failures to HTTP statuses.
func (s *Server) playerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, transport.ErrNoComposition):
		fail(w, http.StatusConflict, err.Error())
	case errors.Is(err, repository.ErrNotFound):
		fail(w, http.StatusNotFound, err.Error())
	case errors.Is(err, audio.ErrEngineUnavailable):
		s.log.Error("player engine unavailable", zap.Error(err))
		fail(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.log.Warn("player command failed", zap.Error(err))
		fail(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) player(w http.ResponseWriter) (*transport.Transport, bool) {
	if s.deps.Player == nil {
		unavailable(w, "player")
		return nil, false
	}
	return s.deps.Player, true
}

// commandContext outlives the request: a play started by a client that
// disconnects mid-preload still completes.
func commandContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func (s *Server) playerStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := s.player(w)
	if !ok {
		return
	}
	writeData(w, p.Status())
}

func (s *Server) playerCommand(fn func(*transport.Transport) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := s.player(w)
		if !ok {
			return
		}
		if err := fn(p); err != nil {
			s.playerError(w, err)
			return
		}
		writeData(w, p.Status())
	}
}

func (s *Server) playerPlay(w http.ResponseWriter, r *http.Request) {
	p, ok := s.player(w)
	if !ok {
		return
	}
	if err := p.Play(commandContext(r)); err != nil {
		s.playerError(w, err)
		return
	}
	writeData(w, p.Status())
}

func (s *Server) playerToggle(w http.ResponseWriter, r *http.Request) {
	p, ok := s.player(w)
	if !ok {
		return
	}
	if err := p.Toggle(commandContext(r)); err != nil {
		s.playerError(w, err)
		return
	}
	writeData(w, p.Status())
}

func (s *Server) playerSeek(w http.ResponseWriter, r *http.Request) {
	p, ok := s.player(w)
	if !ok {
		return
	}
	var req struct {
		Position *float64 `json:"position"`
	}
	if err := decodeBody(r, &req); err != nil || req.Position == nil {
		fail(w, http.StatusBadRequest, "position required")
		return
	}
	if err := p.Seek(*req.Position); err != nil {
		s.playerError(w, err)
		return
	}
	writeData(w, p.Status())
}

func (s *Server) playerVolume(w http.ResponseWriter, r *http.Request) {
	p, ok := s.player(w)
	if !ok {
		return
	}
	var req struct {
		Volume *float64 `json:"volume"`
	}
	if err := decodeBody(r, &req); err != nil || req.Volume == nil {
		fail(w, http.StatusBadRequest, "volume required")
		return
	}
	p.SetMasterVolume(*req.Volume)
	writeData(w, p.Status())
}

func (s *Server) playerLoad(w http.ResponseWriter, r *http.Request) {
	p, ok := s.player(w)
	if !ok {
		return
	}
	var req struct {
		ID string `json:"id"`
	}
	if err := decodeBody(r, &req); err != nil || req.ID == "" {
		fail(w, http.StatusBadRequest, "id required")
		return
	}
	if err := p.LoadAndPlay(commandContext(r), req.ID); err != nil {
		s.playerError(w, err)
		return
	}
	writeData(w, p.Status())
}

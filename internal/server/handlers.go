package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/satindergrewal/whitenoise/internal/assets"
	"github.com/satindergrewal/whitenoise/internal/composer"
	"github.com/satindergrewal/whitenoise/internal/render"
	"github.com/satindergrewal/whitenoise/internal/repository"
	"github.com/satindergrewal/whitenoise/internal/timeline"
)

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func fail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Error: msg})
}

func unavailable(w http.ResponseWriter, what string) {
	fail(w, http.StatusServiceUnavailable, what+" not configured")
}

// decodeBody reads an optional JSON body into v. An empty body is fine.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *Server) listCompositions(w http.ResponseWriter, r *http.Request) {
	if s.deps.Repo == nil {
		unavailable(w, "repository")
		return
	}
	list, err := s.deps.Repo.List(r.Context())
	if err != nil {
		s.log.Error("list compositions", zap.Error(err))
		fail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, list)
}

func (s *Server) getComposition(w http.ResponseWriter, r *http.Request) {
	if s.deps.Repo == nil {
		unavailable(w, "repository")
		return
	}
	id := mux.Vars(r)["id"]
	comp, err := s.deps.Repo.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			fail(w, http.StatusNotFound, err.Error())
			return
		}
		s.log.Warn("get composition", zap.String("id", id), zap.Error(err))
		fail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, timeline.NewDocument(comp))
}

func (s *Server) startRender(w http.ResponseWriter, r *http.Request) {
	if s.deps.Renderer == nil {
		writeJSON(w, http.StatusServiceUnavailable, repository.RenderResult{Success: repository.Bool(false), Error: "render not configured"})
		return
	}
	id := mux.Vars(r)["id"]
	var req struct {
		Force bool `json:"force"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, repository.RenderResult{Success: repository.Bool(false), Error: "invalid request body"})
		return
	}
	if f, err := strconv.ParseBool(r.URL.Query().Get("force")); err == nil {
		req.Force = f
	}

	res, err := s.deps.Renderer.Start(r.Context(), id, req.Force)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repository.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, repository.RenderResult{Success: repository.Bool(false), Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) renderStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Renderer == nil {
		writeJSON(w, http.StatusServiceUnavailable, repository.RenderResult{Success: repository.Bool(false), Error: "render not configured"})
		return
	}
	res, err := s.deps.Renderer.Status(mux.Vars(r)["id"])
	if errors.Is(err, render.ErrNoJob) {
		writeJSON(w, http.StatusNotFound, repository.RenderResult{Success: repository.Bool(false), Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) listSounds(w http.ResponseWriter, r *http.Request) {
	if s.deps.Library == nil {
		unavailable(w, "sound library")
		return
	}
	writeData(w, s.deps.Library)
}

type composeResponse struct {
	ID          string            `json:"id"`
	Composition timeline.Document `json:"composition"`
	YAML        string            `json:"yaml_content"`
	Path        string            `json:"path,omitempty"`
}

func (s *Server) compose(w http.ResponseWriter, r *http.Request) {
	if s.deps.Composer == nil {
		unavailable(w, "composer")
		return
	}
	var req struct {
		Scene string `json:"scene"`
		Save  bool   `json:"save"`
	}
	if err := decodeBody(r, &req); err != nil {
		fail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := s.deps.Composer.Generate(r.Context(), req.Scene)
	if err != nil {
		var inv *composer.InvalidError
		switch {
		case errors.Is(err, composer.ErrEmptyScene):
			fail(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &inv):
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"success":      false,
				"error":        inv.Error(),
				"raw_response": inv.Raw,
			})
		case errors.Is(err, composer.ErrNoYAML):
			fail(w, http.StatusUnprocessableEntity, err.Error())
		default:
			s.log.Error("compose", zap.Error(err))
			fail(w, http.StatusBadGateway, err.Error())
		}
		return
	}

	out := composeResponse{ID: res.ID, Composition: timeline.NewDocument(res.Composition), YAML: res.YAML}
	if req.Save && s.deps.Store != nil {
		path, err := composer.Save(s.deps.Store, res)
		if err != nil {
			s.log.Error("save composition", zap.String("id", res.ID), zap.Error(err))
			fail(w, http.StatusInternalServerError, err.Error())
			return
		}
		out.Path = path
	}
	writeData(w, out)
}

func (s *Server) serveAudio(w http.ResponseWriter, r *http.Request) {
	if s.deps.Audio == nil {
		unavailable(w, "audio source")
		return
	}
	name := mux.Vars(r)["filename"]
	data, err := s.deps.Audio.Fetch(r.Context(), name)
	if err != nil {
		if errors.Is(err, assets.ErrNotFound) {
			http.Error(w, "audio not found", http.StatusNotFound)
			return
		}
		s.log.Warn("serve audio", zap.String("ref", name), zap.Error(err))
		http.Error(w, "audio unavailable", http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", audioType(name))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	http.ServeContent(w, r, name, time.Time{}, bytes.NewReader(data))
}

var audioTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",
	".m4a":  "audio/mp4",
}

func audioType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if t, ok := audioTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

package stream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os/exec"

	"go.uber.org/zap"

	"github.com/satindergrewal/whitenoise/internal/audio"
)

// MP3Config configures the HTTP stream encoder.
type MP3Config struct {
	FFmpegPath string // "ffmpeg" when empty
	Bitrate    string // e.g. "192k"
	Name       string // ICY station name
}

// HTTPHandler serves a chunked MP3 audio stream via HTTP.
// Each connection spawns an FFmpeg process to encode PCM -> MP3 in real-time.
type HTTPHandler struct {
	broadcaster *Broadcaster
	cfg         MP3Config
	log         *zap.Logger

	// command builds the encoder process; replaced in tests.
	command func(ctx context.Context) *exec.Cmd
}

// NewHTTPHandler creates an HTTP stream handler.
func NewHTTPHandler(b *Broadcaster, cfg MP3Config, log *zap.Logger) *HTTPHandler {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.Bitrate == "" {
		cfg.Bitrate = "192k"
	}
	if cfg.Name == "" {
		cfg.Name = "whitenoise"
	}
	if log == nil {
		log = zap.NewNop()
	}
	h := &HTTPHandler{broadcaster: b, cfg: cfg, log: log}
	h.command = h.ffmpeg
	return h
}

func (h *HTTPHandler) ffmpeg(ctx context.Context) *exec.Cmd {
	// PCM stdin -> MP3 stdout
	return exec.CommandContext(ctx, h.cfg.FFmpegPath,
		"-f", "s16le",
		"-ar", "48000",
		"-ac", "2",
		"-i", "pipe:0",
		"-codec:a", "libmp3lame",
		"-b:a", h.cfg.Bitrate,
		"-f", "mp3",
		"-fflags", "nobuffer",
		"-flush_packets", "1",
		"-loglevel", "error",
		"pipe:1",
	)
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	cmd := h.command(ctx)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		h.log.Error("mp3 stream: stdin pipe", zap.Error(err))
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		h.log.Error("mp3 stream: stdout pipe", zap.Error(err))
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}
	if err := cmd.Start(); err != nil {
		h.log.Error("mp3 stream: encoder start", zap.String("path", cmd.Path), zap.Error(err))
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("ICY-Name", h.cfg.Name)

	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener)

	h.log.Info("mp3 listener connected",
		zap.String("remote", r.RemoteAddr),
		zap.Int("listeners", h.broadcaster.ListenerCount()))
	defer func() {
		h.log.Info("mp3 listener disconnected",
			zap.String("remote", r.RemoteAddr),
			zap.Int64("dropped", listener.Dropped()))
	}()

	go feed(ctx, listener, stdin)

	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				break
			}
			flusher.Flush()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				h.log.Warn("mp3 stream: encoder read", zap.Error(err))
			}
			break
		}
	}

	cancel()
	cmd.Wait()
}

// feed writes the listener's frames to the encoder as s16le until the
// listener or ctx ends.
func feed(ctx context.Context, l *Listener, w io.WriteCloser) {
	defer w.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.Done():
			return
		case frame, ok := <-l.C:
			if !ok {
				return
			}
			if _, err := w.Write(audio.SamplesToBytes(frame)); err != nil {
				return
			}
		}
	}
}

package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"go.uber.org/zap"
	"gopkg.in/hraban/opus.v2"

	"github.com/satindergrewal/whitenoise/internal/audio"
)

// opusBitrate is the encoder target in bits per second.
const opusBitrate = 128000

// WebRTCHandler answers SDP offers on /offer and streams the mixer output
// to each peer as Opus.
type WebRTCHandler struct {
	broadcaster *Broadcaster
	log         *zap.Logger
	config      webrtc.Configuration

	mu    sync.Mutex
	peers map[*webrtc.PeerConnection]*Listener
}

// NewWebRTCHandler creates a WebRTC stream handler. iceServers may be
// empty for LAN use.
func NewWebRTCHandler(b *Broadcaster, iceServers []string, log *zap.Logger) *WebRTCHandler {
	if log == nil {
		log = zap.NewNop()
	}
	cfg := webrtc.Configuration{}
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return &WebRTCHandler{
		broadcaster: b,
		log:         log,
		config:      cfg,
		peers:       make(map[*webrtc.PeerConnection]*Listener),
	}
}

// PeerCount returns the number of active WebRTC peers.
func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// negotiateError carries the HTTP status for a failed negotiation step.
type negotiateError struct {
	status int
	step   string
	err    error
}

func (e *negotiateError) Error() string { return fmt.Sprintf("%s: %v", e.step, e.err) }

func (h *WebRTCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodPost:
	default:
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil || offer.SDP == "" {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	pc, track, err := h.negotiate(offer)
	if err != nil {
		var ne *negotiateError
		if !errors.As(err, &ne) {
			ne = &negotiateError{http.StatusInternalServerError, "negotiate", err}
		}
		h.log.Warn("webrtc negotiation failed", zap.String("step", ne.step), zap.Error(ne.err))
		http.Error(w, ne.step+" failed", ne.status)
		return
	}

	select {
	case <-webrtc.GatheringCompletePromise(pc):
	case <-r.Context().Done():
		pc.Close()
		return
	}

	l := h.addPeer(pc)
	h.log.Info("webrtc peer connected", zap.String("remote", r.RemoteAddr), zap.Int("peers", h.PeerCount()))
	go h.streamToPeer(l, track)

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed,
			webrtc.PeerConnectionStateDisconnected:
			if h.removePeer(pc) {
				pc.Close()
				h.log.Info("webrtc peer disconnected", zap.Stringer("state", s), zap.Int("peers", h.PeerCount()))
			}
		}
	})

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	json.NewEncoder(w).Encode(pc.LocalDescription())
}

// negotiate builds a peer with one Opus track and sets the local answer.
// Gathering may still be running when it returns. On error the peer is
// already closed and the error is a *negotiateError.
func (h *WebRTCHandler) negotiate(offer webrtc.SessionDescription) (*webrtc.PeerConnection, *webrtc.TrackLocalStaticSample, error) {
	pc, err := webrtc.NewPeerConnection(h.config)
	if err != nil {
		return nil, nil, &negotiateError{http.StatusInternalServerError, "create peer connection", err}
	}
	fail := func(status int, step string, err error) (*webrtc.PeerConnection, *webrtc.TrackLocalStaticSample, error) {
		pc.Close()
		return nil, nil, &negotiateError{status, step, err}
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: audio.SampleRate, Channels: audio.Channels},
		"audio",
		"whitenoise",
	)
	if err != nil {
		return fail(http.StatusInternalServerError, "create audio track", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		return fail(http.StatusInternalServerError, "add track", err)
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		return fail(http.StatusBadRequest, "set remote description", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fail(http.StatusInternalServerError, "create answer", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return fail(http.StatusInternalServerError, "set local description", err)
	}
	return pc, track, nil
}

// Close hangs up every peer.
func (h *WebRTCHandler) Close() {
	h.mu.Lock()
	peers := h.peers
	h.peers = make(map[*webrtc.PeerConnection]*Listener)
	h.mu.Unlock()
	for pc, l := range peers {
		h.broadcaster.Unsubscribe(l)
		pc.Close()
	}
}

func (h *WebRTCHandler) addPeer(pc *webrtc.PeerConnection) *Listener {
	l := h.broadcaster.Subscribe()
	h.mu.Lock()
	h.peers[pc] = l
	h.mu.Unlock()
	return l
}

// removePeer drops pc and its listener. It reports whether pc was still
// registered.
func (h *WebRTCHandler) removePeer(pc *webrtc.PeerConnection) bool {
	h.mu.Lock()
	l, ok := h.peers[pc]
	delete(h.peers, pc)
	h.mu.Unlock()
	if ok {
		h.broadcaster.Unsubscribe(l)
	}
	return ok
}

// streamToPeer encodes each 20ms frame and writes it to the track until
// the listener is unsubscribed or the track fails.
func (h *WebRTCHandler) streamToPeer(l *Listener, track *webrtc.TrackLocalStaticSample) {
	defer h.broadcaster.Unsubscribe(l)

	enc, err := opus.NewEncoder(audio.SampleRate, audio.Channels, opus.AppAudio)
	if err != nil {
		h.log.Error("opus encoder", zap.Error(err))
		return
	}
	if err := enc.SetBitrate(opusBitrate); err != nil {
		h.log.Warn("opus bitrate", zap.Int("bitrate", opusBitrate), zap.Error(err))
	}

	packet := make([]byte, 4000)
	for {
		select {
		case <-l.Done():
			return
		case frame, ok := <-l.C:
			if !ok {
				return
			}
			n, err := enc.Encode(frame, packet)
			if err != nil {
				h.log.Warn("opus encode", zap.Error(err))
				continue
			}
			if err := track.WriteSample(media.Sample{Data: packet[:n], Duration: audio.FrameDuration}); err != nil {
				return
			}
		}
	}
}

package audio

import (
	"context"
	"errors"
)

var (
	// ErrEngineUnavailable means the audio engine cannot be constructed or
	// resumed. Callers treat it as fatal for the session.
	ErrEngineUnavailable = errors.New("audio engine unavailable")
	// ErrVoiceStarted is returned when a voice is started a second time.
	ErrVoiceStarted = errors.New("voice already started")
	// ErrEngineClosed is returned by operations on a closed engine.
	ErrEngineClosed = errors.New("audio engine closed")
)

// EngineState is the lifecycle state of an Engine.
type EngineState int

const (
	Suspended EngineState = iota
	Running
	Closed
)

func (s EngineState) String() string {
	switch s {
	case Suspended:
		return "suspended"
	case Running:
		return "running"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Engine is the audio rendering backend. Its clock is monotonic and only
// advances while running.
type Engine interface {
	Now() float64
	State() EngineState
	Resume(ctx context.Context) error
	Suspend(ctx context.Context) error
	Master() *Envelope
	NewVoice(buf *Buffer) (Voice, error)
}

// Voice is a one-shot source playing one buffer through its own gain stage.
// It can be started once; a stopped voice cannot be restarted.
type Voice interface {
	Gain() *Envelope
	SetLoop(loop bool)
	// Start schedules playback at engine time when, from offset seconds into
	// the buffer. A negative duration plays until stopped or, without loop,
	// until the buffer ends.
	Start(when, offset, duration float64) error
	// Stop schedules the end of playback. Stopping an unstarted or finished
	// voice is harmless.
	Stop(when float64) error
	Disconnect()
}

// Package audiotest provides a recording audio.Engine with a manual clock.
package audiotest

import (
	"context"
	"math"
	"sync"

	"github.com/satindergrewal/whitenoise/internal/audio"
)

// Engine records every voice it creates. Its clock only moves when the
// test calls Advance or SetNow.
type Engine struct {
	mu     sync.Mutex
	now    float64
	state  audio.EngineState
	master *audio.Envelope
	voices []*Voice

	// ResumeErr, when set, is returned by Resume.
	ResumeErr error
	// StopErr, when set, is returned by every voice's Stop.
	StopErr     error
	resumeCalls int
}

// New returns a suspended engine at time 0.
func New() *Engine {
	return &Engine{state: audio.Suspended, master: audio.NewEnvelope(1)}
}

func (e *Engine) Now() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

// Advance moves the clock forward by d seconds.
func (e *Engine) Advance(d float64) {
	e.mu.Lock()
	e.now += d
	e.mu.Unlock()
}

// SetNow sets the clock.
func (e *Engine) SetNow(t float64) {
	e.mu.Lock()
	e.now = t
	e.mu.Unlock()
}

func (e *Engine) State() audio.EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) Resume(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resumeCalls++
	if e.ResumeErr != nil {
		return e.ResumeErr
	}
	e.state = audio.Running
	return nil
}

func (e *Engine) Suspend(ctx context.Context) error {
	e.mu.Lock()
	e.state = audio.Suspended
	e.mu.Unlock()
	return nil
}

// ResumeCalls counts calls to Resume.
func (e *Engine) ResumeCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resumeCalls
}

func (e *Engine) Master() *audio.Envelope {
	return e.master
}

func (e *Engine) NewVoice(buf *audio.Buffer) (audio.Voice, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v := &Voice{engine: e, Buffer: buf, gain: audio.NewEnvelope(1), stopAt: math.Inf(1), duration: -1}
	e.voices = append(e.voices, v)
	return v, nil
}

// Voices returns every voice created so far, in creation order.
func (e *Engine) Voices() []*Voice {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Voice, len(e.voices))
	copy(out, e.voices)
	return out
}

// Live returns the started voices that are neither disconnected nor
// stopped at or before the current time.
func (e *Engine) Live() []*Voice {
	now := e.Now()
	var live []*Voice
	for _, v := range e.Voices() {
		s := v.Snapshot()
		if s.Started && !s.Disconnected && s.StopAt > now {
			live = append(live, v)
		}
	}
	return live
}

// Reset forgets recorded voices.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.voices = nil
	e.mu.Unlock()
}

// Voice records the calls made on it.
type Voice struct {
	engine *Engine
	Buffer *audio.Buffer
	gain   *audio.Envelope

	mu           sync.Mutex
	loop         bool
	started      bool
	disconnected bool
	when         float64
	offset       float64
	duration     float64
	stopAt       float64
	stopCalls    int
}

// VoiceState is a copy of a voice's recorded calls.
type VoiceState struct {
	Loop         bool
	Started      bool
	Disconnected bool
	When         float64
	Offset       float64
	Duration     float64 // -1 when started without a length
	StopAt       float64 // +Inf when never stopped
	StopCalls    int
	Gain         []audio.Event
}

func (v *Voice) Gain() *audio.Envelope { return v.gain }

func (v *Voice) SetLoop(loop bool) {
	v.mu.Lock()
	v.loop = loop
	v.mu.Unlock()
}

func (v *Voice) Start(when, offset, duration float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.started {
		return audio.ErrVoiceStarted
	}
	v.started = true
	v.when, v.offset, v.duration = when, offset, duration
	return nil
}

func (v *Voice) Stop(when float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stopCalls++
	if v.started && when < v.stopAt {
		v.stopAt = when
	}
	return v.engine.StopErr
}

func (v *Voice) Disconnect() {
	v.mu.Lock()
	v.disconnected = true
	v.mu.Unlock()
}

// Snapshot copies the recorded state.
func (v *Voice) Snapshot() VoiceState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return VoiceState{
		Loop:         v.loop,
		Started:      v.started,
		Disconnected: v.disconnected,
		When:         v.when,
		Offset:       v.offset,
		Duration:     v.duration,
		StopAt:       v.stopAt,
		StopCalls:    v.stopCalls,
		Gain:         v.gain.Events(),
	}
}

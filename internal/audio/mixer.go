package audio

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Mixer is a software Engine. In real-time mode Run renders one 20ms stereo
// frame per tick and publishes it on Frames; offline, RenderFrames drives
// the same mixing code as fast as the caller wants. The audio clock is the
// number of rendered frames times FrameSeconds, so it stands still while the
// mixer is suspended.
type Mixer struct {
	frameCh chan []int16
	master  *Envelope
	log     *zap.Logger

	mu     sync.Mutex
	state  EngineState
	frames int64
	voices []*mixVoice
}

// NewMixer creates a suspended mixer with master gain 1.
func NewMixer(log *zap.Logger) *Mixer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Mixer{
		frameCh: make(chan []int16, 100),
		master:  NewEnvelope(1),
		log:     log,
		state:   Suspended,
	}
}

// Frames returns the channel of rendered PCM frames (20ms each). It is
// closed when Run returns.
func (m *Mixer) Frames() <-chan []int16 {
	return m.frameCh
}

func (m *Mixer) Now() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return float64(m.frames) * FrameSeconds
}

func (m *Mixer) State() EngineState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Mixer) Resume(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Closed {
		return ErrEngineClosed
	}
	m.state = Running
	return nil
}

func (m *Mixer) Suspend(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Closed {
		return ErrEngineClosed
	}
	m.state = Suspended
	return nil
}

// Close stops rendering for good and drops every voice.
func (m *Mixer) Close() {
	m.mu.Lock()
	m.state = Closed
	m.voices = nil
	m.mu.Unlock()
}

func (m *Mixer) Master() *Envelope {
	return m.master
}

func (m *Mixer) NewVoice(buf *Buffer) (Voice, error) {
	if buf == nil || buf.Frames() == 0 {
		return nil, errors.New("new voice: empty buffer")
	}
	if m.State() == Closed {
		return nil, ErrEngineClosed
	}
	return &mixVoice{m: m, buf: buf, gain: NewEnvelope(1), end: math.Inf(1)}, nil
}

// VoiceCount returns the number of started voices still sounding or
// waiting to sound.
func (m *Mixer) VoiceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.voices)
}

// Run renders frames at real-time rate until ctx is cancelled. While
// suspended it emits silence so downstream encoders keep their pacing.
func (m *Mixer) Run(ctx context.Context) {
	defer close(m.frameCh)

	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	m.log.Info("mixer started", zap.Int("sample_rate", SampleRate), zap.Duration("frame", FrameDuration))
	for {
		select {
		case <-ctx.Done():
			m.log.Info("mixer stopped", zap.Float64("clock", m.Now()))
			return
		case <-ticker.C:
		}

		var frame []int16
		switch m.State() {
		case Running:
			frame = m.renderFrame()
		case Closed:
			return
		default:
			frame = make([]int16, FrameSamples)
		}

		select {
		case m.frameCh <- frame:
		case <-ctx.Done():
			return
		}
	}
}

// RenderFrames renders n frames back to back, regardless of suspension,
// and returns them interleaved.
func (m *Mixer) RenderFrames(n int) []int16 {
	out := make([]int16, 0, n*FrameSamples)
	for i := 0; i < n; i++ {
		out = append(out, m.renderFrame()...)
	}
	return out
}

func (m *Mixer) renderFrame() []int16 {
	m.mu.Lock()
	start := float64(m.frames) * FrameSeconds
	voices := make([]*mixVoice, len(m.voices))
	copy(voices, m.voices)
	m.mu.Unlock()

	mix := make([]float64, FrameSamples)
	for _, v := range voices {
		v.mixInto(mix, start)
	}

	out := make([]int16, FrameSamples)
	for i := 0; i < FrameSize; i++ {
		g := m.master.ValueAt(start + float64(i)/SampleRate)
		for ch := 0; ch < Channels; ch++ {
			out[i*Channels+ch] = toInt16(mix[i*Channels+ch] * g)
		}
	}

	end := start + FrameSeconds
	m.mu.Lock()
	m.frames++
	alive := m.voices[:0]
	for _, v := range m.voices {
		if !v.finished(end) {
			alive = append(alive, v)
		}
	}
	for i := len(alive); i < len(m.voices); i++ {
		m.voices[i] = nil
	}
	m.voices = alive
	m.mu.Unlock()

	m.master.Prune(start)
	return out
}

func (m *Mixer) add(v *mixVoice) {
	m.mu.Lock()
	if m.state != Closed {
		m.voices = append(m.voices, v)
	}
	m.mu.Unlock()
}

func toInt16(s float64) int16 {
	s *= 32767
	if s > 32767 {
		return 32767
	}
	if s < -32768 {
		return -32768
	}
	return int16(s)
}

type mixVoice struct {
	m    *Mixer
	buf  *Buffer
	gain *Envelope

	mu           sync.Mutex
	loop         bool
	started      bool
	disconnected bool
	when         float64
	offset       float64
	end          float64
}

func (v *mixVoice) Gain() *Envelope { return v.gain }

func (v *mixVoice) SetLoop(loop bool) {
	v.mu.Lock()
	v.loop = loop
	v.mu.Unlock()
}

func (v *mixVoice) Start(when, offset, duration float64) error {
	v.mu.Lock()
	if v.started {
		v.mu.Unlock()
		return ErrVoiceStarted
	}
	v.started = true
	v.when = when
	v.offset = math.Max(offset, 0)
	if duration >= 0 {
		v.end = when + duration
	}
	v.mu.Unlock()

	v.m.add(v)
	return nil
}

func (v *mixVoice) Stop(when float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.started && when < v.end {
		v.end = when
	}
	return nil
}

func (v *mixVoice) Disconnect() {
	v.mu.Lock()
	v.disconnected = true
	v.mu.Unlock()
}

// mixInto adds the voice's contribution to one frame starting at engine
// time start.
func (v *mixVoice) mixInto(mix []float64, start float64) {
	v.mu.Lock()
	loop, when, offset, end, gone := v.loop, v.when, v.offset, v.end, v.disconnected
	v.mu.Unlock()
	if gone {
		return
	}

	dur := v.buf.Duration()
	for i := 0; i < FrameSize; i++ {
		t := start + float64(i)/SampleRate
		if t < when || t >= end {
			continue
		}
		pos := offset + (t - when)
		if loop {
			pos = math.Mod(pos, dur)
		} else if pos >= dur {
			break
		}
		g := v.gain.ValueAt(t)
		if g == 0 {
			continue
		}
		for ch := 0; ch < Channels; ch++ {
			mix[i*Channels+ch] += float64(v.buf.At(ch, pos)) * g
		}
	}
}

// finished reports whether the voice can no longer sound at or after t.
func (v *mixVoice) finished(t float64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.disconnected || t >= v.end {
		return true
	}
	return !v.loop && t > v.when && v.offset+(t-v.when) >= v.buf.Duration()
}

package audio

import (
	"context"
	"fmt"
	"sync"
)

// Graph owns the engine's single output gain stage and its suspend/resume
// lifecycle.
type Graph struct {
	engine Engine

	mu     sync.Mutex
	volume float64
}

// NewGraph wraps e, applying the initial master volume.
func NewGraph(e Engine, volume float64) *Graph {
	g := &Graph{engine: e}
	g.SetMasterVolume(volume)
	return g
}

// Engine returns the underlying engine.
func (g *Graph) Engine() Engine {
	return g.engine
}

// Now is the engine's audio clock.
func (g *Graph) Now() float64 {
	return g.engine.Now()
}

// SetMasterVolume clamps v to [0,1] and applies it at the current audio
// clock time, without a ramp.
func (g *Graph) SetMasterVolume(v float64) {
	v = clamp01(v)
	g.mu.Lock()
	g.volume = v
	g.mu.Unlock()
	g.engine.Master().SetValueAtTime(v, g.engine.Now())
}

// MasterVolume returns the last volume set.
func (g *Graph) MasterVolume() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.volume
}

// ResumeIfSuspended resumes a suspended engine. Calling it on a running
// engine does nothing.
func (g *Graph) ResumeIfSuspended(ctx context.Context) error {
	switch g.engine.State() {
	case Running:
		return nil
	case Closed:
		return fmt.Errorf("%w: %w", ErrEngineUnavailable, ErrEngineClosed)
	}
	if err := g.engine.Resume(ctx); err != nil {
		return fmt.Errorf("%w: resume: %w", ErrEngineUnavailable, err)
	}
	return nil
}

func clamp01(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

package schedule

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/satindergrewal/whitenoise/internal/audio"
	"github.com/satindergrewal/whitenoise/internal/timeline"
)

// Buffers is the part of the asset cache the scheduler needs.
type Buffers interface {
	// Lookup returns an already-decoded buffer without blocking.
	Lookup(ref string) (*audio.Buffer, bool)
	Preload(ctx context.Context, refs []string) error
}

// Instance is one live, scheduled playback of a clip.
type Instance struct {
	Plan       Plan
	Generation uint64
	voice      audio.Voice
}

// Scheduler owns the current generation of instances. At most one
// generation is live: Build tears down the previous one before starting
// anything new.
type Scheduler struct {
	engine  audio.Engine
	buffers Buffers
	log     *zap.Logger

	mu         sync.Mutex
	generation uint64
	live       []*Instance
}

// New creates a scheduler over engine, reading buffers from b.
func New(engine audio.Engine, b Buffers, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{engine: engine, buffers: b, log: log}
}

// Preload fetches every buffer c refers to. Failures are per ref and
// never prevent the others from loading.
func (s *Scheduler) Preload(ctx context.Context, c *timeline.Composition) error {
	return s.buffers.Preload(ctx, c.Refs())
}

// Build replaces the live generation with a schedule for c positioned at
// elapsed seconds, where ref is the audio-clock time that position maps
// to. Clips whose buffer is not loaded are skipped silently apart from a
// log line. The returned error aggregates per-clip engine failures; the
// clips that succeeded are still playing.
func (s *Scheduler) Build(c *timeline.Composition, elapsed, ref float64) ([]Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.generation++
	gen := s.generation

	var (
		plans []Plan
		errs  error
	)
	for i, clip := range c.Clips {
		buf, ok := s.buffers.Lookup(clip.Audio)
		if !ok {
			if elapsed < clip.End {
				s.log.Warn("clip skipped, audio not loaded",
					zap.Int("clip", i+1), zap.String("ref", clip.Audio))
			}
			continue
		}
		p, ok := PlanClip(clip, buf.Duration(), elapsed, ref)
		if !ok {
			continue
		}

		v, err := s.engine.NewVoice(buf)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("clip %d (%s): %w", i+1, clip.Audio, err))
			continue
		}
		if err := p.Apply(v); err != nil {
			v.Disconnect()
			errs = multierr.Append(errs, fmt.Errorf("clip %d (%s): %w", i+1, clip.Audio, err))
			continue
		}
		s.live = append(s.live, &Instance{Plan: p, Generation: gen, voice: v})
		plans = append(plans, p)
	}

	s.log.Debug("schedule built",
		zap.Uint64("generation", gen),
		zap.Float64("elapsed", elapsed),
		zap.Float64("ref", ref),
		zap.Int("instances", len(plans)))
	return plans, errs
}

// StopAll stops and disconnects every live instance. It is idempotent and
// never fails; a voice that refuses to stop is logged and dropped anyway.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	if len(s.live) == 0 {
		return
	}
	now := s.engine.Now()
	for _, inst := range s.live {
		if err := inst.voice.Stop(now); err != nil {
			s.log.Debug("stop instance", zap.String("ref", inst.Plan.Clip.Audio), zap.Error(err))
		}
		inst.voice.Disconnect()
	}
	s.live = nil
}

// Live returns a copy of the current generation.
func (s *Scheduler) Live() []Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Instance, len(s.live))
	for i, inst := range s.live {
		out[i] = *inst
	}
	return out
}

// Generation is the number of schedules built so far.
func (s *Scheduler) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

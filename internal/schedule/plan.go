// Package schedule turns a composition and a timeline position into voices
// started on an audio engine, and tears them down again.
package schedule

import (
	"math"

	"github.com/satindergrewal/whitenoise/internal/audio"
	"github.com/satindergrewal/whitenoise/internal/timeline"
)

// Plan is the computed playback of one clip for one schedule build. All
// times are audio-clock seconds except Offset, which is seconds into the
// buffer.
type Plan struct {
	Clip     timeline.Clip
	When     float64
	Offset   float64
	Duration float64 // remaining on-timeline lifetime, not the buffer length

	FadeIn       bool // ramp 0 to volume over [When, When+Clip.FadeIn]
	FadeOut      bool // ramp volume to 0 over [FadeOutStart, End()]
	FadeOutStart float64

	// ExplicitStop is set when a loop must be cut at the window end by a
	// separate stop instead of a play length.
	ExplicitStop bool
}

// End is the audio-clock time the clip stops sounding.
func (p Plan) End() float64 {
	return p.When + p.Duration
}

// PlanClip computes how clip plays when the timeline is at elapsed and the
// audio clock reads ref. It reports false when the clip contributes nothing:
// already finished, zero-length, or without a usable buffer.
func PlanClip(clip timeline.Clip, bufDur, elapsed, ref float64) (Plan, bool) {
	if elapsed >= clip.End || clip.Start >= clip.End || bufDur <= 0 {
		return Plan{}, false
	}

	p := Plan{Clip: clip, When: ref}
	if elapsed < clip.Start {
		p.When = ref + (clip.Start - elapsed)
	} else {
		into := elapsed - clip.Start
		if clip.Loop {
			p.Offset = math.Mod(into, bufDur)
		} else {
			p.Offset = math.Min(into, bufDur)
		}
	}
	p.Duration = clip.End - math.Max(elapsed, clip.Start)

	p.FadeIn = clip.FadeIn > 0 && elapsed <= clip.Start
	if clip.FadeOut > 0 {
		p.FadeOutStart = p.When + p.Duration - clip.FadeOut
		// A fade that should already have begun is dropped, leaving a hard cut.
		p.FadeOut = p.FadeOutStart > ref
	}
	p.ExplicitStop = clip.Loop && p.Duration > bufDur
	return p, true
}

// Apply programs v with the plan: gain envelope, loop flag, start and stop.
func (p Plan) Apply(v audio.Voice) error {
	vol := p.Clip.Volume
	g := v.Gain()
	g.SetValue(vol)
	if p.FadeIn {
		g.SetValueAtTime(0, p.When)
		g.LinearRampToValueAtTime(vol, p.When+p.Clip.FadeIn)
	}
	if p.FadeOut {
		g.SetValueAtTime(vol, p.FadeOutStart)
		g.LinearRampToValueAtTime(0, p.End())
	}

	v.SetLoop(p.Clip.Loop)
	if p.ExplicitStop {
		if err := v.Start(p.When, p.Offset, -1); err != nil {
			return err
		}
		return v.Stop(p.End())
	}
	return v.Start(p.When, p.Offset, p.Duration)
}

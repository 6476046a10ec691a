package schedule

import (
	"context"
	"errors"
	"math"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/satindergrewal/whitenoise/internal/audio"
	"github.com/satindergrewal/whitenoise/internal/audio/audiotest"
	"github.com/satindergrewal/whitenoise/internal/timeline"
)

type mapBuffers map[string]*audio.Buffer

func (m mapBuffers) Lookup(ref string) (*audio.Buffer, bool) {
	b, ok := m[ref]
	return b, ok
}

func (m mapBuffers) Preload(ctx context.Context, refs []string) error { return nil }

func seconds(d float64) *audio.Buffer {
	return audio.NewBuffer(2, int(d*audio.SampleRate), audio.SampleRate)
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestPlanClip(t *testing.T) {
	tests := []struct {
		name    string
		clip    timeline.Clip
		bufDur  float64
		elapsed float64
		ref     float64

		wantOK       bool
		wantWhen     float64
		wantOffset   float64
		wantDuration float64
		wantStop     bool
	}{
		{
			name:   "loop resumed mid-window wraps phase",
			clip:   timeline.Clip{Start: 10, End: 40, Loop: true},
			bufDur: 8, elapsed: 26, ref: 100,
			wantOK: true, wantWhen: 100, wantOffset: 0, wantDuration: 14, wantStop: true,
		},
		{
			name:   "loop phase mid-buffer",
			clip:   timeline.Clip{Start: 10, End: 40, Loop: true},
			bufDur: 8, elapsed: 23, ref: 0,
			wantOK: true, wantWhen: 0, wantOffset: 5, wantDuration: 17, wantStop: true,
		},
		{
			name:   "non-loop offset clamps to buffer end",
			clip:   timeline.Clip{Start: 0, End: 20},
			bufDur: 5, elapsed: 12, ref: 3,
			wantOK: true, wantWhen: 3, wantOffset: 5, wantDuration: 8,
		},
		{
			name:   "future clip waits",
			clip:   timeline.Clip{Start: 10, End: 40, Loop: true},
			bufDur: 8, elapsed: 4, ref: 100,
			wantOK: true, wantWhen: 106, wantOffset: 0, wantDuration: 30, wantStop: true,
		},
		{
			name:   "short loop uses play length",
			clip:   timeline.Clip{Start: 0, End: 5, Loop: true},
			bufDur: 8, elapsed: 0, ref: 1,
			wantOK: true, wantWhen: 1, wantDuration: 5,
		},
		{
			name:   "finished clip",
			clip:   timeline.Clip{Start: 0, End: 20},
			bufDur: 5, elapsed: 20,
		},
		{
			name:   "zero-length clip",
			clip:   timeline.Clip{Start: 7, End: 7},
			bufDur: 5, elapsed: 0,
		},
		{
			name:   "empty buffer",
			clip:   timeline.Clip{Start: 0, End: 7},
			bufDur: 0, elapsed: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := PlanClip(tt.clip, tt.bufDur, tt.elapsed, tt.ref)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if !approx(p.When, tt.wantWhen) || !approx(p.Offset, tt.wantOffset) || !approx(p.Duration, tt.wantDuration) {
				t.Errorf("when/offset/duration = %v/%v/%v, want %v/%v/%v",
					p.When, p.Offset, p.Duration, tt.wantWhen, tt.wantOffset, tt.wantDuration)
			}
			if p.ExplicitStop != tt.wantStop {
				t.Errorf("ExplicitStop = %v, want %v", p.ExplicitStop, tt.wantStop)
			}
		})
	}
}

func TestPlanClipFades(t *testing.T) {
	clip := timeline.Clip{Start: 0, End: 20, Volume: 0.5, FadeIn: 2, FadeOut: 5}

	p, _ := PlanClip(clip, 30, 0, 50)
	if !p.FadeIn || !p.FadeOut || !approx(p.FadeOutStart, 65) {
		t.Errorf("fresh start: fadeIn=%v fadeOut=%v start=%v, want both at 65", p.FadeIn, p.FadeOut, p.FadeOutStart)
	}

	p, _ = PlanClip(clip, 30, 1, 50)
	if p.FadeIn {
		t.Error("fade-in scheduled for a clip already in progress")
	}

	// Resuming at 17: the fade-out should have begun 2s ago, so it is dropped.
	p, _ = PlanClip(clip, 30, 17, 50)
	if p.FadeOut {
		t.Errorf("fade-out scheduled in the past (start %v)", p.FadeOutStart)
	}
	if !approx(p.End(), 53) {
		t.Errorf("End() = %v, want hard stop at 53", p.End())
	}
}

func TestApplyProgramsVoice(t *testing.T) {
	eng := audiotest.New()
	clip := timeline.Clip{Start: 0, End: 10, Volume: 0.6, FadeIn: 2, FadeOut: 3}
	p, _ := PlanClip(clip, 20, 0, 4)
	v, _ := eng.NewVoice(seconds(20))
	if err := p.Apply(v); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	s := v.(*audiotest.Voice).Snapshot()
	if !s.Started || s.When != 4 || s.Offset != 0 || s.Duration != 10 || !math.IsInf(s.StopAt, 1) {
		t.Errorf("start = %+v", s)
	}
	want := []audio.Event{
		{Time: 4, Value: 0},
		{Time: 6, Value: 0.6, Ramp: true},
		{Time: 11, Value: 0.6},
		{Time: 14, Value: 0, Ramp: true},
	}
	if len(s.Gain) != len(want) {
		t.Fatalf("gain events = %+v, want %+v", s.Gain, want)
	}
	for i := range want {
		if s.Gain[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, s.Gain[i], want[i])
		}
	}
}

func TestBuildEndToEnd(t *testing.T) {
	eng := audiotest.New()
	eng.SetNow(3)
	comp := &timeline.Composition{Duration: 30, Clips: []timeline.Clip{
		{Audio: "rain.mp3", Start: 0, End: 30, Loop: true, Volume: 0.5},
	}}
	s := New(eng, mapBuffers{"rain.mp3": seconds(8)}, zaptest.NewLogger(t))

	plans, err := s.Build(comp, 0, eng.Now())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(plans) != 1 {
		t.Fatalf("plans = %d, want 1", len(plans))
	}
	p := plans[0]
	if p.When != 3 || p.Offset != 0 || p.Duration != 30 {
		t.Errorf("plan = %+v", p)
	}

	vs := eng.Voices()[0].Snapshot()
	if !vs.Loop || vs.Duration != -1 || vs.StopAt != 33 {
		t.Errorf("looped voice should start open-ended and stop at 33: %+v", vs)
	}
	if g := eng.Voices()[0].Gain().ValueAt(10); g != 0.5 {
		t.Errorf("gain = %v, want 0.5", g)
	}
}

func TestBuildReplacesGeneration(t *testing.T) {
	eng := audiotest.New()
	comp := &timeline.Composition{Duration: 60, Clips: []timeline.Clip{
		{Audio: "rain.mp3", Start: 0, End: 60, Loop: true, Volume: 1},
		{Audio: "wind.mp3", Start: 0, End: 60, Loop: true, Volume: 1},
	}}
	s := New(eng, mapBuffers{"rain.mp3": seconds(8), "wind.mp3": seconds(8)}, nil)

	s.Build(comp, 0, 0)
	first := eng.Voices()
	eng.Advance(5)
	s.Build(comp, 20, eng.Now())

	for _, v := range first {
		st := v.Snapshot()
		if !st.Disconnected || st.StopCalls == 0 {
			t.Errorf("previous generation voice still live: %+v", st)
		}
	}
	if n := len(eng.Live()); n != 2 {
		t.Errorf("live voices = %d, want 2 from the new generation only", n)
	}
	if s.Generation() != 2 {
		t.Errorf("Generation() = %d, want 2", s.Generation())
	}
	for _, inst := range s.Live() {
		if inst.Generation != 2 {
			t.Errorf("instance from generation %d still tracked", inst.Generation)
		}
	}
}

func TestBuildSkipsMissingAndFinished(t *testing.T) {
	eng := audiotest.New()
	comp := &timeline.Composition{Duration: 30, Clips: []timeline.Clip{
		{Audio: "missing.mp3", Start: 0, End: 30},
		{Audio: "rain.mp3", Start: 0, End: 10},
		{Audio: "rain.mp3", Start: 15, End: 15},
		{Audio: "rain.mp3", Start: 12, End: 30},
	}}
	s := New(eng, mapBuffers{"rain.mp3": seconds(8)}, zaptest.NewLogger(t))

	plans, err := s.Build(comp, 11, 0)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(plans) != 1 || plans[0].Clip.Start != 12 {
		t.Fatalf("plans = %+v, want only the clip starting at 12", plans)
	}
	if plans[0].When != 1 {
		t.Errorf("When = %v, want 1", plans[0].When)
	}
}

func TestStopAllIdempotent(t *testing.T) {
	eng := audiotest.New()
	eng.StopErr = errors.New("already finished")
	comp := &timeline.Composition{Duration: 10, Clips: []timeline.Clip{{Audio: "a.mp3", Start: 0, End: 10}}}
	s := New(eng, mapBuffers{"a.mp3": seconds(10)}, nil)
	s.Build(comp, 0, 0)

	s.StopAll()
	s.StopAll()
	if len(s.Live()) != 0 || len(eng.Live()) != 0 {
		t.Error("instances left after StopAll")
	}
	if got := eng.Voices()[0].Snapshot().StopCalls; got != 1 {
		t.Errorf("StopCalls = %d, want 1", got)
	}
}

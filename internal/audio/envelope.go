package audio

import (
	"math"
	"sort"
	"sync"
)

// Event is one scheduled automation point on an Envelope.
type Event struct {
	Time  float64 // audio-clock seconds
	Value float64
	Ramp  bool // linear ramp from the previous point, otherwise a step
}

// Envelope is a gain parameter with scheduled automation: steps and linear
// ramps against the audio clock. It is safe for concurrent use; the mixer
// reads it while the scheduler writes it.
type Envelope struct {
	mu     sync.RWMutex
	value  float64
	events []Event
}

// NewEnvelope returns an envelope holding v with no automation.
func NewEnvelope(v float64) *Envelope {
	return &Envelope{value: v}
}

// SetValue sets the intrinsic value and drops all scheduled automation.
func (e *Envelope) SetValue(v float64) {
	e.mu.Lock()
	e.value = v
	e.events = nil
	e.mu.Unlock()
}

// SetValueAtTime schedules a step to v at time at.
func (e *Envelope) SetValueAtTime(v, at float64) {
	e.insert(Event{Time: at, Value: v})
}

// LinearRampToValueAtTime schedules a linear ramp from the previous point
// to v, reaching it at time at.
func (e *Envelope) LinearRampToValueAtTime(v, at float64) {
	e.insert(Event{Time: at, Value: v, Ramp: true})
}

// CancelScheduledValues drops every point at or after from.
func (e *Envelope) CancelScheduledValues(from float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := sort.Search(len(e.events), func(i int) bool { return e.events[i].Time >= from })
	e.events = e.events[:i]
}

// Events returns a copy of the scheduled points in time order.
func (e *Envelope) Events() []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Event, len(e.events))
	copy(out, e.events)
	return out
}

// ValueAt evaluates the envelope at time t. A ramp with no earlier point
// holds the intrinsic value until its own time.
func (e *Envelope) ValueAt(t float64) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	v := e.value
	prev := math.Inf(-1)
	for _, ev := range e.events {
		if t < ev.Time {
			if ev.Ramp && !math.IsInf(prev, -1) && ev.Time > prev {
				frac := (t - prev) / (ev.Time - prev)
				return v + (ev.Value-v)*frac
			}
			return v
		}
		v = ev.Value
		prev = ev.Time
	}
	return v
}

// Prune folds points at or before t into the intrinsic value, keeping any
// point that a later ramp still interpolates from.
func (e *Envelope) Prune(t float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for n < len(e.events) && e.events[n].Time <= t {
		if n+1 < len(e.events) && e.events[n+1].Ramp {
			break
		}
		e.value = e.events[n].Value
		n++
	}
	if n > 0 {
		e.events = append(e.events[:0], e.events[n:]...)
	}
}

// insert keeps events sorted by time; equal times keep insertion order.
func (e *Envelope) insert(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := sort.Search(len(e.events), func(i int) bool { return e.events[i].Time > ev.Time })
	e.events = append(e.events, Event{})
	copy(e.events[i+1:], e.events[i:])
	e.events[i] = ev
}

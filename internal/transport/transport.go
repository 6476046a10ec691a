// Package transport is the play/pause/seek/stop state machine wrapped
// around the scheduler. Elapsed position is always derived from the audio
// clock while playing.
package transport

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satindergrewal/whitenoise/internal/audio"
	"github.com/satindergrewal/whitenoise/internal/schedule"
	"github.com/satindergrewal/whitenoise/internal/timeline"
)

// ErrNoComposition is returned when a command needs a composition and
// none is loaded.
var ErrNoComposition = errors.New("no composition loaded")

// State is the transport state.
type State int

const (
	Stopped State = iota
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

// Loader fetches compositions by id.
type Loader interface {
	Get(ctx context.Context, id string) (*timeline.Composition, error)
}

// Hooks receive transport events. They run on the goroutine that caused
// the event, after the transport's lock is released, so they may call
// back into the transport.
type Hooks struct {
	OnProgress func(elapsed float64, active []string)
	OnState    func(State)
	OnError    func(error)
}

// Config tunes a Transport.
type Config struct {
	// PollInterval is the progress sampling period. Zero or less disables
	// the background poller; callers then drive Tick themselves.
	PollInterval time.Duration
	Hooks        Hooks
}

// Status is a snapshot of the transport.
type Status struct {
	State         string   `json:"state"`
	CompositionID string   `json:"composition_id,omitempty"`
	Name          string   `json:"name,omitempty"`
	Elapsed       float64  `json:"elapsed"`
	Duration      float64  `json:"duration"`
	Position      string   `json:"position"`
	Active        []string `json:"active"`
	MasterVolume  float64  `json:"master_volume"`
}

// Transport serializes commands with a mutex. The only points where it
// waits without the lock are the composition fetch and the asset preload;
// every continuation after them checks the generation token so a command
// issued meanwhile wins.
type Transport struct {
	graph  *audio.Graph
	sched  *schedule.Scheduler
	loader Loader
	log    *zap.Logger
	hooks  Hooks
	poll   time.Duration

	mu         sync.Mutex
	state      State
	comp       *timeline.Composition
	offset     float64 // elapsed position while not playing
	epochStart float64 // audio-clock time of position 0 while playing
	gen        uint64
	pending    bool // a play is waiting on a fetch or preload
	pollStop   chan struct{}
}

// New creates a stopped transport. loader may be nil when compositions are
// only ever set directly.
func New(graph *audio.Graph, sched *schedule.Scheduler, loader Loader, log *zap.Logger, cfg Config) *Transport {
	if log == nil {
		log = zap.NewNop()
	}
	return &Transport{
		graph:  graph,
		sched:  sched,
		loader: loader,
		log:    log,
		hooks:  cfg.Hooks,
		poll:   cfg.PollInterval,
	}
}

// SetComposition stops playback and replaces the composition.
func (t *Transport) SetComposition(c *timeline.Composition) {
	t.mu.Lock()
	changed := t.resetLocked()
	t.comp = c
	t.mu.Unlock()

	t.warnInvalid(c)
	if changed {
		t.emitState(Stopped)
	}
}

// Composition returns the loaded composition, if any.
func (t *Transport) Composition() *timeline.Composition {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.comp
}

// Play starts playback from the saved position. It returns once the
// schedule is built, or earlier if a later command superseded it. Asset
// failures are reported through OnError and never fail Play.
func (t *Transport) Play(ctx context.Context) error {
	t.mu.Lock()
	if t.state == Playing || t.pending {
		t.mu.Unlock()
		return nil
	}
	gen, comp, err := t.beginPlayLocked(ctx)
	t.mu.Unlock()
	if err != nil {
		return err
	}
	return t.completePlay(ctx, gen, comp)
}

// LoadAndPlay fetches a composition, replaces the current one and plays it
// from the start. On fetch failure the current playback is left alone.
func (t *Transport) LoadAndPlay(ctx context.Context, id string) error {
	if t.loader == nil {
		return errors.New("transport has no composition loader")
	}

	t.mu.Lock()
	t.gen++
	gen := t.gen
	t.pending = true
	t.mu.Unlock()

	comp, err := t.loader.Get(ctx, id)

	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		t.log.Debug("load superseded", zap.String("id", id))
		return nil
	}
	if err != nil {
		t.pending = false
		t.mu.Unlock()
		return err
	}
	changed := t.resetLocked()
	t.comp = comp
	gen, _, err = t.beginPlayLocked(ctx)
	t.mu.Unlock()

	t.warnInvalid(comp)
	if changed {
		t.emitState(Stopped)
	}
	if err != nil {
		return err
	}
	t.log.Info("composition loaded",
		zap.String("id", comp.ID),
		zap.String("name", comp.Name),
		zap.Int("clips", len(comp.Clips)),
		zap.Float64("duration", comp.Duration))
	return t.completePlay(ctx, gen, comp)
}

// beginPlayLocked resumes the engine and takes a generation token for a
// play about to wait on its preload.
func (t *Transport) beginPlayLocked(ctx context.Context) (uint64, *timeline.Composition, error) {
	if t.comp == nil {
		t.pending = false
		return 0, nil, ErrNoComposition
	}
	if err := t.graph.ResumeIfSuspended(ctx); err != nil {
		t.pending = false
		return 0, nil, err
	}
	t.gen++
	t.pending = true
	return t.gen, t.comp, nil
}

func (t *Transport) completePlay(ctx context.Context, gen uint64, comp *timeline.Composition) error {
	loadErr := t.sched.Preload(ctx, comp)
	if err := ctx.Err(); err != nil {
		t.mu.Lock()
		if t.gen == gen {
			t.pending = false
		}
		t.mu.Unlock()
		return err
	}
	if loadErr != nil {
		t.emitError(loadErr)
	}

	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		t.log.Debug("play superseded during preload")
		return nil
	}
	t.pending = false
	elapsed, active, buildErr := t.startLocked()
	t.mu.Unlock()

	if buildErr != nil {
		t.emitError(buildErr)
	}
	t.emitState(Playing)
	t.emitProgress(elapsed, active)
	return nil
}

// startLocked builds the schedule at the saved offset against the current
// audio clock and starts polling.
func (t *Transport) startLocked() (float64, []string, error) {
	now := t.graph.Now()
	t.epochStart = now - t.offset
	_, err := t.sched.Build(t.comp, t.offset, now)
	t.state = Playing
	t.startPollingLocked()
	return t.offset, t.comp.ActiveRefs(t.offset), err
}

// Pause cancels a play still waiting on its fetch or preload, then
// freezes the position if something is sounding. Pausing when not playing
// does nothing else.
func (t *Transport) Pause() {
	t.mu.Lock()
	if t.pending {
		t.gen++
		t.pending = false
	}
	if t.state != Playing {
		t.mu.Unlock()
		return
	}
	t.offset = t.elapsedLocked()
	t.sched.StopAll()
	t.state = Paused
	t.stopPollingLocked()
	offset, active := t.offset, t.comp.ActiveRefs(t.offset)
	t.mu.Unlock()

	t.emitState(Paused)
	t.emitProgress(offset, active)
}

// Toggle pauses when playing (or about to), plays otherwise.
func (t *Transport) Toggle(ctx context.Context) error {
	t.mu.Lock()
	busy := t.state == Playing || t.pending
	t.mu.Unlock()
	if busy {
		t.Pause()
		return nil
	}
	return t.Play(ctx)
}

// Stop silences everything and rewinds to 0. It is always safe to call.
func (t *Transport) Stop() {
	t.mu.Lock()
	changed := t.resetLocked()
	t.mu.Unlock()

	if changed {
		t.emitState(Stopped)
	}
	t.emitProgress(0, nil)
}

// resetLocked is the effect of stop: it reports whether the state changed.
func (t *Transport) resetLocked() bool {
	t.gen++
	t.pending = false
	t.sched.StopAll()
	t.offset = 0
	t.stopPollingLocked()
	changed := t.state != Stopped
	t.state = Stopped
	return changed
}

// Seek moves to pos, clamped to [0, duration]. While playing the schedule
// is rebuilt immediately; otherwise only the saved position changes.
func (t *Transport) Seek(pos float64) error {
	t.mu.Lock()
	if t.comp == nil {
		t.mu.Unlock()
		return ErrNoComposition
	}
	t.offset = clamp(pos, 0, t.comp.Duration)
	var buildErr error
	if t.state == Playing {
		t.sched.StopAll()
		_, _, buildErr = t.startLocked()
	}
	offset, active := t.offset, t.comp.ActiveRefs(t.offset)
	t.mu.Unlock()

	if buildErr != nil {
		t.emitError(buildErr)
	}
	t.emitProgress(offset, active)
	return nil
}

// Restart seeks to the beginning.
func (t *Transport) Restart() error {
	return t.Seek(0)
}

// Close stops playback and releases the composition in one step, so no
// play can start between the two.
func (t *Transport) Close() {
	t.mu.Lock()
	changed := t.resetLocked()
	t.comp = nil
	t.mu.Unlock()

	if changed {
		t.emitState(Stopped)
	}
	t.emitProgress(0, nil)
}

// SetMasterVolume sets the shared output gain.
func (t *Transport) SetMasterVolume(v float64) {
	t.graph.SetMasterVolume(v)
}

// Tick samples the audio clock once: it reports progress, or performs the
// stop when the composition has played to its end.
func (t *Transport) Tick() {
	t.mu.Lock()
	if t.state != Playing {
		t.mu.Unlock()
		return
	}
	elapsed := t.graph.Now() - t.epochStart
	if elapsed >= t.comp.Duration {
		t.resetLocked()
		name := t.comp.Name
		t.mu.Unlock()

		t.log.Info("composition finished", zap.String("name", name))
		t.emitState(Stopped)
		t.emitProgress(0, nil)
		return
	}
	active := t.comp.ActiveRefs(elapsed)
	t.mu.Unlock()

	t.emitProgress(elapsed, active)
}

// State returns the current state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Elapsed returns the current position in seconds.
func (t *Transport) Elapsed() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Playing {
		return t.elapsedLocked()
	}
	return t.offset
}

// Status snapshots the transport for API callers.
func (t *Transport) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := Status{
		State:        t.state.String(),
		Elapsed:      t.offset,
		MasterVolume: t.graph.MasterVolume(),
		Active:       []string{},
	}
	if t.state == Playing {
		st.Elapsed = t.elapsedLocked()
	}
	st.Position = timeline.FormatTime(st.Elapsed)
	if t.comp != nil {
		st.CompositionID = t.comp.ID
		st.Name = t.comp.Name
		st.Duration = t.comp.Duration
		if active := t.comp.ActiveRefs(st.Elapsed); active != nil {
			st.Active = active
		}
	}
	return st
}

func (t *Transport) elapsedLocked() float64 {
	return clamp(t.graph.Now()-t.epochStart, 0, t.comp.Duration)
}

func (t *Transport) startPollingLocked() {
	if t.poll <= 0 || t.pollStop != nil {
		return
	}
	stop := make(chan struct{})
	t.pollStop = stop
	go func() {
		ticker := time.NewTicker(t.poll)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				t.Tick()
			}
		}
	}()
}

func (t *Transport) stopPollingLocked() {
	if t.pollStop != nil {
		close(t.pollStop)
		t.pollStop = nil
	}
}

func (t *Transport) warnInvalid(c *timeline.Composition) {
	if c == nil {
		return
	}
	if err := c.Validate(); err != nil {
		t.log.Warn("composition has data problems", zap.String("id", c.ID), zap.Error(err))
	}
}

func (t *Transport) emitState(s State) {
	t.log.Debug("transport state", zap.Stringer("state", s))
	if t.hooks.OnState != nil {
		t.hooks.OnState(s)
	}
}

func (t *Transport) emitProgress(elapsed float64, active []string) {
	if t.hooks.OnProgress != nil {
		t.hooks.OnProgress(elapsed, active)
	}
}

func (t *Transport) emitError(err error) {
	t.log.Warn("playback problem", zap.Error(err))
	if t.hooks.OnError != nil {
		t.hooks.OnError(err)
	}
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

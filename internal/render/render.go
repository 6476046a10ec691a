// Package render bakes a composition into a WAV file by driving the same
// scheduler and mixer used for live playback, offline.
package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satindergrewal/whitenoise/internal/audio"
	"github.com/satindergrewal/whitenoise/internal/repository"
	"github.com/satindergrewal/whitenoise/internal/schedule"
	"github.com/satindergrewal/whitenoise/internal/timeline"
)

// ErrNoJob is returned by Status for a composition that was never
// rendered.
var ErrNoJob = errors.New("no render job")

// chunkFrames is how many 20ms frames are mixed between context checks.
const chunkFrames = 50

// Loader fetches compositions by id.
type Loader interface {
	Get(ctx context.Context, id string) (*timeline.Composition, error)
}

// Mixdown renders c from position 0 to its duration and writes it to w
// as 16-bit stereo WAV. Clips whose audio cannot be loaded are left out.
func Mixdown(ctx context.Context, c *timeline.Composition, buffers schedule.Buffers, w io.WriteSeeker, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	m := audio.NewMixer(log)
	defer m.Close()
	if err := m.Resume(ctx); err != nil {
		return fmt.Errorf("%w: %w", audio.ErrEngineUnavailable, err)
	}

	sched := schedule.New(m, buffers, log)
	if err := sched.Preload(ctx, c); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("rendering without some clips", zap.String("id", c.ID), zap.Error(err))
	}
	if _, err := sched.Build(c, 0, m.Now()); err != nil {
		log.Warn("schedule incomplete", zap.String("id", c.ID), zap.Error(err))
	}

	ww := audio.NewWAVWriter(w)
	total := int(math.Ceil(c.Duration / audio.FrameSeconds))
	for done := 0; done < total; done += chunkFrames {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := ww.Write(m.RenderFrames(min(chunkFrames, total-done))); err != nil {
			return err
		}
	}
	return ww.Close()
}

type job struct {
	id      string
	started time.Time
	done    bool
	err     error
}

// Service runs render jobs and answers the render endpoints. Outputs are
// {dir}/{id}.wav, served under urlPrefix.
type Service struct {
	loader    Loader
	buffers   schedule.Buffers
	dir       string
	urlPrefix string
	log       *zap.Logger

	mu   sync.Mutex
	jobs map[string]*job
	wg   sync.WaitGroup
}

// NewService creates a render service writing into dir.
func NewService(loader Loader, buffers schedule.Buffers, dir, urlPrefix string, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		loader:    loader,
		buffers:   buffers,
		dir:       dir,
		urlPrefix: urlPrefix,
		log:       log,
		jobs:      make(map[string]*job),
	}
}

// Path is where the output for id lives.
func (s *Service) Path(id string) string {
	return filepath.Join(s.dir, id+".wav")
}

func (s *Service) url(id string) string {
	return s.urlPrefix + id + ".wav"
}

// Start answers {cached,url} when an output exists and force is false,
// otherwise starts a background job (or joins a running one) and answers
// {rendering:true}. An unknown composition fails immediately.
func (s *Service) Start(ctx context.Context, id string, force bool) (repository.RenderResult, error) {
	if !force {
		if _, err := os.Stat(s.Path(id)); err == nil {
			return repository.RenderResult{Success: repository.Bool(true), Cached: true, URL: s.url(id)}, nil
		}
	}

	s.mu.Lock()
	if j, ok := s.jobs[id]; ok && !j.done {
		s.mu.Unlock()
		return repository.RenderResult{Success: repository.Bool(true), Rendering: true}, nil
	}
	s.mu.Unlock()

	comp, err := s.loader.Get(ctx, id)
	if err != nil {
		return repository.RenderResult{}, err
	}

	s.mu.Lock()
	if j, ok := s.jobs[id]; ok && !j.done {
		s.mu.Unlock()
		return repository.RenderResult{Success: repository.Bool(true), Rendering: true}, nil
	}
	j := &job{id: uuid.NewString(), started: time.Now()}
	s.jobs[id] = j
	s.wg.Add(1)
	s.mu.Unlock()

	s.log.Info("render started", zap.String("composition", id), zap.String("job", j.id))
	go s.run(comp, j)
	return repository.RenderResult{Success: repository.Bool(true), Rendering: true}, nil
}

// Status answers {ready,url} once the output exists, {rendering:true}
// while a job runs, and {success:false,error} when the last job failed.
func (s *Service) Status(id string) (repository.RenderResult, error) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	var done bool
	var jobErr error
	if ok {
		done, jobErr = j.done, j.err
	}
	s.mu.Unlock()

	switch {
	case ok && !done:
		return repository.RenderResult{Success: repository.Bool(true), Rendering: true}, nil
	case ok && jobErr != nil:
		return repository.RenderResult{Success: repository.Bool(false), Error: jobErr.Error()}, nil
	}
	if _, err := os.Stat(s.Path(id)); err == nil {
		return repository.RenderResult{Success: repository.Bool(true), Ready: true, URL: s.url(id)}, nil
	}
	return repository.RenderResult{}, ErrNoJob
}

// Wait blocks until every started job has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) run(comp *timeline.Composition, j *job) {
	defer s.wg.Done()
	err := s.renderFile(comp)

	s.mu.Lock()
	j.done = true
	j.err = err
	s.mu.Unlock()

	if err != nil {
		s.log.Error("render failed", zap.String("composition", comp.ID), zap.String("job", j.id), zap.Error(err))
		return
	}
	s.log.Info("render finished",
		zap.String("composition", comp.ID),
		zap.String("job", j.id),
		zap.Duration("took", time.Since(j.started)))
}

// renderFile writes to a temp file and renames it, so a half-written
// output is never served.
func (s *Service) renderFile(comp *timeline.Composition) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, comp.ID+"-*.wav.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Mixdown(context.Background(), comp, s.buffers, tmp, s.log); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.Path(comp.ID))
}

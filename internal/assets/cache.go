// Package assets owns decoded audio buffers keyed by filename and the byte
// sources they are fetched from.
package assets

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/satindergrewal/whitenoise/internal/audio"
)

// LoadError reports an audio ref that could not be fetched or decoded.
type LoadError struct {
	Ref string
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load asset %s: %v", e.Ref, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

type entry struct {
	done chan struct{}
	buf  *audio.Buffer
	err  error
}

// Cache loads each ref at most once at a time and keeps every decoded
// buffer for the life of the process. Concurrent callers for the same
// unresolved ref share one load. Failed loads are forgotten so the next
// Get retries.
type Cache struct {
	src         Source
	dec         audio.Decoder
	log         *zap.Logger
	concurrency int

	mu      sync.Mutex
	entries map[string]*entry
}

// NewCache creates a cache. concurrency bounds Preload; values below 1
// mean 4.
func NewCache(src Source, dec audio.Decoder, log *zap.Logger, concurrency int) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	if concurrency < 1 {
		concurrency = 4
	}
	return &Cache{
		src:         src,
		dec:         dec,
		log:         log,
		concurrency: concurrency,
		entries:     make(map[string]*entry),
	}
}

// Get returns the buffer for ref, loading it if needed. Cancelling ctx
// abandons the wait, not the load: a load that completes later is still
// cached.
func (c *Cache) Get(ctx context.Context, ref string) (*audio.Buffer, error) {
	c.mu.Lock()
	e, ok := c.entries[ref]
	if !ok {
		e = &entry{done: make(chan struct{})}
		c.entries[ref] = e
		go c.load(context.WithoutCancel(ctx), ref, e)
	}
	c.mu.Unlock()

	select {
	case <-e.done:
		return e.buf, e.err
	case <-ctx.Done():
		return nil, &LoadError{Ref: ref, Err: ctx.Err()}
	}
}

// Lookup returns a buffer only if it has already been decoded.
func (c *Cache) Lookup(ref string) (*audio.Buffer, bool) {
	c.mu.Lock()
	e, ok := c.entries[ref]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	select {
	case <-e.done:
		return e.buf, e.err == nil
	default:
		return nil, false
	}
}

// Preload loads refs in parallel. One failure never stops its siblings;
// all failures come back together as a multierr of *LoadError.
func (c *Cache) Preload(ctx context.Context, refs []string) error {
	var (
		mu   sync.Mutex
		errs error
	)
	g := new(errgroup.Group)
	g.SetLimit(c.concurrency)
	for _, ref := range refs {
		ref := ref
		g.Go(func() error {
			if _, err := c.Get(ctx, ref); err != nil {
				c.log.Warn("asset load failed", zap.String("ref", ref), zap.Error(err))
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return errs
}

// Len is the number of resolved and in-flight entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) load(ctx context.Context, ref string, e *entry) {
	start := time.Now()
	buf, err := c.fetchDecode(ctx, ref)
	if err != nil {
		e.err = &LoadError{Ref: ref, Err: err}
		c.mu.Lock()
		if c.entries[ref] == e {
			delete(c.entries, ref)
		}
		c.mu.Unlock()
	} else {
		e.buf = buf
		c.log.Debug("asset decoded",
			zap.String("ref", ref),
			zap.Float64("duration", buf.Duration()),
			zap.Duration("took", time.Since(start)))
	}
	close(e.done)
}

func (c *Cache) fetchDecode(ctx context.Context, ref string) (*audio.Buffer, error) {
	data, err := c.src.Fetch(ctx, ref)
	if err != nil {
		return nil, err
	}
	buf, err := c.dec.Decode(ctx, ref, data)
	if err != nil {
		return nil, err
	}
	if buf.Duration() <= 0 {
		return nil, fmt.Errorf("decoded %s to an empty buffer", ref)
	}
	return buf, nil
}

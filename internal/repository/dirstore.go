package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/satindergrewal/whitenoise/internal/timeline"
)

const compositionExt = ".yaml"

// DirStore serves compositions from a directory of YAML files. The id of
// a composition is its file name without the extension.
type DirStore struct {
	dir  string
	lib  *Library
	opts timeline.DecodeOptions
	log  *zap.Logger
}

// NewDirStore creates a store over dir. lib may be nil; when set, clips
// get their audio_info from it.
func NewDirStore(dir string, lib *Library, opts timeline.DecodeOptions, log *zap.Logger) *DirStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &DirStore{dir: dir, lib: lib, opts: opts, log: log}
}

// Dir returns the directory backing the store.
func (s *DirStore) Dir() string {
	return s.dir
}

// List returns a summary of every parsable file, sorted by id. Broken
// files are logged and left out.
func (s *DirStore) List(ctx context.Context) ([]timeline.Summary, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return []timeline.Summary{}, nil
	}
	if err != nil {
		return nil, &LoadError{Err: err}
	}

	list := []timeline.Summary{}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != compositionExt {
			continue
		}
		id := strings.TrimSuffix(e.Name(), compositionExt)
		comp, err := s.Get(ctx, id)
		if err != nil {
			s.log.Warn("skipping composition file", zap.String("file", e.Name()), zap.Error(err))
			continue
		}
		list = append(list, comp.Summary())
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

// Get reads and decodes {dir}/{id}.yaml.
func (s *DirStore) Get(ctx context.Context, id string) (*timeline.Composition, error) {
	if err := validID(id); err != nil {
		return nil, &LoadError{ID: id, Err: err}
	}
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, &LoadError{ID: id, Err: ErrNotFound}
	}
	if err != nil {
		return nil, &LoadError{ID: id, Err: err}
	}

	comp, err := timeline.DecodeYAML(id, data, s.opts)
	if err != nil {
		return nil, &LoadError{ID: id, Err: err}
	}
	if comp.Name == "" {
		comp.Name = id
	}
	for i := range comp.Clips {
		if comp.Clips[i].Info == nil {
			comp.Clips[i].Info = s.lib.Info(comp.Clips[i].Audio)
		}
	}
	return comp, nil
}

// Save writes c as {dir}/{id}.yaml and returns the path.
func (s *DirStore) Save(id string, c *timeline.Composition) (string, error) {
	if err := validID(id); err != nil {
		return "", err
	}
	data, err := timeline.EncodeYAML(c)
	if err != nil {
		return "", fmt.Errorf("encode composition: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create compositions dir: %w", err)
	}
	path := s.path(id)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write composition: %w", err)
	}
	return path, nil
}

// Watch calls onChange with the id of every composition file created,
// written, renamed or removed, until ctx is done. Bursts on one file
// within 100ms collapse into one call.
func (s *DirStore) Watch(ctx context.Context, onChange func(id string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(s.dir); err != nil {
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}

	last := make(map[string]time.Time)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != compositionExt {
				continue
			}
			now := time.Now()
			if t, ok := last[event.Name]; ok && now.Sub(t) < 100*time.Millisecond {
				continue
			}
			last[event.Name] = now
			id := strings.TrimSuffix(filepath.Base(event.Name), compositionExt)
			s.log.Debug("composition file changed", zap.String("id", id), zap.Stringer("op", event.Op))
			onChange(id)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("composition watcher error", zap.Error(err))
		}
	}
}

func (s *DirStore) path(id string) string {
	return filepath.Join(s.dir, id+compositionExt)
}

func validID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid composition id %q", id)
	}
	return nil
}

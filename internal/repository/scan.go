package repository

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/satindergrewal/whitenoise/internal/assets"
	"github.com/satindergrewal/whitenoise/internal/audio"
	"github.com/satindergrewal/whitenoise/internal/timeline"
)

// VolumeLevel buckets a mean volume into the library's loudness labels.
func VolumeLevel(db float64) string {
	switch {
	case db > -15:
		return "loud"
	case db > -25:
		return "medium"
	case db > -35:
		return "soft"
	default:
		return "very_soft"
	}
}

// ScanReport summarizes a library scan.
type ScanReport struct {
	Total   int
	Updated int
	Failed  map[string]error
}

// Scan decodes every file the library lists and records its duration and
// mean volume. Files that cannot be fetched or decoded keep their old
// values and are listed in the report. Only ctx cancellation fails it.
func (l *Library) Scan(ctx context.Context, src assets.Source, dec audio.Decoder, log *zap.Logger) (ScanReport, error) {
	if log == nil {
		log = zap.NewNop()
	}
	rep := ScanReport{Failed: make(map[string]error)}

	for _, key := range l.CategoryIDs() {
		files := l.Categories[key].Files
		for i := range files {
			if err := ctx.Err(); err != nil {
				return rep, err
			}
			f := &files[i]
			if f.Filename == "" {
				continue
			}
			rep.Total++

			buf, err := measure(ctx, src, dec, f.Filename)
			if err != nil {
				rep.Failed[f.Filename] = err
				log.Warn("scan failed", zap.String("category", key), zap.String("file", f.Filename), zap.Error(err))
				continue
			}
			dur := buf.Duration()
			db := audio.MeanVolumeDB(buf)
			f.DurationSeconds = round2(dur)
			f.DurationFormatted = timeline.FormatTime(dur)
			f.VolumeDB = round2(db)
			f.VolumeLevel = VolumeLevel(db)
			rep.Updated++
			log.Debug("scanned", zap.String("file", f.Filename),
				zap.Float64("duration", f.DurationSeconds), zap.Float64("volume_db", f.VolumeDB))
		}
	}
	l.index()
	return rep, nil
}

func measure(ctx context.Context, src assets.Source, dec audio.Decoder, name string) (*audio.Buffer, error) {
	data, err := src.Fetch(ctx, name)
	if err != nil {
		return nil, err
	}
	buf, err := dec.Decode(ctx, name, data)
	if err != nil {
		return nil, err
	}
	if buf.Frames() == 0 {
		return nil, fmt.Errorf("decode %s: no samples", name)
	}
	return buf, nil
}

// Save writes the library back as YAML. The file is replaced atomically.
func (l *Library) Save(path string) error {
	data, err := yaml.Marshal(l)
	if err != nil {
		return fmt.Errorf("encode sound library: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("write sound library: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write sound library: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write sound library: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write sound library: %w", err)
	}
	return nil
}

// Failures lists the report's failed files in name order.
func (r ScanReport) Failures() []string {
	names := make([]string, 0, len(r.Failed))
	for n := range r.Failed {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Package timeline holds the declarative composition model: named,
// fixed-duration collections of clips placed on a shared timeline.
package timeline

import (
	"fmt"
	"math"

	"go.uber.org/multierr"
)

// AudioInfo is descriptive metadata about a clip's audio file, joined in
// from the sound library. Playback never reads it.
type AudioInfo struct {
	DescriptionZH   string  `json:"description_zh,omitempty" yaml:"description_zh,omitempty"`
	DescriptionEN   string  `json:"description_en,omitempty" yaml:"description_en,omitempty"`
	Scene           string  `json:"scene,omitempty" yaml:"scene,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty" yaml:"duration_seconds,omitempty"`
}

// Clip is one audio asset placed on the timeline. Times are seconds,
// timeline-absolute.
type Clip struct {
	Audio   string // asset cache key (filename)
	Start   float64
	End     float64
	Loop    bool
	Volume  float64 // linear gain
	FadeIn  float64
	FadeOut float64
	Info    *AudioInfo
}

// Length is the clip's on-timeline lifetime.
func (c Clip) Length() float64 {
	return c.End - c.Start
}

// Contains reports whether t falls inside [Start, End).
func (c Clip) Contains(t float64) bool {
	return t >= c.Start && t < c.End
}

// Composition is immutable once loaded; a new load replaces it wholesale.
type Composition struct {
	ID          string
	Name        string
	Description string
	Duration    float64 // authoritative; playback never exceeds it
	Clips       []Clip
}

// Summary is the list-view projection of a composition.
type Summary struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Duration    float64 `json:"duration"`
	TrackCount  int     `json:"track_count"`
}

// Summary projects c for list results.
func (c *Composition) Summary() Summary {
	return Summary{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		Duration:    c.Duration,
		TrackCount:  len(c.Clips),
	}
}

// Refs returns the distinct audio refs used by the composition, in first-use order.
func (c *Composition) Refs() []string {
	seen := make(map[string]struct{}, len(c.Clips))
	refs := make([]string, 0, len(c.Clips))
	for _, clip := range c.Clips {
		if _, ok := seen[clip.Audio]; ok {
			continue
		}
		seen[clip.Audio] = struct{}{}
		refs = append(refs, clip.Audio)
	}
	return refs
}

// ActiveClips returns the clips whose [start,end) window contains t.
func (c *Composition) ActiveClips(t float64) []Clip {
	var clips []Clip
	for _, clip := range c.Clips {
		if clip.Contains(t) {
			clips = append(clips, clip)
		}
	}
	return clips
}

// ActiveRefs returns the audio refs of ActiveClips(t).
func (c *Composition) ActiveRefs(t float64) []string {
	var refs []string
	for _, clip := range c.ActiveClips(t) {
		refs = append(refs, clip.Audio)
	}
	return refs
}

// MaxEnd is the latest clip end on the timeline.
func (c *Composition) MaxEnd() float64 {
	var end float64
	for _, clip := range c.Clips {
		end = math.Max(end, clip.End)
	}
	return end
}

// Validate reports data-quality problems. Playback tolerates all of them,
// so callers log the result rather than rejecting the composition.
func (c *Composition) Validate() error {
	var err error
	if c.Duration <= 0 {
		err = multierr.Append(err, fmt.Errorf("duration %.2f must be positive", c.Duration))
	}
	if end := c.MaxEnd(); end > c.Duration {
		err = multierr.Append(err, fmt.Errorf("clips end at %.2f, past duration %.2f", end, c.Duration))
	}
	for i, clip := range c.Clips {
		if clip.Audio == "" {
			err = multierr.Append(err, fmt.Errorf("clip %d: missing audio", i+1))
		}
		if clip.Start < 0 || clip.End <= clip.Start {
			err = multierr.Append(err, fmt.Errorf("clip %d (%s): bad window [%.2f, %.2f)", i+1, clip.Audio, clip.Start, clip.End))
			continue
		}
		if clip.FadeIn > clip.Length() || clip.FadeOut > clip.Length() {
			err = multierr.Append(err, fmt.Errorf("clip %d (%s): fades %.2f/%.2f exceed length %.2f",
				i+1, clip.Audio, clip.FadeIn, clip.FadeOut, clip.Length()))
		}
	}
	return err
}

// FormatTime renders seconds as m:ss, truncating fractions.
func FormatTime(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	s := int(math.Floor(seconds))
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}

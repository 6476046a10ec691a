package timeline

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// TrackDoc is the wire form of a clip, shared by the JSON API and the YAML
// composition files. Optional fields are pointers so absence can be told
// apart from an explicit zero.
type TrackDoc struct {
	Audio     string     `json:"audio" yaml:"audio"`
	Start     *float64   `json:"start,omitempty" yaml:"start,omitempty"`
	End       *float64   `json:"end,omitempty" yaml:"end,omitempty"`
	Volume    *float64   `json:"volume,omitempty" yaml:"volume,omitempty"`
	Loop      *bool      `json:"loop,omitempty" yaml:"loop,omitempty"`
	FadeIn    *float64   `json:"fade_in,omitempty" yaml:"fade_in,omitempty"`
	FadeOut   *float64   `json:"fade_out,omitempty" yaml:"fade_out,omitempty"`
	Duration  float64    `json:"duration,omitempty" yaml:"-"`
	AudioInfo *AudioInfo `json:"audio_info,omitempty" yaml:"-"`
}

// Document is the wire form of a composition.
type Document struct {
	ID          string     `json:"id,omitempty" yaml:"-"`
	Name        string     `json:"name" yaml:"name"`
	Description string     `json:"description" yaml:"description"`
	Duration    float64    `json:"duration" yaml:"duration"`
	Tracks      []TrackDoc `json:"tracks" yaml:"tracks"`
}

// DecodeOptions supplies the defaults for fields a document leaves out.
// Loop always defaults to true; start defaults to 0 and end to the
// composition duration.
type DecodeOptions struct {
	DefaultVolume  float64
	DefaultFadeIn  float64
	DefaultFadeOut float64
}

// Composition converts d into the playback model, filling defaults.
func (d Document) Composition(opts DecodeOptions) *Composition {
	c := &Composition{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Duration:    d.Duration,
		Clips:       make([]Clip, 0, len(d.Tracks)),
	}
	for _, t := range d.Tracks {
		c.Clips = append(c.Clips, Clip{
			Audio:   t.Audio,
			Start:   floatOr(t.Start, 0),
			End:     floatOr(t.End, d.Duration),
			Loop:    t.Loop == nil || *t.Loop,
			Volume:  floatOr(t.Volume, opts.DefaultVolume),
			FadeIn:  floatOr(t.FadeIn, opts.DefaultFadeIn),
			FadeOut: floatOr(t.FadeOut, opts.DefaultFadeOut),
			Info:    t.AudioInfo,
		})
	}
	return c
}

// NewDocument renders c with every field explicit, the way the detail
// endpoint serves it.
func NewDocument(c *Composition) Document {
	d := Document{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		Duration:    c.Duration,
		Tracks:      make([]TrackDoc, 0, len(c.Clips)),
	}
	for _, clip := range c.Clips {
		clip := clip
		d.Tracks = append(d.Tracks, TrackDoc{
			Audio:     clip.Audio,
			Start:     &clip.Start,
			End:       &clip.End,
			Volume:    &clip.Volume,
			Loop:      &clip.Loop,
			FadeIn:    &clip.FadeIn,
			FadeOut:   &clip.FadeOut,
			Duration:  clip.Length(),
			AudioInfo: clip.Info,
		})
	}
	return d
}

// DecodeJSON parses a composition detail document.
func DecodeJSON(data []byte, opts DecodeOptions) (*Composition, error) {
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode composition json: %w", err)
	}
	return d.Composition(opts), nil
}

// DecodeYAML parses a composition file. The id is not part of the file.
func DecodeYAML(id string, data []byte, opts DecodeOptions) (*Composition, error) {
	var d Document
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode composition yaml: %w", err)
	}
	d.ID = id
	return d.Composition(opts), nil
}

// EncodeYAML renders c as a composition file.
func EncodeYAML(c *Composition) ([]byte, error) {
	d := NewDocument(c)
	d.ID = ""
	return yaml.Marshal(d)
}

func floatOr(p *float64, fallback float64) float64 {
	if p == nil {
		return fallback
	}
	return *p
}

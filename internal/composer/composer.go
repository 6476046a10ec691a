// Package composer asks an LLM to arrange sounds from the library into a
// composition for a described scene.
package composer

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/satindergrewal/whitenoise/internal/repository"
	"github.com/satindergrewal/whitenoise/internal/timeline"
)

var (
	// ErrNoYAML means the completion held no composition document.
	ErrNoYAML = errors.New("no composition yaml in response")
	// ErrEmptyScene is returned for a blank scene description.
	ErrEmptyScene = errors.New("empty scene description")
)

// Defaults applied to tracks the model leaves incomplete.
var trackDefaults = timeline.DecodeOptions{
	DefaultVolume:  0.5,
	DefaultFadeIn:  5,
	DefaultFadeOut: 5,
}

// LLM completes a prompt under a system message.
type LLM interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// InvalidError reports a generated document that failed validation. Raw
// is the full completion, for display next to the error.
type InvalidError struct {
	Reason string
	Raw    string
}

func (e *InvalidError) Error() string {
	return "invalid composition: " + e.Reason
}

// Result is a validated composition ready to save.
type Result struct {
	ID          string
	Composition *timeline.Composition
	YAML        string // the extracted document as the model wrote it
}

// Generator turns scene descriptions into compositions.
type Generator struct {
	llm LLM
	lib *repository.Library
	log *zap.Logger
}

// NewGenerator creates a generator choosing sounds from lib.
func NewGenerator(llm LLM, lib *repository.Library, log *zap.Logger) *Generator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Generator{llm: llm, lib: lib, log: log}
}

// Generate asks the model for a composition matching scene.
func (g *Generator) Generate(ctx context.Context, scene string) (*Result, error) {
	scene = strings.TrimSpace(scene)
	if scene == "" {
		return nil, ErrEmptyScene
	}

	raw, err := g.llm.Generate(ctx, SystemPrompt(g.lib), "Compose a soundscape for this scene:\n\n"+scene)
	if err != nil {
		return nil, fmt.Errorf("generate composition: %w", err)
	}

	doc, ok := ExtractYAML(raw)
	if !ok {
		g.log.Warn("model returned no yaml", zap.String("raw", raw))
		return nil, ErrNoYAML
	}
	comp, err := Parse(doc, g.lib)
	if err != nil {
		var inv *InvalidError
		if errors.As(err, &inv) {
			inv.Raw = raw
		}
		return nil, err
	}

	id := NewID()
	comp.ID = id
	g.log.Info("composition generated",
		zap.String("id", id),
		zap.String("name", comp.Name),
		zap.Int("tracks", len(comp.Clips)))
	return &Result{ID: id, Composition: comp, YAML: doc}, nil
}

// NewID returns a fresh ai_xxxxxxxx composition id.
func NewID() string {
	return "ai_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

var fence = regexp.MustCompile("```(?:yaml)?\\s*\\n([\\s\\S]*?)\\n```")

// ExtractYAML pulls the composition document out of a completion: the
// first fenced block, or the whole text when it starts with "name:".
func ExtractYAML(text string) (string, bool) {
	text = stripThinking(text)
	if m := fence.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	if strings.HasPrefix(text, "name:") {
		return text, true
	}
	return "", false
}

// stripThinking drops a leading <think>...</think> block.
func stripThinking(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.Index(s, "</think>"); idx >= 0 {
		s = strings.TrimSpace(s[idx+len("</think>"):])
	}
	return s
}

// rawDoc keeps every field optional so missing ones can be reported.
type rawDoc struct {
	Name        *string              `yaml:"name"`
	Description string               `yaml:"description"`
	Duration    *float64             `yaml:"duration"`
	Tracks      *[]timeline.TrackDoc `yaml:"tracks"`
}

// Parse decodes and validates a generated document: name, duration and
// a non-empty track list are required, and every audio file must be in
// lib. Missing track fields get the composer defaults.
func Parse(doc string, lib *repository.Library) (*timeline.Composition, error) {
	var raw rawDoc
	if err := yaml.Unmarshal([]byte(doc), &raw); err != nil {
		return nil, &InvalidError{Reason: fmt.Sprintf("yaml: %v", err)}
	}
	switch {
	case raw.Name == nil:
		return nil, &InvalidError{Reason: "missing field: name"}
	case raw.Duration == nil:
		return nil, &InvalidError{Reason: "missing field: duration"}
	case raw.Tracks == nil:
		return nil, &InvalidError{Reason: "missing field: tracks"}
	case len(*raw.Tracks) == 0:
		return nil, &InvalidError{Reason: "tracks must be a non-empty list"}
	}
	for i, t := range *raw.Tracks {
		if t.Audio == "" {
			return nil, &InvalidError{Reason: fmt.Sprintf("track %d: missing audio", i+1)}
		}
		if !lib.Has(t.Audio) {
			return nil, &InvalidError{Reason: fmt.Sprintf("track %d: unknown audio file %s", i+1, t.Audio)}
		}
	}

	d := timeline.Document{
		Name:        *raw.Name,
		Description: raw.Description,
		Duration:    *raw.Duration,
		Tracks:      *raw.Tracks,
	}
	comp := d.Composition(trackDefaults)
	for i := range comp.Clips {
		comp.Clips[i].Info = lib.Info(comp.Clips[i].Audio)
	}
	return comp, nil
}

// Saver persists compositions under an id.
type Saver interface {
	Save(id string, c *timeline.Composition) (string, error)
}

// Save writes r through s and returns the stored path.
func Save(s Saver, r *Result) (string, error) {
	return s.Save(r.ID, r.Composition)
}

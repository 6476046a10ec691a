package repository

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/satindergrewal/whitenoise/internal/timeline"
)

// SoundFile describes one audio file of the sound library.
type SoundFile struct {
	Filename          string  `yaml:"filename" json:"filename"`
	DescriptionZH     string  `yaml:"description_zh" json:"description_zh"`
	DescriptionEN     string  `yaml:"description_en" json:"description_en"`
	Scene             string  `yaml:"scene" json:"scene"`
	DurationSeconds   float64 `yaml:"duration_seconds,omitempty" json:"duration_seconds,omitempty"`
	DurationFormatted string  `yaml:"duration_formatted,omitempty" json:"duration_formatted,omitempty"`
	VolumeLevel       string  `yaml:"volume_level,omitempty" json:"volume_level,omitempty"`
	VolumeDB          float64 `yaml:"volume_db,omitempty" json:"volume_db,omitempty"`
}

// SoundCategory groups sound files.
type SoundCategory struct {
	NameZH string      `yaml:"name_zh" json:"name_zh"`
	NameEN string      `yaml:"name_en" json:"name_en"`
	Files  []SoundFile `yaml:"files" json:"files"`
}

// Library is the audio descriptions file.
type Library struct {
	Metadata     map[string]any           `yaml:"metadata" json:"metadata,omitempty"`
	Categories   map[string]SoundCategory `yaml:"categories" json:"categories"`
	UnknownFiles []SoundFile              `yaml:"unknown_files,omitempty" json:"unknown_files,omitempty"`
	UsageGuide   map[string]any           `yaml:"usage_guide,omitempty" json:"usage_guide,omitempty"`

	byName map[string]SoundFile
}

// LoadLibrary reads the descriptions YAML at path.
func LoadLibrary(path string) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sound library: %w", err)
	}
	return ParseLibrary(data)
}

// ParseLibrary decodes a descriptions document.
func ParseLibrary(data []byte) (*Library, error) {
	var lib Library
	if err := yaml.Unmarshal(data, &lib); err != nil {
		return nil, fmt.Errorf("parse sound library: %w", err)
	}
	lib.index()
	return &lib, nil
}

func (l *Library) index() {
	l.byName = make(map[string]SoundFile)
	for _, cat := range l.Categories {
		for _, f := range cat.Files {
			l.byName[f.Filename] = f
		}
	}
}

// CategoryIDs returns the category keys in sorted order.
func (l *Library) CategoryIDs() []string {
	ids := make([]string, 0, len(l.Categories))
	for id := range l.Categories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Has reports whether filename is a categorized library file.
func (l *Library) Has(filename string) bool {
	if l == nil {
		return false
	}
	_, ok := l.byName[filename]
	return ok
}

// Info returns the clip metadata for filename, or nil if unknown.
func (l *Library) Info(filename string) *timeline.AudioInfo {
	if l == nil {
		return nil
	}
	f, ok := l.byName[filename]
	if !ok {
		return nil
	}
	return &timeline.AudioInfo{
		DescriptionZH:   f.DescriptionZH,
		DescriptionEN:   f.DescriptionEN,
		Scene:           f.Scene,
		DurationSeconds: f.DurationSeconds,
	}
}

// Summary renders the library as a compact listing for an LLM prompt.
func (l *Library) Summary() string {
	var b strings.Builder
	b.WriteString("Available sounds:\n")
	for _, id := range l.CategoryIDs() {
		cat := l.Categories[id]
		name := cat.NameEN
		if name == "" {
			name = id
		}
		fmt.Fprintf(&b, "\n## %s\n", name)
		for _, f := range cat.Files {
			level := f.VolumeLevel
			if level == "" {
				level = "medium"
			}
			desc := f.DescriptionEN
			if desc == "" {
				desc = f.DescriptionZH
			}
			fmt.Fprintf(&b, "- %s: %s | scene: %s | length: %s | volume: %s\n",
				f.Filename, desc, f.Scene, f.DurationFormatted, level)
		}
	}
	return b.String()
}

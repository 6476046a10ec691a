package composer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/satindergrewal/whitenoise/internal/repository"
	"github.com/satindergrewal/whitenoise/internal/timeline"
)

const libraryYAML = `
categories:
  rain:
    name_en: Rain
    files:
      - filename: rain.mp3
        description_en: Light rain
        scene: sleep
        duration_formatted: "1:01"
        volume_level: soft
  birds:
    name_en: Birds
    files:
      - filename: birds.mp3
        description_en: Morning birds
        scene: forest
`

const goodDoc = `name: Forest Walk
description: birds over soft rain
duration: 300
tracks:
  - audio: rain.mp3
    volume: 0.2
    fade_in: 20
  - audio: birds.mp3
    start: 30
    end: 90
    loop: false`

func library(t *testing.T) *repository.Library {
	t.Helper()
	lib, err := repository.ParseLibrary([]byte(libraryYAML))
	if err != nil {
		t.Fatal(err)
	}
	return lib
}

func TestExtractYAML(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		want   string
		wantOK bool
	}{
		{"fenced yaml", "Here you go:\n```yaml\nname: A\nduration: 10\n```\nEnjoy", "name: A\nduration: 10", true},
		{"bare fence", "```\nname: B\n```", "name: B", true},
		{"bare document", "name: C\nduration: 5", "name: C\nduration: 5", true},
		{"thinking stripped", "<think>hmm</think>\nname: D", "name: D", true},
		{"prose only", "I cannot help with that.", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractYAML(tt.text)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("ExtractYAML = %q, %v; want %q, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestParseDefaults(t *testing.T) {
	comp, err := Parse(goodDoc, library(t))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if comp.Name != "Forest Walk" || comp.Duration != 300 || len(comp.Clips) != 2 {
		t.Fatalf("composition = %+v", comp)
	}
	rain := comp.Clips[0]
	want := timeline.Clip{Audio: "rain.mp3", Start: 0, End: 300, Loop: true, Volume: 0.2, FadeIn: 20, FadeOut: 5}
	rain.Info = nil
	if rain != want {
		t.Errorf("rain = %+v, want %+v", rain, want)
	}
	birds := comp.Clips[1]
	if birds.Loop || birds.Volume != 0.5 || birds.FadeIn != 5 || birds.Start != 30 || birds.End != 90 {
		t.Errorf("birds = %+v", birds)
	}
	if comp.Clips[0].Info == nil || comp.Clips[0].Info.DescriptionEN != "Light rain" {
		t.Errorf("rain info = %+v, want library description", comp.Clips[0].Info)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"no name", "duration: 10\ntracks:\n  - audio: rain.mp3", "name"},
		{"no duration", "name: A\ntracks:\n  - audio: rain.mp3", "duration"},
		{"no tracks", "name: A\nduration: 10", "tracks"},
		{"empty tracks", "name: A\nduration: 10\ntracks: []", "non-empty"},
		{"track without audio", "name: A\nduration: 10\ntracks:\n  - volume: 0.3", "missing audio"},
		{"unknown file", "name: A\nduration: 10\ntracks:\n  - audio: ocean.mp3", "ocean.mp3"},
		{"not yaml", "name: [", "yaml"},
	}
	lib := library(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.doc, lib)
			var inv *InvalidError
			if !errors.As(err, &inv) {
				t.Fatalf("err = %v, want InvalidError", err)
			}
			if !strings.Contains(inv.Reason, tt.want) {
				t.Errorf("reason %q does not mention %q", inv.Reason, tt.want)
			}
		})
	}
}

func TestNewID(t *testing.T) {
	re := regexp.MustCompile(`^ai_[0-9a-f]{8}$`)
	a, b := NewID(), NewID()
	if !re.MatchString(a) || !re.MatchString(b) {
		t.Fatalf("ids %q %q do not match ai_xxxxxxxx", a, b)
	}
	if a == b {
		t.Errorf("ids repeat: %q", a)
	}
}

func TestSystemPromptListsLibrary(t *testing.T) {
	p := SystemPrompt(library(t))
	for _, want := range []string{"rain.mp3", "birds.mp3", "volume: soft", "```yaml"} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func ollamaServer(t *testing.T, reply string, status int) (*httptest.Server, <-chan generateRequest) {
	t.Helper()
	reqs := make(chan generateRequest, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.Write([]byte(`{"models":[]}`))
		case "/api/generate":
			var got generateRequest
			if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
				t.Errorf("decode request: %v", err)
			}
			select {
			case reqs <- got:
			default:
			}
			if status != http.StatusOK {
				http.Error(w, "model not found", status)
				return
			}
			json.NewEncoder(w).Encode(generateResponse{Response: reply, Done: true})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, reqs
}

type memSaver map[string]*timeline.Composition

func (m memSaver) Save(id string, c *timeline.Composition) (string, error) {
	m[id] = c
	return id + ".yaml", nil
}

func TestGeneratorWithOllama(t *testing.T) {
	srv, reqs := ollamaServer(t, "```yaml\n"+goodDoc+"\n```", http.StatusOK)
	client := NewClient(srv.URL+"/", "qwen3:8b", zaptest.NewLogger(t))
	if !client.Available(context.Background()) {
		t.Fatal("server should be available")
	}

	g := NewGenerator(client, library(t), zaptest.NewLogger(t))
	res, err := g.Generate(context.Background(), "a walk in the woods after rain")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	req := <-reqs
	if req.Model != "qwen3:8b" || req.Stream {
		t.Errorf("request = %+v", req)
	}
	if !strings.Contains(req.System, "rain.mp3") || !strings.Contains(req.Prompt, "walk in the woods") {
		t.Errorf("prompt not built from library and scene")
	}
	if !strings.HasPrefix(res.ID, "ai_") || res.Composition.ID != res.ID {
		t.Errorf("id = %q / %q", res.ID, res.Composition.ID)
	}
	if res.YAML != goodDoc {
		t.Errorf("YAML = %q", res.YAML)
	}

	saved := memSaver{}
	path, err := Save(saved, res)
	if err != nil || path != res.ID+".yaml" {
		t.Fatalf("Save = %q, %v", path, err)
	}
	if saved[res.ID] != res.Composition {
		t.Error("composition not saved under its id")
	}
}

func TestGeneratorSaveRoundTrip(t *testing.T) {
	srv, _ := ollamaServer(t, goodDoc, http.StatusOK)
	lib := library(t)
	g := NewGenerator(NewClient(srv.URL, "m", nil), lib, nil)
	res, err := g.Generate(context.Background(), "forest")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	store := repository.NewDirStore(t.TempDir(), lib, timeline.DecodeOptions{DefaultVolume: 1}, nil)
	if _, err := Save(store, res); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := store.Get(context.Background(), res.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "Forest Walk" || len(got.Clips) != 2 || got.Clips[1].Volume != 0.5 {
		t.Errorf("stored composition = %+v", got)
	}
}

func TestGeneratorErrors(t *testing.T) {
	lib := library(t)

	if _, err := NewGenerator(nil, lib, nil).Generate(context.Background(), "  "); !errors.Is(err, ErrEmptyScene) {
		t.Errorf("blank scene err = %v", err)
	}

	srv, _ := ollamaServer(t, "", http.StatusNotFound)
	if _, err := NewGenerator(NewClient(srv.URL, "m", nil), lib, nil).Generate(context.Background(), "x"); err == nil ||
		!strings.Contains(err.Error(), "404") {
		t.Errorf("http failure err = %v", err)
	}

	srv, _ = ollamaServer(t, "Sorry, no.", http.StatusOK)
	if _, err := NewGenerator(NewClient(srv.URL, "m", nil), lib, nil).Generate(context.Background(), "x"); !errors.Is(err, ErrNoYAML) {
		t.Errorf("prose reply err = %v", err)
	}

	bad := "name: A\nduration: 10\ntracks:\n  - audio: ocean.mp3"
	srv, _ = ollamaServer(t, bad, http.StatusOK)
	_, err := NewGenerator(NewClient(srv.URL, "m", nil), lib, nil).Generate(context.Background(), "x")
	var inv *InvalidError
	if !errors.As(err, &inv) || inv.Raw != bad {
		t.Errorf("invalid reply err = %v", err)
	}
}

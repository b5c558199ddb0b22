// Package persona defines the closed set of AI characters users can talk
// to and their prompt specifications. Specs are versioned operator content
// embedded at build time and loaded once per process; unknown persona or
// mood identifiers are rejected at the API boundary, never defaulted deep
// inside prompt construction.
package persona

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed specs.yaml
var embeddedSpecs []byte

// Mood selects the interaction style for a conversation.
type Mood string

const (
	MoodPraise Mood = "praise"
	MoodListen Mood = "listen"
)

// ParseMood parses a mood identifier, defaulting empty input to praise.
func ParseMood(s string) (Mood, error) {
	switch Mood(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return MoodPraise, nil
	case MoodPraise:
		return MoodPraise, nil
	case MoodListen:
		return MoodListen, nil
	default:
		return "", fmt.Errorf("unknown mood %q", s)
	}
}

// Spec is the static prompt specification for one persona.
type Spec struct {
	ID              string            `yaml:"id"`
	DisplayName     string            `yaml:"display_name"`
	Style           string            `yaml:"style"`
	Moods           map[string]string `yaml:"moods"`
	FallbackReplies []string          `yaml:"fallback_replies"`
}

// MoodInstruction returns the instruction fragment for the given mood.
func (s Spec) MoodInstruction(mood Mood) string {
	return s.Moods[string(mood)]
}

type specsFile struct {
	Version  string `yaml:"version"`
	Personas []Spec `yaml:"personas"`
}

// Registry is the immutable persona set, loaded once at startup.
type Registry struct {
	version string
	specs   map[string]Spec
}

// LoadRegistry parses and validates the embedded persona specs.
func LoadRegistry() (*Registry, error) {
	return loadRegistry(embeddedSpecs)
}

func loadRegistry(data []byte) (*Registry, error) {
	var file specsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse persona specs: %w", err)
	}
	if strings.TrimSpace(file.Version) == "" {
		return nil, fmt.Errorf("persona specs missing version")
	}
	if len(file.Personas) == 0 {
		return nil, fmt.Errorf("persona specs define no personas")
	}

	specs := make(map[string]Spec, len(file.Personas))
	for _, s := range file.Personas {
		id := strings.TrimSpace(s.ID)
		if id == "" {
			return nil, fmt.Errorf("persona with empty id")
		}
		if _, dup := specs[id]; dup {
			return nil, fmt.Errorf("duplicate persona id %q", id)
		}
		if strings.TrimSpace(s.Style) == "" {
			return nil, fmt.Errorf("persona %q has no style", id)
		}
		if len(s.FallbackReplies) == 0 {
			return nil, fmt.Errorf("persona %q has no fallback replies", id)
		}
		for _, mood := range []Mood{MoodPraise, MoodListen} {
			if strings.TrimSpace(s.Moods[string(mood)]) == "" {
				return nil, fmt.Errorf("persona %q missing %q mood instruction", id, mood)
			}
		}
		specs[id] = s
	}

	return &Registry{version: file.Version, specs: specs}, nil
}

// Get returns the spec for a persona id.
func (r *Registry) Get(id string) (Spec, bool) {
	s, ok := r.specs[strings.TrimSpace(id)]
	return s, ok
}

// IDs returns all persona ids in stable order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.specs))
	for id := range r.specs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Version reports the loaded spec file version.
func (r *Registry) Version() string {
	return r.version
}

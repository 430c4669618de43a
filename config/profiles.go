package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Provider names a profile may reference.
const (
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"
)

// GenerationParameters are the sampling settings passed to the generation model.
type GenerationParameters struct {
	Temperature *float32 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	TopP        *float32 `json:"top_p,omitempty" yaml:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty" yaml:"stop,omitempty"`
}

// Profile selects the embedding and generation models used by the pipeline.
type Profile struct {
	Name            string               `json:"-" yaml:"-"`
	Provider        string               `json:"provider" yaml:"provider"`
	EmbeddingModel  string               `json:"embedding_model" yaml:"embedding_model"`
	GenerationModel string               `json:"generation_model" yaml:"generation_model"`
	Parameters      GenerationParameters `json:"parameters" yaml:"parameters"`
}

// Validate checks a single profile in isolation.
func (p Profile) Validate() error {
	switch p.Provider {
	case ProviderOpenAI, ProviderLocal:
	default:
		return fmt.Errorf("profile %q: unsupported provider %q", p.Name, p.Provider)
	}
	if p.GenerationModel == "" {
		return fmt.Errorf("profile %q: generation_model is required", p.Name)
	}
	if p.EmbeddingModel == "" {
		return fmt.Errorf("profile %q: embedding_model is required", p.Name)
	}
	if t := p.Parameters.Temperature; t != nil && (*t < 0 || *t > 2) {
		return fmt.Errorf("profile %q: temperature must be between 0 and 2", p.Name)
	}
	if m := p.Parameters.MaxTokens; m != nil && *m < 1 {
		return fmt.Errorf("profile %q: max_tokens must be positive", p.Name)
	}
	if tp := p.Parameters.TopP; tp != nil && (*tp <= 0 || *tp > 1) {
		return fmt.Errorf("profile %q: top_p must be in (0, 1]", p.Name)
	}
	return nil
}

// Profiles maps profile names to profiles. It is built once at startup and
// never mutated afterwards.
type Profiles map[string]Profile

// Get returns the named profile.
func (ps Profiles) Get(name string) (Profile, bool) {
	p, ok := ps[name]
	return p, ok
}

// Names returns the profile names in sorted order.
func (ps Profiles) Names() []string {
	names := make([]string, 0, len(ps))
	for name := range ps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseProfiles decodes a JSON object of named profiles, e.g. the
// MODEL_CONFIGS environment variable. defaultEmbedding fills profiles that
// omit embedding_model.
func ParseProfiles(raw string, defaultEmbedding string) (Profiles, error) {
	if strings.TrimSpace(raw) == "" {
		return Profiles{}, nil
	}
	var decoded map[string]Profile
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("failed to parse model configs: %w", err)
	}
	return finishProfiles(decoded, defaultEmbedding), nil
}

// LoadProfilesFile reads named profiles from a YAML or JSON file.
func LoadProfilesFile(path string, defaultEmbedding string) (Profiles, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model configs file: %w", err)
	}
	// YAML is a superset of JSON, so one decoder covers both formats.
	var decoded map[string]Profile
	if err := yaml.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("failed to parse model configs file %s: %w", path, err)
	}
	return finishProfiles(decoded, defaultEmbedding), nil
}

func finishProfiles(decoded map[string]Profile, defaultEmbedding string) Profiles {
	out := make(Profiles, len(decoded))
	for name, p := range decoded {
		p.Name = name
		p.Provider = strings.ToLower(strings.TrimSpace(p.Provider))
		if p.EmbeddingModel == "" {
			p.EmbeddingModel = defaultEmbedding
		}
		out[name] = p
	}
	return out
}

package model

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/goccy/go-yaml"
)

// Persona binds a conversational identity to the models it may spend against.
// An empty AllowedModels list means every catalog model is permitted.
type Persona struct {
	ID            string   `yaml:"id"`
	SystemPrompt  string   `yaml:"system_prompt"`
	DefaultModel  string   `yaml:"default_model"`
	AllowedModels []string `yaml:"allowed_models"`
}

// Allows reports whether the persona may be served by the given model. The
// noop model is always allowed: it spends nothing and keeps degraded requests
// answerable.
func (p *Persona) Allows(modelID string) bool {
	if modelID == NoopModelID {
		return true
	}
	if len(p.AllowedModels) == 0 {
		return true
	}
	return slices.Contains(p.AllowedModels, modelID)
}

func (p *Persona) validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("model: persona is missing an id")
	}
	return nil
}

// PersonaRegistry is the immutable persona lookup built at startup.
type PersonaRegistry struct {
	byID map[string]Persona
}

func NewPersonaRegistry(personas []Persona) (*PersonaRegistry, error) {
	registry := &PersonaRegistry{byID: make(map[string]Persona, len(personas))}
	for i := range personas {
		p := personas[i]
		if err := p.validate(); err != nil {
			return nil, err
		}
		if _, exists := registry.byID[p.ID]; exists {
			return nil, fmt.Errorf("model: duplicate persona id %q", p.ID)
		}
		registry.byID[p.ID] = p
	}
	return registry, nil
}

func (r *PersonaRegistry) Lookup(personaID string) (*Persona, bool) {
	p, ok := r.byID[personaID]
	if !ok {
		return nil, false
	}
	return &p, true
}

type personaFile struct {
	Personas []Persona `yaml:"personas"`
}

// LoadPersonas reads a persona registry from a YAML file.
func LoadPersonas(path string) (*PersonaRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("model: read personas %s: %w", path, err)
	}
	var file personaFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("model: parse personas %s: %w", path, err)
	}
	return NewPersonaRegistry(file.Personas)
}

package model

import (
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/shopspring/decimal"
)

// NoopModelID names the built-in zero-cost model of last resort. It is always
// present in every catalog and never calls a provider.
const NoopModelID = "noop"

// Descriptor describes one routable model: which provider serves it, what it
// can do, where it sits in the fallback ordering, and what it costs.
type Descriptor struct {
	ModelID       string          `yaml:"model_id"`
	Provider      string          `yaml:"provider"`
	ProviderModel string          `yaml:"provider_model"`
	APIKey        string          `yaml:"api_key"`
	APIURL        string          `yaml:"api_url"`
	Capabilities  []string        `yaml:"capabilities"`
	PriorityTier  int             `yaml:"priority_tier"`
	CostPerToken  decimal.Decimal `yaml:"cost_per_token"`
}

// HasCapability reports whether the model advertises the given capability.
func (d *Descriptor) HasCapability(capability string) bool {
	return slices.Contains(d.Capabilities, capability)
}

// CoversCapabilities reports whether the model advertises every capability in
// the given set. A fallback must cover the requested model's capabilities to
// be substitutable.
func (d *Descriptor) CoversCapabilities(capabilities []string) bool {
	for _, capability := range capabilities {
		if !d.HasCapability(capability) {
			return false
		}
	}
	return true
}

func (d *Descriptor) validate() error {
	if strings.TrimSpace(d.ModelID) == "" {
		return fmt.Errorf("model: descriptor is missing model_id")
	}
	if strings.TrimSpace(d.Provider) == "" {
		return fmt.Errorf("model: %q is missing a provider", d.ModelID)
	}
	if d.CostPerToken.IsNegative() {
		return fmt.Errorf("model: %q has a negative cost_per_token", d.ModelID)
	}
	return nil
}

func noopDescriptor() Descriptor {
	return Descriptor{
		ModelID:      NoopModelID,
		Provider:     "noop",
		Capabilities: []string{"chat"},
		PriorityTier: 1 << 30,
		CostPerToken: decimal.Zero,
	}
}

// Catalog is the immutable registry of routable models. Built once at startup;
// lookups are read-only afterwards.
type Catalog struct {
	byID  map[string]Descriptor
	order []string
}

// NewCatalog builds a catalog from descriptors. The noop model is always
// appended so a fallback chain can never be empty.
func NewCatalog(descriptors []Descriptor) (*Catalog, error) {
	catalog := &Catalog{byID: make(map[string]Descriptor, len(descriptors)+1)}
	for i := range descriptors {
		d := descriptors[i]
		if err := d.validate(); err != nil {
			return nil, err
		}
		if _, exists := catalog.byID[d.ModelID]; exists {
			return nil, fmt.Errorf("model: duplicate model_id %q", d.ModelID)
		}
		catalog.byID[d.ModelID] = d
		catalog.order = append(catalog.order, d.ModelID)
	}
	if _, exists := catalog.byID[NoopModelID]; !exists {
		noop := noopDescriptor()
		catalog.byID[NoopModelID] = noop
		catalog.order = append(catalog.order, NoopModelID)
	}
	return catalog, nil
}

// Lookup resolves a model by ID.
func (c *Catalog) Lookup(modelID string) (Descriptor, bool) {
	d, ok := c.byID[modelID]
	return d, ok
}

// Models returns every descriptor in declaration order.
func (c *Catalog) Models() []Descriptor {
	out := make([]Descriptor, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// FallbackChain returns the deterministic candidate order for a requested
// model: the requested model first, then every model covering the same
// capabilities at a strictly lower tier (higher tier number), ascending by
// tier and breaking ties by model ID, and finally the noop model. Unknown
// requested IDs yield a noop-only chain.
func (c *Catalog) FallbackChain(requestedID string) []Descriptor {
	requested, ok := c.byID[requestedID]
	if !ok || requestedID == NoopModelID {
		return []Descriptor{c.byID[NoopModelID]}
	}
	chain := []Descriptor{requested}
	var fallbacks []Descriptor
	for _, id := range c.order {
		if id == requestedID || id == NoopModelID {
			continue
		}
		candidate := c.byID[id]
		if candidate.PriorityTier <= requested.PriorityTier {
			continue
		}
		if !candidate.CoversCapabilities(requested.Capabilities) {
			continue
		}
		fallbacks = append(fallbacks, candidate)
	}
	sort.SliceStable(fallbacks, func(i, j int) bool {
		if fallbacks[i].PriorityTier == fallbacks[j].PriorityTier {
			return fallbacks[i].ModelID < fallbacks[j].ModelID
		}
		return fallbacks[i].PriorityTier < fallbacks[j].PriorityTier
	})
	chain = append(chain, fallbacks...)
	chain = append(chain, c.byID[NoopModelID])
	return chain
}

type catalogFile struct {
	Models []Descriptor `yaml:"models"`
}

// LoadCatalog reads a model catalog from a YAML file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("model: read catalog %s: %w", path, err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("model: parse catalog %s: %w", path, err)
	}
	return NewCatalog(file.Models)
}

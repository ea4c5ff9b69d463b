package auth

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/goccy/go-yaml"
)

// Role is one entry of the role/permission catalog. Cross-scope privilege
// flags let a role target divisions or departments beyond the principal's own.
type Role struct {
	ID              string   `yaml:"id"               json:"id"`
	Permissions     []string `yaml:"permissions"      json:"permissions"`
	CrossDivision   bool     `yaml:"cross_division"   json:"cross_division"`
	CrossDepartment bool     `yaml:"cross_department" json:"cross_department"`
}

// HasPermission reports whether the role's permission set includes action.
func (r *Role) HasPermission(action string) bool {
	return slices.Contains(r.Permissions, action)
}

// Catalog exposes read-only role lookup. Implementations must be safe for
// concurrent use; the gate performs no locking of its own.
type Catalog interface {
	Lookup(roleID string) (*Role, bool)
}

// StaticCatalog is an immutable in-memory role table built once at startup.
type StaticCatalog struct {
	roles map[string]Role
}

func NewStaticCatalog(roles []Role) (*StaticCatalog, error) {
	indexed := make(map[string]Role, len(roles))
	for i := range roles {
		id := strings.TrimSpace(roles[i].ID)
		if id == "" {
			return nil, fmt.Errorf("auth: role at index %d is missing an id", i)
		}
		if _, exists := indexed[id]; exists {
			return nil, fmt.Errorf("auth: duplicate role %q", id)
		}
		indexed[id] = roles[i]
	}
	return &StaticCatalog{roles: indexed}, nil
}

func (c *StaticCatalog) Lookup(roleID string) (*Role, bool) {
	role, ok := c.roles[roleID]
	if !ok {
		return nil, false
	}
	return &role, true
}

type rolesFile struct {
	Roles []Role `yaml:"roles"`
}

// LoadCatalog reads a role catalog from a YAML file.
func LoadCatalog(path string) (*StaticCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("auth: read role catalog: %w", err)
	}
	var file rolesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("auth: parse role catalog: %w", err)
	}
	return NewStaticCatalog(file.Roles)
}

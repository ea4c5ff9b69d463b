package core

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Scope bounds data visibility to a (division, department) pair. Every stored
// artifact is tagged with the scope that produced it; a retrieval issued under
// one scope must never surface an artifact tagged with a different division.
type Scope struct {
	DivisionID   string `json:"division_id"   yaml:"division_id"`
	DepartmentID string `json:"department_id" yaml:"department_id"`
}

func (s Scope) String() string {
	if s.DepartmentID == "" {
		return s.DivisionID
	}
	return s.DivisionID + "/" + s.DepartmentID
}

func (s Scope) IsZero() bool {
	return s.DivisionID == "" && s.DepartmentID == ""
}

// SameDivision reports whether both scopes belong to the same division.
func (s Scope) SameDivision(other Scope) bool {
	return s.DivisionID == other.DivisionID
}

// Contains reports whether an artifact tagged with other is visible under s.
// An empty department on s means division-wide visibility.
func (s Scope) Contains(other Scope) bool {
	if !s.SameDivision(other) {
		return false
	}
	if s.DepartmentID == "" {
		return true
	}
	return s.DepartmentID == other.DepartmentID
}

// Principal is the acting identity for one request, immutable for the
// request's lifetime.
type Principal struct {
	UserID string `json:"user_id" yaml:"user_id"`
	RoleID string `json:"role_id" yaml:"role_id"`
	Scope  Scope  `json:"scope"   yaml:"scope"`
}

func (p Principal) Validate() error {
	if strings.TrimSpace(p.UserID) == "" {
		return fmt.Errorf("core: principal user_id is required")
	}
	if strings.TrimSpace(p.RoleID) == "" {
		return fmt.Errorf("core: principal role_id is required")
	}
	if strings.TrimSpace(p.Scope.DivisionID) == "" {
		return fmt.Errorf("core: principal division_id is required")
	}
	return nil
}

// QueryContext carries the tenancy context for one request. It is constructed
// once per request and read-only thereafter. TargetScope is the scope the
// caller wants retrieval to run under; when nil the principal's own scope is
// used.
type QueryContext struct {
	RequestID        string
	Principal        Principal
	PersonaID        string
	RequestedModelID string
	ConversationID   string
	TargetScope      *Scope
}

// NewQueryContext builds a request context with a fresh request identifier.
func NewQueryContext(principal Principal, personaID, modelID, conversationID string) QueryContext {
	return QueryContext{
		RequestID:        uuid.NewString(),
		Principal:        principal,
		PersonaID:        personaID,
		RequestedModelID: modelID,
		ConversationID:   conversationID,
	}
}

// EffectiveTarget resolves the scope authorization should be evaluated
// against: the explicit target scope when present, the principal's own scope
// otherwise.
func (q QueryContext) EffectiveTarget() Scope {
	if q.TargetScope != nil && !q.TargetScope.IsZero() {
		return *q.TargetScope
	}
	return q.Principal.Scope
}

package auth

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palisade-ai/palisade/engine/core"
	"github.com/palisade-ai/palisade/pkg/logger"
)

func testCatalog(t *testing.T) *StaticCatalog {
	t.Helper()
	catalog, err := NewStaticCatalog([]Role{
		{ID: "analyst", Permissions: []string{ActionQuery}},
		{ID: "division_admin", Permissions: []string{ActionQuery}, CrossDepartment: true},
		{ID: "super_admin", Permissions: []string{ActionQuery}, CrossDivision: true, CrossDepartment: true},
		{ID: "auditor", Permissions: []string{"view_audit_logs"}},
	})
	require.NoError(t, err)
	return catalog
}

func analystPrincipal() core.Principal {
	return core.Principal{
		UserID: "u1",
		RoleID: "analyst",
		Scope:  core.Scope{DivisionID: "fmcg", DepartmentID: "sales"},
	}
}

func TestGateAuthorize(t *testing.T) {
	ctx := context.Background()
	gate, err := NewGate(testCatalog(t))
	require.NoError(t, err)

	t.Run("Should allow a principal inside its own scope", func(t *testing.T) {
		decision := gate.Authorize(ctx, analystPrincipal(), ActionQuery, core.Scope{DivisionID: "fmcg", DepartmentID: "sales"})
		assert.True(t, decision.Allowed)
		assert.Equal(t, core.Scope{DivisionID: "fmcg", DepartmentID: "sales"}, decision.EffectiveScope)
	})

	t.Run("Should deny an unknown role fail-closed", func(t *testing.T) {
		principal := analystPrincipal()
		principal.RoleID = "ghost"
		decision := gate.Authorize(ctx, principal, ActionQuery, principal.Scope)
		assert.False(t, decision.Allowed)
		assert.Equal(t, ReasonPermissionDenied, decision.Reason)
	})

	t.Run("Should deny an action outside the permission set", func(t *testing.T) {
		principal := analystPrincipal()
		principal.RoleID = "auditor"
		decision := gate.Authorize(ctx, principal, ActionQuery, principal.Scope)
		assert.False(t, decision.Allowed)
		assert.Equal(t, ReasonPermissionDenied, decision.Reason)
	})

	t.Run("Should deny cross-division access without the privilege flag", func(t *testing.T) {
		principal := core.Principal{
			UserID: "u2",
			RoleID: "analyst",
			Scope:  core.Scope{DivisionID: "hotel", DepartmentID: "sales"},
		}
		decision := gate.Authorize(ctx, principal, ActionQuery, core.Scope{DivisionID: "fmcg", DepartmentID: "sales"})
		assert.False(t, decision.Allowed)
		assert.Equal(t, ReasonScopeViolation, decision.Reason)
	})

	t.Run("Should allow cross-division access for privileged roles", func(t *testing.T) {
		principal := analystPrincipal()
		principal.RoleID = "super_admin"
		target := core.Scope{DivisionID: "hotel", DepartmentID: "ops"}
		decision := gate.Authorize(ctx, principal, ActionQuery, target)
		assert.True(t, decision.Allowed)
		assert.Equal(t, target, decision.EffectiveScope)
	})

	t.Run("Should deny department broadening without the privilege flag", func(t *testing.T) {
		decision := gate.Authorize(ctx, analystPrincipal(), ActionQuery, core.Scope{DivisionID: "fmcg"})
		assert.False(t, decision.Allowed)
		assert.Equal(t, ReasonScopeViolation, decision.Reason)
	})

	t.Run("Should allow division-wide scope for cross-department roles", func(t *testing.T) {
		principal := analystPrincipal()
		principal.RoleID = "division_admin"
		decision := gate.Authorize(ctx, principal, ActionQuery, core.Scope{DivisionID: "fmcg"})
		assert.True(t, decision.Allowed)
		assert.Equal(t, "", decision.EffectiveScope.DepartmentID)
	})

	t.Run("Should deny a sibling department without the privilege flag", func(t *testing.T) {
		decision := gate.Authorize(ctx, analystPrincipal(), ActionQuery, core.Scope{DivisionID: "fmcg", DepartmentID: "hr"})
		assert.False(t, decision.Allowed)
		assert.Equal(t, ReasonScopeViolation, decision.Reason)
	})

	t.Run("Should log denials without repeating the context-bound user_id", func(t *testing.T) {
		var buf bytes.Buffer
		log := logger.NewLogger(&logger.Config{Level: logger.WarnLevel, Output: &buf}).With("user_id", "u1")
		loggedCtx := logger.ContextWithLogger(context.Background(), log)
		principal := analystPrincipal()
		principal.RoleID = "ghost"
		decision := gate.Authorize(loggedCtx, principal, ActionQuery, principal.Scope)
		assert.False(t, decision.Allowed)
		out := buf.String()
		assert.Equal(t, 1, strings.Count(out, "user_id="))
		assert.Contains(t, out, "role_id=ghost")
	})

	t.Run("Should deny an invalid principal", func(t *testing.T) {
		decision := gate.Authorize(ctx, core.Principal{}, ActionQuery, core.Scope{DivisionID: "fmcg"})
		assert.False(t, decision.Allowed)
	})
}

func TestCatalog(t *testing.T) {
	t.Run("Should reject duplicate role ids", func(t *testing.T) {
		_, err := NewStaticCatalog([]Role{{ID: "a"}, {ID: "a"}})
		assert.Error(t, err)
	})

	t.Run("Should reject roles without an id", func(t *testing.T) {
		_, err := NewStaticCatalog([]Role{{Permissions: []string{ActionQuery}}})
		assert.Error(t, err)
	})
}

package auth

import (
	"context"
	"errors"

	"github.com/palisade-ai/palisade/engine/core"
	"github.com/palisade-ai/palisade/pkg/logger"
)

// Denial reasons carried on a Decision.
const (
	ReasonPermissionDenied = "permission_denied"
	ReasonScopeViolation   = "scope_violation"
)

// Actions the pipeline asks the gate about.
const (
	ActionQuery = "execute_query"
)

// Decision is the gate's terminal verdict for one request. Denials stop the
// pipeline before retrieval, redaction, or any provider spend.
type Decision struct {
	Allowed        bool
	Reason         string
	EffectiveScope core.Scope
}

// Gate evaluates role-based and attribute-based policy for a request. It is a
// pure function of (principal, action, target scope); the role table is
// read-only and shared without locking.
type Gate struct {
	catalog Catalog
}

func NewGate(catalog Catalog) (*Gate, error) {
	if catalog == nil {
		return nil, errors.New("auth: role catalog is required")
	}
	return &Gate{catalog: catalog}, nil
}

// Authorize checks the principal's role permissions and scope attributes
// against the requested action and target scope. Any lookup failure denies by
// default; the gate never fails open.
func (g *Gate) Authorize(ctx context.Context, principal core.Principal, action string, target core.Scope) Decision {
	// The orchestrator already binds user_id on the context logger.
	log := logger.FromContext(ctx).With("role_id", principal.RoleID)
	if err := principal.Validate(); err != nil {
		log.Warn("authorization denied: invalid principal", "error", core.RedactError(err))
		return deny(ReasonPermissionDenied)
	}
	role, ok := g.catalog.Lookup(principal.RoleID)
	if !ok {
		log.Warn("authorization denied: unknown role")
		return deny(ReasonPermissionDenied)
	}
	if !role.HasPermission(action) {
		log.Warn("authorization denied: missing permission", "action", action)
		return deny(ReasonPermissionDenied)
	}
	if target.DivisionID != principal.Scope.DivisionID && !role.CrossDivision {
		log.Warn("authorization denied: division scope violation",
			"principal_division", principal.Scope.DivisionID,
			"target_division", target.DivisionID)
		return deny(ReasonScopeViolation)
	}
	if !departmentAllowed(role, principal.Scope, target) {
		log.Warn("authorization denied: department scope violation",
			"principal_department", principal.Scope.DepartmentID,
			"target_department", target.DepartmentID)
		return deny(ReasonScopeViolation)
	}
	return Decision{Allowed: true, EffectiveScope: target}
}

// departmentAllowed enforces department attribute checks. Targeting a sibling
// department, or an empty department (division-wide visibility), requires the
// cross-department privilege. Cross-division roles inherently cross
// departments in the foreign division.
func departmentAllowed(role *Role, principal core.Scope, target core.Scope) bool {
	if target.DivisionID != principal.DivisionID {
		return role.CrossDivision
	}
	if target.DepartmentID == principal.DepartmentID && target.DepartmentID != "" {
		return true
	}
	if target.DepartmentID == "" && principal.DepartmentID == "" {
		return true
	}
	return role.CrossDepartment
}

func deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

package rbac

import (
	"context"
	"strings"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// Role represents a high-level permission grouping.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleSupervisor Role = "supervisor"
	RoleCashier    Role = "cashier"
	RoleViewer     Role = "viewer"
)

// ParseRole normalises a role name; unknown names yield false.
func ParseRole(raw string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	switch role {
	case RoleAdmin, RoleSupervisor, RoleCashier, RoleViewer:
		return role, true
	}
	return "", false
}

// Capabilities maps a role to the operations it may perform.
type Capabilities map[Role][]string

// DefaultCapabilities is the built-in role table.
func DefaultCapabilities() Capabilities {
	return Capabilities{
		RoleAdmin: shared.RegisterScopes(),
		RoleSupervisor: {
			shared.PermRegisterOpen,
			shared.PermRegisterClose,
			shared.PermRegisterMovement,
			shared.PermRegisterView,
			shared.PermSalesRecord,
		},
		RoleCashier: {
			shared.PermRegisterOpen,
			shared.PermRegisterMovement,
			shared.PermRegisterView,
			shared.PermSalesRecord,
		},
		RoleViewer: {
			shared.PermRegisterView,
		},
	}
}

// Principal describes the authenticated operator.
type Principal struct {
	OperatorID int64
	Role       Role
}

type principalContextKey struct{}

// ContextWithPrincipal stores the principal and its actor id in context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	ctx = context.WithValue(ctx, principalContextKey{}, p)
	return shared.ContextWithActor(ctx, p.OperatorID)
}

// PrincipalFromContext extracts the principal, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}

package rbac

// Service resolves the effective permissions of a principal.
type Service struct {
	caps Capabilities
}

// NewService constructs the service. A nil table falls back to DefaultCapabilities.
func NewService(caps Capabilities) *Service {
	if caps == nil {
		caps = DefaultCapabilities()
	}
	return &Service{caps: caps}
}

// EffectivePermissions returns the permissions granted to p.
func (s *Service) EffectivePermissions(p Principal) []string {
	if s == nil {
		return nil
	}
	return s.caps[p.Role]
}

// Can reports whether p holds perm.
func (s *Service) Can(p Principal, perm string) bool {
	return hasAnyPermission(s.EffectivePermissions(p), normalizePermissions([]string{perm}))
}

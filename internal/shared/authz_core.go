package shared

// Register and sales permissions.
const (
	PermRegisterOpen     = "register.open"
	PermRegisterClose    = "register.close"
	PermRegisterMovement = "register.movement"
	PermRegisterView     = "register.view"

	PermSalesRecord = "sales.record"
)

// RegisterScopes lists every permission the POS service checks.
func RegisterScopes() []string {
	return []string{
		PermRegisterOpen,
		PermRegisterClose,
		PermRegisterMovement,
		PermRegisterView,
		PermSalesRecord,
	}
}

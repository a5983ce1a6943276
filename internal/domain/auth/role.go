package auth

// Role carried in the access token's "role" claim.
type Role string

const (
	RoleOwner    Role = "owner"
	RoleManager  Role = "manager"
	RoleEmployee Role = "employee"
)

// PayrollRoles may calculate and commit payroll.
var PayrollRoles = []Role{RoleOwner, RoleManager}

package rbac

type Role string
type Action string

const (
	RoleCustomer Role = "customer"
	RoleAgent    Role = "agent"
	RoleEditor   Role = "editor"
	RoleAdmin    Role = "admin"
)

const (
	// ActionRead covers tenant-visible reads: catalog, published posts, own rows.
	ActionRead Action = "read"
	// ActionComment lets a profile open tickets and bookings it owns.
	ActionComment Action = "comment"
	// ActionSupport works any ticket or case in the organization.
	ActionSupport Action = "support"
	// ActionPublish writes CMS posts and the product catalog.
	ActionPublish Action = "publish"
	ActionAdmin   Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleEditor:
		return action == ActionRead || action == ActionComment || action == ActionPublish
	case RoleAgent:
		return action == ActionRead || action == ActionComment || action == ActionSupport
	case RoleCustomer:
		return action == ActionRead || action == ActionComment
	default:
		return false
	}
}

// IsStaff reports whether the role belongs to the organization's own team.
func IsStaff(role Role) bool {
	return role == RoleAgent || role == RoleEditor || role == RoleAdmin
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleCustomer, RoleAgent, RoleEditor, RoleAdmin:
		return Role(role)
	default:
		return RoleCustomer
	}
}

func Valid(role string) bool {
	switch Role(role) {
	case RoleCustomer, RoleAgent, RoleEditor, RoleAdmin:
		return true
	default:
		return false
	}
}

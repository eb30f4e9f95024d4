package rbac

type Role string
type Action string

const (
	RoleViewer Role = "viewer"
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

const (
	ActionRead    Action = "read"
	ActionReact   Action = "react"
	ActionComment Action = "comment"
	ActionPublish Action = "publish"
	ActionPromote Action = "promote"
	ActionAdmin   Action = "admin"
)

// Can reports whether the role may perform the action at all. Ownership
// checks (who may promote which idea) happen in the service.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleMember:
		return action != ActionAdmin
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

// Normalize maps unknown or empty roles to member, the role every signed-up
// account starts with.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleMember, RoleAdmin:
		return Role(role)
	default:
		return RoleMember
	}
}

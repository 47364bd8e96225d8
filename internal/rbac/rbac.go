// Package rbac decides what a token role may do.
package rbac

type Role string
type Action string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

const (
	// ActionRead covers comparing, diffing and searching manuscripts.
	ActionRead Action = "read"
	// ActionWrite covers creating manuscripts, which is what a merge does.
	ActionWrite Action = "write"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin, RoleEditor:
		return action == ActionRead || action == ActionWrite
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

// Normalize maps unknown or empty roles to the least privileged one.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleEditor, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}

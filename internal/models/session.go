package models

// Session is the caller identity established by the auth layer and
// passed into the engine on every call. The engine performs no
// authentication itself; it only enforces owner scoping and role checks.
type Session struct {
	UserID string
	Role   Role
}

// IsAdmin reports whether the caller may operate on records of any owner.
func (s Session) IsAdmin() bool {
	return s.Role == RoleAdmin
}

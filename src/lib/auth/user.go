package auth

// User is the authenticated identity the session runtime receives. How the
// user was authenticated (cookies, tokens) is the fronting layer's concern;
// by the time a request reaches the core it carries one of these.
type User struct {
	Username    string      `json:"username"`
	Permissions Permissions `json:"permissions"`
}

// Permissions are the flags the runtime consults for access decisions.
type Permissions struct {
	// ManageAllSessions lets the holder attach to, write to and terminate any
	// session regardless of visibility (admin).
	ManageAllSessions bool `json:"manage_all_sessions"`

	// Broadcast lets a pseudo-connection (the scheduler) inject input into
	// sessions it owns without being attached.
	Broadcast bool `json:"broadcast"`
}

// Anonymous reports whether the user carries no identity. Anonymous users are
// rejected on every mutating operation.
func (u User) Anonymous() bool {
	return u.Username == ""
}

// Admin reports whether the user may manage all sessions.
func (u User) Admin() bool {
	return u.Permissions.ManageAllSessions
}

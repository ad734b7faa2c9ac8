package gate

// GateState names the outcome of evaluating a session against a route.
type GateState int

const (
	// StateResolving the identity provider has not reported yet
	StateResolving GateState = iota
	// StateUnauthenticated resolution finished without a user
	StateUnauthenticated
	// StatePendingToken a user is present but the token is still being restored or issued
	StatePendingToken
	// StateExpired a user is present but token resolution finished without a token
	StateExpired
	// StatePendingRole the route needs a role that has not resolved yet
	StatePendingRole
	// StateAuthorized render the route
	StateAuthorized
	// StateForbidden the resolved role does not satisfy the route
	StateForbidden
)

func (s GateState) String() string {
	switch s {
	case StateResolving:
		return "resolving"
	case StateUnauthenticated:
		return "unauthenticated"
	case StatePendingToken:
		return "pending_token"
	case StateExpired:
		return "expired"
	case StatePendingRole:
		return "pending_role"
	case StateAuthorized:
		return "authorized"
	case StateForbidden:
		return "forbidden"
	default:
		return "invalid"
	}
}

// Action is what the transport must do for a given state.
type Action int

const (
	ActionWait Action = iota
	ActionRender
	ActionRedirectLogin
	ActionLogout
	ActionRedirectForbidden
)

// Action maps the state to the transport action
func (s GateState) Action() Action {
	switch s {
	case StateAuthorized:
		return ActionRender
	case StateUnauthenticated:
		return ActionRedirectLogin
	case StateExpired:
		return ActionLogout
	case StateForbidden:
		return ActionRedirectForbidden
	default:
		return ActionWait
	}
}

// Requirement describes what a route needs. No roles means any
// authenticated user.
type Requirement struct {
	Roles []Role
}

// RequireAuth any signed in user with a token
func RequireAuth() Requirement {
	return Requirement{}
}

// RequireRole restricts a route to the given roles
func RequireRole(roles ...Role) Requirement {
	return Requirement{Roles: roles}
}

// RoleGated reports whether the requirement depends on the role
func (r Requirement) RoleGated() bool {
	return len(r.Roles) > 0
}

// RoleState is the outcome of role resolution for the current user.
type RoleState struct {
	Role     Role
	Resolved bool
	Err      error
}

// Decision is the result of Evaluate.
type Decision struct {
	State GateState
	Role  Role
}

// Action shortcut
func (d Decision) Action() Action {
	return d.State.Action()
}

// Evaluate reconciles the session and role state into a gate decision. It
// never fails: errors from the resolvers are already folded into the
// states it receives.
func Evaluate(session Session, req Requirement, role RoleState) Decision {
	if session.ResolvingUser {
		return Decision{State: StateResolving, Role: RoleUnknown}
	}

	if session.User == nil {
		return Decision{State: StateUnauthenticated, Role: RoleUnknown}
	}

	if session.ResolvingToken {
		return Decision{State: StatePendingToken, Role: RoleUnknown}
	}

	if session.AccessToken == "" {
		return Decision{State: StateExpired, Role: RoleUnknown}
	}

	current := role.Role
	if !role.Resolved || !current.IsValid() {
		current = RoleUnknown
	}

	if !req.RoleGated() {
		return Decision{State: StateAuthorized, Role: current}
	}

	if !role.Resolved {
		return Decision{State: StatePendingRole, Role: RoleUnknown}
	}

	if current.OneOf(req.Roles...) {
		return Decision{State: StateAuthorized, Role: current}
	}

	return Decision{State: StateForbidden, Role: current}
}

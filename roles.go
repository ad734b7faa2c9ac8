package gate

import "strings"

// Role is the backend assigned authorization label of a signed in user
type Role string

const (
	RoleUnknown   Role = "unknown"
	RoleTourist   Role = "tourist"
	RoleTourGuide Role = "tour_guide"
	RoleAdmin     Role = "admin"
)

// IsValid checks if the role is one of the known roles. RoleUnknown is
// valid: it is the explicit fail-safe value.
func (r Role) IsValid() bool {
	switch r {
	case RoleUnknown, RoleTourist, RoleTourGuide, RoleAdmin:
		return true
	default:
		return false
	}
}

// IsPrivileged reports whether the role grants access beyond a tourist
func (r Role) IsPrivileged() bool {
	switch r {
	case RoleTourGuide, RoleAdmin:
		return true
	default:
		return false
	}
}

// OneOf checks membership, unknown never matches
func (r Role) OneOf(roles ...Role) bool {
	if r == RoleUnknown || !r.IsValid() {
		return false
	}
	for _, candidate := range roles {
		if candidate == r {
			return true
		}
	}
	return false
}

func (r Role) String() string {
	return string(r)
}

// GetAllRoles returns the assignable roles
func GetAllRoles() []Role {
	return []Role{
		RoleTourist,
		RoleTourGuide,
		RoleAdmin,
	}
}

// ParseRole maps a backend label to a Role. Anything it does not recognise
// becomes RoleUnknown and ok is false.
func ParseRole(raw string) (Role, bool) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	normalized = strings.ReplaceAll(normalized, " ", "_")

	switch normalized {
	case "tourist":
		return RoleTourist, true
	case "tour_guide", "guide", "tourguide":
		return RoleTourGuide, true
	case "admin":
		return RoleAdmin, true
	default:
		return RoleUnknown, false
	}
}

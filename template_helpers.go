package gate

import (
	"maps"

	"github.com/gofiber/fiber/v2"
)

var (
	TemplateUserKey = "current_user"
	TemplateRoleKey = "current_role"
)

// TemplateHelpers returns helper functions and constants for views.
//
// In templates, you can then use:
//
//	{% if is_authenticated(current_user) %}
//	{% if has_role(current_role, roles.admin) %}
func TemplateHelpers() map[string]any {
	return map[string]any{
		"is_authenticated": isAuthenticated,
		"has_role":         hasRole,
		"is_privileged":    isPrivileged,

		"roles": map[string]string{
			"tourist":    string(RoleTourist),
			"tour_guide": string(RoleTourGuide),
			"admin":      string(RoleAdmin),
		},
	}
}

// MergeViewData adds the helpers, the current user and role attached by the
// guard to data. Keys already in data win.
func MergeViewData(c *fiber.Ctx, data fiber.Map) fiber.Map {
	out := fiber.Map{}
	maps.Copy(out, TemplateHelpers())

	if session, ok := SessionFromContext(c); ok && session.User != nil {
		out[TemplateUserKey] = session.User
	} else {
		out[TemplateUserKey] = nil
	}
	out[TemplateRoleKey] = string(RoleFromContext(c))

	token := CSRFToken(c)
	out[CSRFContextKey] = token
	out["csrf_field"] = csrfField(token)

	maps.Copy(out, data)
	return out
}

func isAuthenticated(user any) bool {
	switch u := user.(type) {
	case *User:
		return u != nil && u.Email != ""
	case User:
		return u.Email != ""
	case Session:
		return u.Authenticated()
	default:
		return false
	}
}

func hasRole(current any, roles ...string) bool {
	var role Role
	switch r := current.(type) {
	case Role:
		role = r
	case string:
		role = Role(r)
	default:
		return false
	}

	wanted := make([]Role, 0, len(roles))
	for _, r := range roles {
		wanted = append(wanted, Role(r))
	}
	return role.OneOf(wanted...)
}

func isPrivileged(current any) bool {
	switch r := current.(type) {
	case Role:
		return r.IsPrivileged()
	case string:
		return Role(r).IsPrivileged()
	default:
		return false
	}
}

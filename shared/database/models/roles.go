package models

// Role is a role flag as known by the identity authority. The authority keeps a flat
// per-account set of these flags with no organization scoping; organization scoping
// lives in the memberships table only.
type Role string

const (
	RoleMember        Role = "member"
	RoleAdministrator Role = "administrator"
	RoleOrgAdmin      Role = "org_admin"
	RoleOrganizer     Role = "organizer"
	RoleGuest         Role = "guest"
)

// OrganizationRoles are the roles a membership may carry, lowest privilege first.
var OrganizationRoles = []Role{RoleGuest, RoleOrganizer, RoleOrgAdmin}

// DefaultMemberRole is granted when no explicit role is requested (join-request approval).
const DefaultMemberRole = RoleGuest

// IsOrganizationRole reports whether r can be held through an organization membership.
func IsOrganizationRole(r Role) bool {
	for _, role := range OrganizationRoles {
		if r == role {
			return true
		}
	}
	return false
}

package model

// User is the authenticated caller as supplied by the external identity provider.
type User struct {
	ID             string   `json:"id"`
	OrganizationID string   `json:"organization_id"`
	Permissions    []string `json:"permissions"`
}

// HasPermission reports whether the user holds perm.
func (u *User) HasPermission(perm string) bool {
	for _, p := range u.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

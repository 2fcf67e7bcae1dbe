// Package session defines the authenticated viewer value threaded explicitly
// through every component that needs role or location scope.
//
// Nothing in the core reads the session from ambient state: transport code
// extracts it once from the request and passes it on by value.
package session

import (
	"fmt"
	"strings"
)

// Role is the portal role carried by a session.
type Role string

const (
	RoleCitizen  Role = "Citizen"
	RoleStaff    Role = "Staff"
	RoleWard     Role = "Ward"
	RoleDistrict Role = "District"
	RoleAdmin    Role = "Admin"
)

var knownRoles = []Role{RoleCitizen, RoleStaff, RoleWard, RoleDistrict, RoleAdmin}

// ParseRole matches s case-insensitively against the known roles.
func ParseRole(s string) (Role, error) {
	s = strings.TrimSpace(s)
	for _, r := range knownRoles {
		if strings.EqualFold(s, string(r)) {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role: %q", s)
}

func (r Role) String() string { return string(r) }

// IsDistrictClass reports whether r scopes visibility by district.
func (r Role) IsDistrictClass() bool {
	return strings.EqualFold(string(r), string(RoleDistrict))
}

// IsWardClass reports whether r scopes visibility by ward. Staff are
// attached to a ward office.
func (r Role) IsWardClass() bool {
	return strings.EqualFold(string(r), string(RoleWard)) ||
		strings.EqualFold(string(r), string(RoleStaff))
}

// CanReview reports whether r may act on applications from a dashboard.
func (r Role) CanReview() bool {
	return r.IsDistrictClass() || r.IsWardClass() || strings.EqualFold(string(r), string(RoleAdmin))
}

// Session is the authenticated viewer.
type Session struct {
	ActorID  string
	Role     Role
	District string
	Ward     string
}

// Scope returns the visibility filter derived from the session.
func (s Session) Scope() Scope {
	return Scope{Role: s.Role, District: s.District, Ward: s.Ward}
}

// IsZero reports whether no session is present.
func (s Session) IsZero() bool {
	return s.ActorID == "" && s.Role == ""
}

// Scope is the (role, district, ward) triple restricting which rows a query
// or subscription may surface. Empty strings mean "not set".
type Scope struct {
	Role     Role
	District string
	Ward     string
}

// LocationFilter applies the precedence rule: a district-class role with a
// district filters by district; otherwise a ward- or staff-class role with a
// ward filters by ward; otherwise there is no location filter.
func (s Scope) LocationFilter() (column, value string, ok bool) {
	switch {
	case s.Role.IsDistrictClass() && s.District != "":
		return "district", s.District, true
	case s.Role.IsWardClass() && s.Ward != "":
		return "ward", s.Ward, true
	default:
		return "", "", false
	}
}

func (s Scope) String() string {
	return fmt.Sprintf("role=%s district=%s ward=%s", s.Role, s.District, s.Ward)
}

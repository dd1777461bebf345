package auth

import "fmt"

// Role is the closed set of account roles. Higher roles imply lower ones:
// admin ⊇ responsable ⊇ utilisateur.
type Role uint8

const (
	// RoleInvalid is the zero value and satisfies nothing.
	RoleInvalid Role = iota
	RoleUtilisateur
	RoleResponsable
	RoleAdmin

	roleCount
)

var roleNames = [roleCount]string{
	RoleInvalid:     "",
	RoleUtilisateur: "utilisateur",
	RoleResponsable: "responsable",
	RoleAdmin:       "admin",
}

// implies[r][q] is true when role r grants everything role q grants.
var implies = [roleCount][roleCount]bool{
	RoleUtilisateur: {RoleUtilisateur: true},
	RoleResponsable: {RoleUtilisateur: true, RoleResponsable: true},
	RoleAdmin:       {RoleUtilisateur: true, RoleResponsable: true, RoleAdmin: true},
}

// ParseRole converts a stored role name. Unknown names yield RoleInvalid.
func ParseRole(s string) Role {
	for r := RoleUtilisateur; r < roleCount; r++ {
		if roleNames[r] == s {
			return r
		}
	}
	return RoleInvalid
}

// String returns the stored name of the role.
func (r Role) String() string {
	if r >= roleCount {
		return ""
	}
	return roleNames[r]
}

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	return r > RoleInvalid && r < roleCount
}

// Satisfies reports whether a holder of r may access something that
// requires the given role.
func (r Role) Satisfies(required Role) bool {
	if !r.Valid() || !required.Valid() {
		return false
	}
	return implies[r][required]
}

// MarshalText encodes the role by name for JSON.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid role %d", r)
	}
	return []byte(r.String()), nil
}

// UnmarshalText decodes a role name; unknown names are an error.
func (r *Role) UnmarshalText(b []byte) error {
	parsed := ParseRole(string(b))
	if !parsed.Valid() {
		return fmt.Errorf("unknown role %q", string(b))
	}
	*r = parsed
	return nil
}

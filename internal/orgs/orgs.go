// Package orgs describes the three-organization mesh: which organization is
// authoritative for which role, and where each organization's API lives. The
// directory is explicit configuration passed to the components that need it;
// there are no package-level tables.
package orgs

import (
	"fmt"
	"strings"

	"github.com/openparcel/custodymesh/internal/custody"
)

// Org names an organization in the mesh.
type Org string

const (
	// OrgSellers runs the seller-facing API and owns seller accounts.
	OrgSellers Org = "sellers"
	// OrgLogistics owns delivery personnel accounts.
	OrgLogistics Org = "logistics"
	// OrgPlatform is the customer-facing platform; it owns customer and
	// admin accounts.
	OrgPlatform Org = "platform"
)

// ParseOrg maps a configured organization name to an Org.
func ParseOrg(name string) (Org, error) {
	switch Org(strings.ToLower(strings.TrimSpace(name))) {
	case OrgSellers:
		return OrgSellers, nil
	case OrgLogistics:
		return OrgLogistics, nil
	case OrgPlatform:
		return OrgPlatform, nil
	}
	return "", fmt.Errorf("unknown organization %q", name)
}

// Directory resolves roles to their home organization and organizations to
// their API base URLs. InternalKey is the pre-shared secret for
// service-to-service calls between organizations.
type Directory struct {
	Local       Org
	Roles       map[custody.Role]Org
	Endpoints   map[Org]string
	InternalKey string
}

// DefaultRoles is the standard role ownership split across the mesh.
func DefaultRoles() map[custody.Role]Org {
	return map[custody.Role]Org{
		custody.RoleSeller:         OrgSellers,
		custody.RoleDeliveryPerson: OrgLogistics,
		custody.RoleCustomer:       OrgPlatform,
		custody.RoleAdmin:          OrgPlatform,
	}
}

// HomeOrg returns the organization authoritative for the role.
func (d Directory) HomeOrg(role custody.Role) (Org, bool) {
	org, ok := d.Roles[role]
	return org, ok
}

// IsLocal reports whether the role's home organization is this one.
func (d Directory) IsLocal(role custody.Role) bool {
	org, ok := d.Roles[role]
	return ok && org == d.Local
}

// BaseURL returns the API base URL for an organization, without a trailing
// slash.
func (d Directory) BaseURL(org Org) (string, bool) {
	url, ok := d.Endpoints[org]
	if !ok || url == "" {
		return "", false
	}
	return strings.TrimRight(url, "/"), true
}

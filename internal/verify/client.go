// Package verify implements cross-organization identity verification. Writes
// from a user whose home organization is not the local one must be confirmed
// against that organization's internal API before they are accepted; this
// client makes those calls and fails closed.
package verify

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/openparcel/custodymesh/internal/custody"
	"github.com/openparcel/custodymesh/internal/orgs"
	"github.com/openparcel/custodymesh/internal/platform/metrics"
)

const (
	internalKeyHeader = "X-Internal-Key"
	requestTimeout    = 5 * time.Second
	maxBodyBytes      = 1 << 20
)

// VerifiedUser is a peer organization's confirmation of a user identity.
type VerifiedUser struct {
	ID       string       `json:"id"`
	Username string       `json:"username"`
	Role     custody.Role `json:"role"`
	IsActive bool         `json:"isActive"`
}

// DeliveryPerson is an active courier listed by the logistics organization.
type DeliveryPerson struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	FullName    string `json:"fullName"`
	VehicleInfo string `json:"vehicleInfo,omitempty"`
}

// CustomerAddress is a customer's delivery address held by the platform
// organization.
type CustomerAddress struct {
	FullName string `json:"fullName"`
	Address  string `json:"address"`
}

// Client calls peer organizations' internal APIs. The trust boundary is the
// pre-shared internal key, not the TLS chain: orgs in the mesh run
// self-signed certificates, so certificate verification is skipped on this
// client deliberately.
type Client struct {
	directory orgs.Directory
	http      *http.Client
}

// NewClient builds a client over the org directory.
func NewClient(directory orgs.Directory) *Client {
	return &Client{
		directory: directory,
		http: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
	}
}

// Verify confirms a claimed identity against its home organization. It
// returns nil both when the role's home org is the local one (the caller must
// consult the local user store instead) and on any failure: transport error,
// timeout, non-2xx status, malformed body, identity mismatch, or an inactive
// account. Callers treat nil as "could not verify" and reject the operation.
func (c *Client) Verify(ctx context.Context, userID string, role custody.Role) *VerifiedUser {
	home, ok := c.directory.HomeOrg(role)
	if !ok {
		return nil
	}
	if home == c.directory.Local {
		return nil
	}
	base, ok := c.directory.BaseURL(home)
	if !ok {
		return nil
	}

	var user VerifiedUser
	if !c.getJSON(ctx, base+"/auth/internal/verify-user/"+url.PathEscape(userID), &user) {
		metrics.VerificationRequests.WithLabelValues("failed").Inc()
		return nil
	}
	if user.ID != userID || user.Role != role || !user.IsActive {
		metrics.VerificationRequests.WithLabelValues("failed").Inc()
		return nil
	}
	metrics.VerificationRequests.WithLabelValues("verified").Inc()
	return &user
}

// DeliveryPersons lists active couriers from the logistics organization.
// Degrades to nil on any failure; this feeds an optional UI affordance, not a
// correctness-critical write.
func (c *Client) DeliveryPersons(ctx context.Context) []DeliveryPerson {
	base, ok := c.directory.BaseURL(orgs.OrgLogistics)
	if !ok {
		return nil
	}

	var body struct {
		Success bool             `json:"success"`
		Data    []DeliveryPerson `json:"data"`
	}
	if !c.getJSON(ctx, base+"/users/internal/delivery-persons", &body) || !body.Success {
		return nil
	}
	return body.Data
}

// CustomerAddress fetches a customer's delivery address from the platform
// organization. Degrades to nil on any failure.
func (c *Client) CustomerAddress(ctx context.Context, customerID string) *CustomerAddress {
	base, ok := c.directory.BaseURL(orgs.OrgPlatform)
	if !ok {
		return nil
	}

	var body struct {
		Success bool             `json:"success"`
		Data    *CustomerAddress `json:"data"`
	}
	if !c.getJSON(ctx, base+"/users/internal/customer-address/"+url.PathEscape(customerID), &body) || !body.Success {
		return nil
	}
	return body.Data
}

// getJSON performs an authenticated GET and decodes a 2xx JSON body into out.
func (c *Client) getJSON(ctx context.Context, requestURL string, out any) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return false
	}
	req.Header.Set(internalKeyHeader, c.directory.InternalKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return false
	}
	return json.Unmarshal(data, out) == nil
}

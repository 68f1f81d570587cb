package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/openparcel/custodymesh/internal/auth"
	"github.com/openparcel/custodymesh/internal/custody"
	"github.com/openparcel/custodymesh/internal/delivery"
	"github.com/openparcel/custodymesh/internal/ledger/memledger"
	"github.com/openparcel/custodymesh/internal/orgs"
	apperrors "github.com/openparcel/custodymesh/internal/platform/errors"
	"github.com/openparcel/custodymesh/internal/services/orgapi/storage"
	"github.com/openparcel/custodymesh/internal/verify"
)

var testSecret = []byte("api-test-secret")

const testInternalKey = "internal-test-key"

// memUsers is an in-memory UserStore for handler tests.
type memUsers struct {
	users map[string]storage.User
}

func (m *memUsers) PutUser(_ context.Context, u storage.User) error {
	m.users[u.ID] = u
	return nil
}

func (m *memUsers) UserByID(_ context.Context, id string) (storage.User, error) {
	u, ok := m.users[id]
	if !ok {
		return storage.User{}, apperrors.New(apperrors.CodeNotFound, "user not found")
	}
	return u, nil
}

func (m *memUsers) UserByUsername(_ context.Context, username string) (storage.User, error) {
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return storage.User{}, apperrors.New(apperrors.CodeNotFound, "user not found")
}

func (m *memUsers) ActiveUsersByRole(_ context.Context, role custody.Role) ([]storage.User, error) {
	var out []storage.User
	for _, u := range m.users {
		if u.Role == role && u.IsActive {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memUsers) Close() error { return nil }

// LocalUser lets the same fixture serve as the coordinator's identity source.
func (m *memUsers) LocalUser(ctx context.Context, userID string) (delivery.LocalIdentity, error) {
	u, err := m.UserByID(ctx, userID)
	if err != nil {
		return delivery.LocalIdentity{}, err
	}
	return delivery.LocalIdentity{ID: u.ID, Username: u.Username, Role: u.Role, Active: u.IsActive}, nil
}

type nilVerifier struct{}

func (nilVerifier) Verify(context.Context, string, custody.Role) *verify.VerifiedUser { return nil }

// newTestServer runs the full handler stack against an in-memory ledger with
// every role homed locally, so no cross-org calls leave the process.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	users := &memUsers{users: map[string]storage.User{
		"seller-1": {ID: "seller-1", Username: "acme", Role: custody.RoleSeller, FullName: "Acme Outfitters", IsActive: true},
		"driver-1": {ID: "driver-1", Username: "driver1", Role: custody.RoleDeliveryPerson, FullName: "Dana Driver", VehicleInfo: "Van TX-4821", IsActive: true},
		"cust-42":  {ID: "cust-42", Username: "cust42", Role: custody.RoleCustomer, FullName: "Casey Customer", Address: "12 Oak Ln, Austin TX", IsActive: true},
		"admin-1":  {ID: "admin-1", Username: "admin", Role: custody.RoleAdmin, IsActive: true},
	}}

	directory := orgs.Directory{
		Local: orgs.OrgSellers,
		Roles: map[custody.Role]orgs.Org{
			custody.RoleSeller:         orgs.OrgSellers,
			custody.RoleDeliveryPerson: orgs.OrgSellers,
			custody.RoleCustomer:       orgs.OrgSellers,
			custody.RoleAdmin:          orgs.OrgSellers,
		},
		InternalKey: testInternalKey,
	}

	coordinator := delivery.New(memledger.New(nil), directory, nilVerifier{}, users, nil)
	handler := NewHandler(coordinator, users, nil, directory, testSecret)

	srv := httptest.NewServer(handler.Routes())
	t.Cleanup(srv.Close)
	return srv
}

func token(t *testing.T, userID string, role custody.Role) string {
	t.Helper()
	tok, err := auth.IssueAccessToken(testSecret, userID, userID, role, time.Hour, nil)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	return tok
}

// do issues a JSON request and decodes the response envelope.
func do(t *testing.T, srv *httptest.Server, method, path, bearer string, body any) (int, map[string]json.RawMessage) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, srv.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var envelope map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, envelope
}

func createViaAPI(t *testing.T, srv *httptest.Server) custody.Delivery {
	t.Helper()
	status, envelope := do(t, srv, http.MethodPost, "/api/v1/deliveries", token(t, "seller-1", custody.RoleSeller), map[string]any{
		"orderId":       "ORD-1001",
		"customerId":    "cust-42",
		"packageWeight": 2.5,
		"packageLength": 30.0,
		"packageWidth":  20.0,
		"packageHeight": 10.0,
		"city":          "Dallas",
		"state":         "TX",
		"country":       "US",
	})
	if status != http.StatusCreated {
		t.Fatalf("create delivery status = %d, body %s", status, envelope["error"])
	}
	var d custody.Delivery
	if err := json.Unmarshal(envelope["data"], &d); err != nil {
		t.Fatalf("unmarshal delivery: %v", err)
	}
	return d
}

func TestCreateDelivery(t *testing.T) {
	srv := newTestServer(t)

	d := createViaAPI(t, srv)
	if !strings.HasPrefix(d.DeliveryID, "DEL-") || len(d.DeliveryID) != 21 {
		t.Fatalf("delivery id = %q, want DEL-YYYYMMDD-XXXXXXXX", d.DeliveryID)
	}
	if d.Status != custody.StatusPendingPickup {
		t.Fatalf("status = %s, want %s", d.Status, custody.StatusPendingPickup)
	}
	if d.CurrentCustodianID != "seller-1" {
		t.Fatalf("custodian = %q, want seller-1", d.CurrentCustodianID)
	}
}

func TestCreateDeliveryRequiresSellerRole(t *testing.T) {
	srv := newTestServer(t)

	status, envelope := do(t, srv, http.MethodPost, "/api/v1/deliveries",
		token(t, "cust-42", custody.RoleCustomer), map[string]any{"orderId": "ORD-1"})
	if status != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", status)
	}
	var code string
	if err := json.Unmarshal(envelope["code"], &code); err != nil || code != string(apperrors.CodeForbidden) {
		t.Fatalf("code = %q (%v), want FORBIDDEN", code, err)
	}
}

func TestAuthenticationRequired(t *testing.T) {
	srv := newTestServer(t)

	status, _ := do(t, srv, http.MethodGet, "/api/v1/deliveries", "", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("missing token status = %d, want 401", status)
	}

	bad, err := auth.IssueAccessToken([]byte("other-secret"), "seller-1", "acme", custody.RoleSeller, time.Hour, nil)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	status, _ = do(t, srv, http.MethodGet, "/api/v1/deliveries", bad, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("forged token status = %d, want 401", status)
	}
}

func TestHandoffLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	d := createViaAPI(t, srv)
	base := "/api/v1/custody/" + d.DeliveryID

	status, _ := do(t, srv, http.MethodPost, base+"/initiate", token(t, "seller-1", custody.RoleSeller),
		map[string]any{"toUserId": "driver-1", "toRole": "DELIVERY_PERSON"})
	if status != http.StatusOK {
		t.Fatalf("initiate status = %d", status)
	}

	status, envelope := do(t, srv, http.MethodPost, base+"/confirm", token(t, "driver-1", custody.RoleDeliveryPerson),
		map[string]any{"city": "Austin", "state": "TX", "country": "US"})
	if status != http.StatusOK {
		t.Fatalf("confirm status = %d, body %s", status, envelope["error"])
	}
	var afterPickup custody.Delivery
	if err := json.Unmarshal(envelope["data"], &afterPickup); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if afterPickup.Status != custody.StatusInTransit || afterPickup.CurrentCustodianID != "driver-1" {
		t.Fatalf("after pickup: status %s custodian %s", afterPickup.Status, afterPickup.CurrentCustodianID)
	}

	status, _ = do(t, srv, http.MethodPut, "/api/v1/deliveries/"+d.DeliveryID+"/location",
		token(t, "driver-1", custody.RoleDeliveryPerson),
		map[string]any{"city": "Waco", "state": "TX", "country": "US"})
	if status != http.StatusOK {
		t.Fatalf("update location status = %d", status)
	}

	status, _ = do(t, srv, http.MethodPost, base+"/initiate", token(t, "driver-1", custody.RoleDeliveryPerson),
		map[string]any{"toUserId": "cust-42", "toRole": "CUSTOMER"})
	if status != http.StatusOK {
		t.Fatalf("final initiate status = %d", status)
	}

	status, envelope = do(t, srv, http.MethodPost, base+"/confirm", token(t, "cust-42", custody.RoleCustomer),
		map[string]any{"city": "Austin", "state": "TX", "country": "US"})
	if status != http.StatusOK {
		t.Fatalf("final confirm status = %d", status)
	}
	var delivered custody.Delivery
	if err := json.Unmarshal(envelope["data"], &delivered); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if delivered.Status != custody.StatusConfirmedDelivery {
		t.Fatalf("final status = %s, want %s", delivered.Status, custody.StatusConfirmedDelivery)
	}
}

func TestDisputeAndReinitiateOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	d := createViaAPI(t, srv)
	base := "/api/v1/custody/" + d.DeliveryID

	do(t, srv, http.MethodPost, base+"/initiate", token(t, "seller-1", custody.RoleSeller),
		map[string]any{"toUserId": "driver-1", "toRole": "DELIVERY_PERSON"})

	status, envelope := do(t, srv, http.MethodPost, base+"/dispute", token(t, "driver-1", custody.RoleDeliveryPerson),
		map[string]any{"reason": "box arrived crushed"})
	if status != http.StatusOK {
		t.Fatalf("dispute status = %d", status)
	}
	var disputed custody.Delivery
	if err := json.Unmarshal(envelope["data"], &disputed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if disputed.Status != custody.StatusDisputedPickupHandoff {
		t.Fatalf("status = %s, want %s", disputed.Status, custody.StatusDisputedPickupHandoff)
	}
	if disputed.PendingHandoff == nil || disputed.PendingHandoff.DisputeReason != "box arrived crushed" {
		t.Fatalf("dispute record not kept: %+v", disputed.PendingHandoff)
	}

	status, envelope = do(t, srv, http.MethodPost, base+"/reinitiate", token(t, "seller-1", custody.RoleSeller),
		map[string]any{"note": "repacked in a new box"})
	if status != http.StatusOK {
		t.Fatalf("reinitiate status = %d, body %s", status, envelope["error"])
	}
	var reopened custody.Delivery
	if err := json.Unmarshal(envelope["data"], &reopened); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if reopened.Status != custody.StatusPendingPickupHandoff {
		t.Fatalf("status = %s, want %s", reopened.Status, custody.StatusPendingPickupHandoff)
	}
	if reopened.PendingHandoff.Annotation != "repacked in a new box" {
		t.Fatalf("annotation = %q", reopened.PendingHandoff.Annotation)
	}
}

func TestCancelDeliveryEndpoint(t *testing.T) {
	srv := newTestServer(t)
	d := createViaAPI(t, srv)

	// Couriers cannot reach the endpoint at all.
	status, _ := do(t, srv, http.MethodPost, "/api/v1/deliveries/"+d.DeliveryID+"/cancel",
		token(t, "driver-1", custody.RoleDeliveryPerson), nil)
	if status != http.StatusForbidden {
		t.Fatalf("courier cancel status = %d, want 403", status)
	}

	status, envelope := do(t, srv, http.MethodPost, "/api/v1/deliveries/"+d.DeliveryID+"/cancel",
		token(t, "admin-1", custody.RoleAdmin), nil)
	if status != http.StatusOK {
		t.Fatalf("admin cancel status = %d", status)
	}
	var cancelled custody.Delivery
	if err := json.Unmarshal(envelope["data"], &cancelled); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if cancelled.Status != custody.StatusCancelled {
		t.Fatalf("status = %s, want %s", cancelled.Status, custody.StatusCancelled)
	}
}

func TestInvalidTransitionMapsTo422(t *testing.T) {
	srv := newTestServer(t)
	d := createViaAPI(t, srv)

	// Confirming with no open handoff is an invalid transition.
	status, envelope := do(t, srv, http.MethodPost, "/api/v1/custody/"+d.DeliveryID+"/confirm",
		token(t, "driver-1", custody.RoleDeliveryPerson),
		map[string]any{"city": "Austin", "state": "TX", "country": "US"})
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", status)
	}
	var code string
	if err := json.Unmarshal(envelope["code"], &code); err != nil || code != string(apperrors.CodeInvalidTransition) {
		t.Fatalf("code = %q (%v), want INVALID_TRANSITION", code, err)
	}
}

func TestGetDeliveryVisibility(t *testing.T) {
	srv := newTestServer(t)
	d := createViaAPI(t, srv)
	path := "/api/v1/deliveries/" + d.DeliveryID

	status, _ := do(t, srv, http.MethodGet, path, token(t, "cust-42", custody.RoleCustomer), nil)
	if status != http.StatusOK {
		t.Fatalf("customer read status = %d", status)
	}

	// driver-1 is not yet involved with this delivery.
	status, _ = do(t, srv, http.MethodGet, path, token(t, "driver-1", custody.RoleDeliveryPerson), nil)
	if status != http.StatusForbidden {
		t.Fatalf("uninvolved courier read status = %d, want 403", status)
	}

	status, _ = do(t, srv, http.MethodGet, "/api/v1/deliveries/DEL-20260101-DEADBEEF",
		token(t, "admin-1", custody.RoleAdmin), nil)
	if status != http.StatusNotFound {
		t.Fatalf("missing delivery status = %d, want 404", status)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	srv := newTestServer(t)
	d := createViaAPI(t, srv)
	base := "/api/v1/custody/" + d.DeliveryID

	do(t, srv, http.MethodPost, base+"/initiate", token(t, "seller-1", custody.RoleSeller),
		map[string]any{"toUserId": "driver-1", "toRole": "DELIVERY_PERSON"})

	status, envelope := do(t, srv, http.MethodGet, "/api/v1/deliveries/"+d.DeliveryID+"/history",
		token(t, "seller-1", custody.RoleSeller), nil)
	if status != http.StatusOK {
		t.Fatalf("history status = %d", status)
	}
	var records []json.RawMessage
	if err := json.Unmarshal(envelope["data"], &records); err != nil {
		t.Fatalf("unmarshal history: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("history length = %d, want 2", len(records))
	}

	// Couriers never see history, even when involved.
	status, _ = do(t, srv, http.MethodGet, "/api/v1/deliveries/"+d.DeliveryID+"/history",
		token(t, "driver-1", custody.RoleDeliveryPerson), nil)
	if status != http.StatusForbidden {
		t.Fatalf("courier history status = %d, want 403", status)
	}
}

func TestRejectsUnknownBodyFields(t *testing.T) {
	srv := newTestServer(t)
	d := createViaAPI(t, srv)

	status, _ := do(t, srv, http.MethodPost, "/api/v1/custody/"+d.DeliveryID+"/initiate",
		token(t, "seller-1", custody.RoleSeller),
		map[string]any{"toUserId": "driver-1", "toRole": "DELIVERY_PERSON", "bogus": true})
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
}

func TestListCouriers(t *testing.T) {
	srv := newTestServer(t)

	status, envelope := do(t, srv, http.MethodGet, "/api/v1/delivery-persons",
		token(t, "cust-42", custody.RoleCustomer), nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	var couriers []courierDTO
	if err := json.Unmarshal(envelope["data"], &couriers); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(couriers) != 1 || couriers[0].ID != "driver-1" || couriers[0].VehicleInfo != "Van TX-4821" {
		t.Fatalf("couriers = %+v", couriers)
	}
}

func TestInternalEndpoints(t *testing.T) {
	srv := newTestServer(t)

	get := func(path, key string) (int, map[string]json.RawMessage) {
		req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
		if err != nil {
			t.Fatalf("NewRequest: %v", err)
		}
		if key != "" {
			req.Header.Set("X-Internal-Key", key)
		}
		resp, err := srv.Client().Do(req)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer resp.Body.Close()
		var envelope map[string]json.RawMessage
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return resp.StatusCode, envelope
	}

	if status, _ := get("/auth/internal/verify-user/seller-1", ""); status != http.StatusUnauthorized {
		t.Fatalf("missing key status = %d, want 401", status)
	}
	if status, _ := get("/auth/internal/verify-user/seller-1", "wrong"); status != http.StatusUnauthorized {
		t.Fatalf("wrong key status = %d, want 401", status)
	}

	status, body := get("/auth/internal/verify-user/seller-1", testInternalKey)
	if status != http.StatusOK {
		t.Fatalf("verify-user status = %d", status)
	}
	var id, role string
	if err := json.Unmarshal(body["id"], &id); err != nil || id != "seller-1" {
		t.Fatalf("id = %q (%v)", id, err)
	}
	if err := json.Unmarshal(body["role"], &role); err != nil || role != "SELLER" {
		t.Fatalf("role = %q (%v)", role, err)
	}

	if status, _ := get("/auth/internal/verify-user/nobody", testInternalKey); status != http.StatusNotFound {
		t.Fatalf("unknown user status = %d, want 404", status)
	}

	status, body = get("/users/internal/customer-address/cust-42", testInternalKey)
	if status != http.StatusOK {
		t.Fatalf("customer-address status = %d", status)
	}
	var addr struct {
		FullName string `json:"fullName"`
		Address  string `json:"address"`
	}
	if err := json.Unmarshal(body["data"], &addr); err != nil {
		t.Fatalf("unmarshal address: %v", err)
	}
	if addr.FullName != "Casey Customer" || addr.Address != "12 Oak Ln, Austin TX" {
		t.Fatalf("address = %+v", addr)
	}

	// Non-customer ids do not leak through the address endpoint.
	if status, _ := get("/users/internal/customer-address/driver-1", testInternalKey); status != http.StatusNotFound {
		t.Fatalf("courier address status = %d, want 404", status)
	}

	status, body = get("/users/internal/delivery-persons", testInternalKey)
	if status != http.StatusOK {
		t.Fatalf("delivery-persons status = %d", status)
	}
	var couriers []courierDTO
	if err := json.Unmarshal(body["data"], &couriers); err != nil || len(couriers) != 1 {
		t.Fatalf("couriers = %+v (%v)", couriers, err)
	}
}

func TestShippingAddress(t *testing.T) {
	srv := newTestServer(t)
	d := createViaAPI(t, srv)
	path := "/api/v1/deliveries/" + d.DeliveryID + "/shipping-address"

	status, envelope := do(t, srv, http.MethodGet, path, token(t, "seller-1", custody.RoleSeller), nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	var addr struct {
		FullName string `json:"fullName"`
		Address  string `json:"address"`
	}
	if err := json.Unmarshal(envelope["data"], &addr); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if addr.FullName != "Casey Customer" || addr.Address != "12 Oak Ln, Austin TX" {
		t.Fatalf("address = %+v", addr)
	}

	// Customers cannot pull addresses through this endpoint.
	status, _ = do(t, srv, http.MethodGet, path, token(t, "cust-42", custody.RoleCustomer), nil)
	if status != http.StatusForbidden {
		t.Fatalf("customer status = %d, want 403", status)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)
	resp, err := srv.Client().Get(srv.URL + "/up")
	if err != nil {
		t.Fatalf("GET /up: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

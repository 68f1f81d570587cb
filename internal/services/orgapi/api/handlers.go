// Package api exposes the org HTTP surface: custody writes, delivery reads,
// and the mesh-internal verification endpoints consumed by peer orgs.
package api

import (
	"net/http"

	"github.com/openparcel/custodymesh/internal/custody"
	"github.com/openparcel/custodymesh/internal/delivery"
	"github.com/openparcel/custodymesh/internal/orgs"
	apperrors "github.com/openparcel/custodymesh/internal/platform/errors"
	"github.com/openparcel/custodymesh/internal/platform/metrics"
	"github.com/openparcel/custodymesh/internal/services/orgapi/storage"
	"github.com/openparcel/custodymesh/internal/verify"
)

// Handler wires the HTTP routes to the coordinator and the local user store.
// mesh is the cross-org lookup client for data homed at peer organizations.
type Handler struct {
	coordinator *delivery.Coordinator
	users       storage.UserStore
	mesh        *verify.Client
	directory   orgs.Directory
	jwtSecret   []byte
}

// NewHandler builds the route handler.
func NewHandler(coordinator *delivery.Coordinator, users storage.UserStore, mesh *verify.Client, directory orgs.Directory, jwtSecret []byte) *Handler {
	return &Handler{
		coordinator: coordinator,
		users:       users,
		mesh:        mesh,
		directory:   directory,
		jwtSecret:   jwtSecret,
	}
}

// Routes assembles the mux. Each route names its middleware chain
// explicitly: authentication, then role authorization, then the handler.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	authed := requireAuth(h.jwtSecret)
	internal := requireInternalKey(h.directory.InternalKey)

	mux.HandleFunc("POST /api/v1/deliveries", chain(h.createDelivery,
		authed, requireRoles(custody.RoleSeller)))
	mux.HandleFunc("GET /api/v1/deliveries", chain(h.listDeliveries, authed))
	mux.HandleFunc("GET /api/v1/deliveries/{id}", chain(h.getDelivery, authed))
	mux.HandleFunc("GET /api/v1/deliveries/{id}/history", chain(h.getHistory,
		authed, requireRoles(custody.RoleSeller, custody.RoleCustomer, custody.RoleAdmin)))
	mux.HandleFunc("POST /api/v1/deliveries/{id}/cancel", chain(h.cancelDelivery,
		authed, requireRoles(custody.RoleSeller, custody.RoleAdmin)))
	mux.HandleFunc("PUT /api/v1/deliveries/{id}/location", chain(h.updateLocation,
		authed, requireRoles(custody.RoleDeliveryPerson)))

	mux.HandleFunc("POST /api/v1/custody/{id}/initiate", chain(h.initiateHandoff,
		authed, requireRoles(custody.RoleSeller, custody.RoleDeliveryPerson)))
	mux.HandleFunc("POST /api/v1/custody/{id}/confirm", chain(h.confirmHandoff,
		authed, requireRoles(custody.RoleDeliveryPerson, custody.RoleCustomer)))
	mux.HandleFunc("POST /api/v1/custody/{id}/dispute", chain(h.disputeHandoff,
		authed, requireRoles(custody.RoleDeliveryPerson, custody.RoleCustomer)))
	mux.HandleFunc("POST /api/v1/custody/{id}/reinitiate", chain(h.reinitiateHandoff,
		authed, requireRoles(custody.RoleSeller, custody.RoleDeliveryPerson)))
	mux.HandleFunc("POST /api/v1/custody/{id}/cancel", chain(h.cancelHandoff,
		authed, requireRoles(custody.RoleSeller, custody.RoleDeliveryPerson)))

	mux.HandleFunc("GET /api/v1/delivery-persons", chain(h.listCouriers, authed))
	mux.HandleFunc("GET /api/v1/deliveries/{id}/shipping-address", chain(h.shippingAddress,
		authed, requireRoles(custody.RoleSeller, custody.RoleAdmin)))

	mux.HandleFunc("GET /auth/internal/verify-user/{userId}", chain(h.verifyUser, internal))
	mux.HandleFunc("GET /users/internal/delivery-persons", chain(h.internalCouriers, internal))
	mux.HandleFunc("GET /users/internal/customer-address/{customerId}", chain(h.customerAddress, internal))

	mux.HandleFunc("GET /up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("GET /metrics", metrics.Handler())

	return mux
}

type deliveryResponse struct {
	Success bool             `json:"success"`
	Data    custody.Delivery `json:"data"`
}

func (h *Handler) createDelivery(w http.ResponseWriter, r *http.Request) {
	var req createDeliveryRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	d, err := h.coordinator.CreateDelivery(r.Context(), actorFrom(r), delivery.CreateDeliveryInput{
		OrderID:    req.OrderID,
		CustomerID: req.CustomerID,
		Weight:     req.PackageWeight,
		Dimensions: custody.PackageDimensions{
			Length: req.PackageLength,
			Width:  req.PackageWidth,
			Height: req.PackageHeight,
		},
		Origin: custody.Location{City: req.City, State: req.State, Country: req.Country},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, deliveryResponse{Success: true, Data: d})
}

func (h *Handler) listDeliveries(w http.ResponseWriter, r *http.Request) {
	deliveries, err := h.coordinator.ListDeliveries(r.Context(), actorFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if deliveries == nil {
		deliveries = []custody.Delivery{}
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool               `json:"success"`
		Data    []custody.Delivery `json:"data"`
	}{true, deliveries})
}

func (h *Handler) getDelivery(w http.ResponseWriter, r *http.Request) {
	d, err := h.coordinator.GetDelivery(r.Context(), actorFrom(r), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deliveryResponse{Success: true, Data: d})
}

func (h *Handler) getHistory(w http.ResponseWriter, r *http.Request) {
	records, err := h.coordinator.GetHistory(r.Context(), actorFrom(r), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		Data    any  `json:"data"`
	}{true, records})
}

func (h *Handler) cancelDelivery(w http.ResponseWriter, r *http.Request) {
	d, err := h.coordinator.CancelDelivery(r.Context(), actorFrom(r), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deliveryResponse{Success: true, Data: d})
}

func (h *Handler) updateLocation(w http.ResponseWriter, r *http.Request) {
	var req updateLocationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	d, err := h.coordinator.UpdateLocation(r.Context(), actorFrom(r), r.PathValue("id"),
		custody.Location{City: req.City, State: req.State, Country: req.Country})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deliveryResponse{Success: true, Data: d})
}

func (h *Handler) initiateHandoff(w http.ResponseWriter, r *http.Request) {
	var req initiateHandoffRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, err)
		return
	}
	d, err := h.coordinator.InitiateHandoff(r.Context(), actorFrom(r), r.PathValue("id"),
		req.ToUserID, custody.Role(req.ToRole))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deliveryResponse{Success: true, Data: d})
}

func (h *Handler) confirmHandoff(w http.ResponseWriter, r *http.Request) {
	var req confirmHandoffRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	dims, err := req.dimensions()
	if err != nil {
		writeError(w, err)
		return
	}
	d, err := h.coordinator.ConfirmHandoff(r.Context(), actorFrom(r), r.PathValue("id"),
		custody.Location{City: req.City, State: req.State, Country: req.Country},
		req.PackageWeight, dims)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deliveryResponse{Success: true, Data: d})
}

func (h *Handler) disputeHandoff(w http.ResponseWriter, r *http.Request) {
	var req disputeHandoffRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	d, err := h.coordinator.DisputeHandoff(r.Context(), actorFrom(r), r.PathValue("id"), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deliveryResponse{Success: true, Data: d})
}

func (h *Handler) reinitiateHandoff(w http.ResponseWriter, r *http.Request) {
	var req reinitiateHandoffRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	d, err := h.coordinator.ReinitiateHandoff(r.Context(), actorFrom(r), r.PathValue("id"), req.Note)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deliveryResponse{Success: true, Data: d})
}

func (h *Handler) cancelHandoff(w http.ResponseWriter, r *http.Request) {
	d, err := h.coordinator.CancelHandoff(r.Context(), actorFrom(r), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deliveryResponse{Success: true, Data: d})
}

type courierDTO struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	FullName    string `json:"fullName"`
	VehicleInfo string `json:"vehicleInfo,omitempty"`
}

// listCouriers serves the courier roster to authenticated clients. When the
// logistics org is local it reads the store; otherwise it proxies the
// cross-org lookup, degrading to an empty list on failure.
func (h *Handler) listCouriers(w http.ResponseWriter, r *http.Request) {
	couriers := []courierDTO{}
	if h.directory.IsLocal(custody.RoleDeliveryPerson) {
		users, err := h.users.ActiveUsersByRole(r.Context(), custody.RoleDeliveryPerson)
		if err != nil {
			writeError(w, err)
			return
		}
		for _, u := range users {
			couriers = append(couriers, courierDTO{
				ID: u.ID, Username: u.Username, FullName: u.FullName, VehicleInfo: u.VehicleInfo,
			})
		}
	} else if h.mesh != nil {
		for _, p := range h.mesh.DeliveryPersons(r.Context()) {
			couriers = append(couriers, courierDTO{
				ID: p.ID, Username: p.Username, FullName: p.FullName, VehicleInfo: p.VehicleInfo,
			})
		}
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool         `json:"success"`
		Data    []courierDTO `json:"data"`
	}{true, couriers})
}

type shippingAddressDTO struct {
	FullName string `json:"fullName"`
	Address  string `json:"address"`
}

// shippingAddress resolves the delivery's customer address for label
// printing. Visibility follows the delivery itself, so only the seller who
// owns it (or an admin) gets this far.
func (h *Handler) shippingAddress(w http.ResponseWriter, r *http.Request) {
	d, err := h.coordinator.GetDelivery(r.Context(), actorFrom(r), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	var address shippingAddressDTO
	if h.directory.IsLocal(custody.RoleCustomer) {
		u, err := h.users.UserByID(r.Context(), d.CustomerID)
		if err != nil || u.Address == "" {
			writeError(w, apperrors.New(apperrors.CodeNotFound, "customer address not found"))
			return
		}
		address = shippingAddressDTO{FullName: u.FullName, Address: u.Address}
	} else {
		if h.mesh == nil {
			writeError(w, apperrors.New(apperrors.CodeNotFound, "customer address not found"))
			return
		}
		remote := h.mesh.CustomerAddress(r.Context(), d.CustomerID)
		if remote == nil {
			writeError(w, apperrors.New(apperrors.CodeNotFound, "customer address not found"))
			return
		}
		address = shippingAddressDTO{FullName: remote.FullName, Address: remote.Address}
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool               `json:"success"`
		Data    shippingAddressDTO `json:"data"`
	}{true, address})
}

// verifyUser is the mesh-internal identity confirmation endpoint peer orgs
// call before accepting a write from a user homed here.
func (h *Handler) verifyUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.UserByID(r.Context(), r.PathValue("userId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		ID       string       `json:"id"`
		Username string       `json:"username"`
		Role     custody.Role `json:"role"`
		IsActive bool         `json:"isActive"`
	}{u.ID, u.Username, u.Role, u.IsActive})
}

func (h *Handler) internalCouriers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.ActiveUsersByRole(r.Context(), custody.RoleDeliveryPerson)
	if err != nil {
		writeError(w, err)
		return
	}
	couriers := make([]courierDTO, 0, len(users))
	for _, u := range users {
		couriers = append(couriers, courierDTO{
			ID: u.ID, Username: u.Username, FullName: u.FullName, VehicleInfo: u.VehicleInfo,
		})
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool         `json:"success"`
		Data    []courierDTO `json:"data"`
	}{true, couriers})
}

func (h *Handler) customerAddress(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.UserByID(r.Context(), r.PathValue("customerId"))
	if err != nil {
		writeError(w, err)
		return
	}
	if u.Role != custody.RoleCustomer || u.Address == "" {
		writeError(w, apperrors.New(apperrors.CodeNotFound, "customer address not found"))
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		Data    struct {
			FullName string `json:"fullName"`
			Address  string `json:"address"`
		} `json:"data"`
	}{true, struct {
		FullName string `json:"fullName"`
		Address  string `json:"address"`
	}{u.FullName, u.Address}})
}

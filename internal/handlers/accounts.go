package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/chartlock/chartlock/internal/auth"
	"github.com/chartlock/chartlock/internal/services"
	pkghttp "github.com/chartlock/chartlock/pkg/http"
)

type AccountServiceInterface interface {
	GetProfile(ctx context.Context, accountID string) (*services.AccountResponse, error)
	UpdateProfile(ctx context.Context, accountID string, input services.UpdateProfileInput) (*services.AccountResponse, error)
}

// AccountHandler serves the authenticated account's own profile.
type AccountHandler struct {
	service AccountServiceInterface
}

func NewAccountHandler(service AccountServiceInterface) *AccountHandler {
	return &AccountHandler{service: service}
}

type UpdateProfileRequest struct {
	HospitalName string `json:"hospital_name" validate:"required,min=2,max=200"`
	Address      string `json:"address" validate:"required,min=5,max=500"`
}

// Me handles GET /accounts/me.
func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	accountID, ok := auth.AccountIDFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	profile, err := h.service.GetProfile(r.Context(), accountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

// UpdateMe handles PUT /accounts/me.
func (h *AccountHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	accountID, ok := auth.AccountIDFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	profile, err := h.service.UpdateProfile(r.Context(), accountID, services.UpdateProfileInput{
		HospitalName: req.HospitalName,
		Address:      req.Address,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

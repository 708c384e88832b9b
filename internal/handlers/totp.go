package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/chartlock/chartlock/internal/auth"
	"github.com/chartlock/chartlock/internal/services"
	pkghttp "github.com/chartlock/chartlock/pkg/http"
)

// TotpServiceInterface is the 2FA lifecycle surface the handler depends on.
type TotpServiceInterface interface {
	Setup(ctx context.Context, accountID string, meta services.RequestMeta) (*auth.SetupMaterial, error)
	ConfirmSetup(ctx context.Context, accountID, code string, meta services.RequestMeta) ([]string, error)
	Disable(ctx context.Context, accountID, code string, meta services.RequestMeta) error
	InitiateRotation(ctx context.Context, accountID, password string, meta services.RequestMeta) (*auth.SetupMaterial, error)
	ConfirmRotation(ctx context.Context, accountID, code string, meta services.RequestMeta) ([]string, error)
	Status(ctx context.Context, accountID string) (*services.TotpStatus, error)
}

// TotpHandler serves the authenticated 2FA lifecycle endpoints. Every
// route requires a valid access token; the account ID always comes from
// the token claims, never from the request body.
type TotpHandler struct {
	service  TotpServiceInterface
	ipConfig *pkghttp.IPConfig
}

func NewTotpHandler(service TotpServiceInterface, ipConfig *pkghttp.IPConfig) *TotpHandler {
	return &TotpHandler{
		service:  service,
		ipConfig: ipConfig,
	}
}

type TotpCodeRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

type RotateRequest struct {
	Password string `json:"password" validate:"required"`
}

// SetupResponse carries the one-time enrollment material. The plaintext
// secret appears here and nowhere else.
type SetupResponse struct {
	Secret     string `json:"secret"`
	OtpauthURL string `json:"otpauth_url"`
	QRCode     string `json:"qr_code"`
}

type BackupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
}

func (h *TotpHandler) meta(r *http.Request) services.RequestMeta {
	return services.RequestMeta{
		IPAddress: pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent: r.Header.Get("User-Agent"),
	}
}

func (h *TotpHandler) accountID(w http.ResponseWriter, r *http.Request) (string, bool) {
	accountID, ok := auth.AccountIDFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Authentication required")
	}
	return accountID, ok
}

// Setup handles POST /auth/totp/setup.
func (h *TotpHandler) Setup(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}

	material, err := h.service.Setup(r.Context(), accountID, h.meta(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, SetupResponse{
		Secret:     material.Secret,
		OtpauthURL: material.OtpauthURL,
		QRCode:     material.QRCode,
	})
}

// ConfirmSetup handles POST /auth/totp/verify.
func (h *TotpHandler) ConfirmSetup(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}

	var req TotpCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	codes, err := h.service.ConfirmSetup(r.Context(), accountID, req.Code, h.meta(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, BackupCodesResponse{BackupCodes: codes})
}

// Disable handles POST /auth/totp/disable.
func (h *TotpHandler) Disable(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}

	var req TotpCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.Disable(r.Context(), accountID, req.Code, h.meta(r)); err != nil {
		writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// InitiateRotation handles POST /auth/totp/rotate.
func (h *TotpHandler) InitiateRotation(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}

	var req RotateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	material, err := h.service.InitiateRotation(r.Context(), accountID, req.Password, h.meta(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, SetupResponse{
		Secret:     material.Secret,
		OtpauthURL: material.OtpauthURL,
		QRCode:     material.QRCode,
	})
}

// ConfirmRotation handles POST /auth/totp/rotate/verify.
func (h *TotpHandler) ConfirmRotation(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}

	var req TotpCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	codes, err := h.service.ConfirmRotation(r.Context(), accountID, req.Code, h.meta(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, BackupCodesResponse{BackupCodes: codes})
}

// Status handles GET /auth/totp/status.
func (h *TotpHandler) Status(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}

	status, err := h.service.Status(r.Context(), accountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

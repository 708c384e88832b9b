package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/chartlock/chartlock/internal/auth"
	"github.com/chartlock/chartlock/internal/models"
	"github.com/chartlock/chartlock/internal/services"
	pkgauth "github.com/chartlock/chartlock/pkg/auth"
	pkghttp "github.com/chartlock/chartlock/pkg/http"
)

// AuthServiceInterface is the auth orchestration surface the handler
// depends on.
type AuthServiceInterface interface {
	Register(ctx context.Context, input services.RegisterInput, meta services.RequestMeta) (*services.RegisterResponse, error)
	VerifyRegistration(ctx context.Context, registrationToken, code string, meta services.RequestMeta) (*services.AuthResponse, error)
	Login(ctx context.Context, email, password string, meta services.RequestMeta) (*services.LoginResponse, error)
	LoginWithTotp(ctx context.Context, tempToken, code string, meta services.RequestMeta) (*services.AuthResponse, error)
	LoginWithBackupCode(ctx context.Context, tempToken, code string, meta services.RequestMeta) (*services.AuthResponse, error)
	Refresh(ctx context.Context, refreshToken string, meta services.RequestMeta) (*services.TokenPair, error)
	Logout(ctx context.Context, refreshToken string, meta services.RequestMeta) error
	LogoutAll(ctx context.Context, accountID string, meta services.RequestMeta) error
}

// AuthHandler handles registration, the three login paths, refresh and
// logout. The refresh token travels both in the JSON body (mobile client)
// and as an httpOnly cookie (web client); the cookie wins when both are
// present on refresh/logout.
type AuthHandler struct {
	service  AuthServiceInterface
	ipConfig *pkghttp.IPConfig
	cookies  auth.CookieConfig
}

func NewAuthHandler(service AuthServiceInterface, ipConfig *pkghttp.IPConfig, cookies auth.CookieConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		ipConfig: ipConfig,
		cookies:  cookies,
	}
}

// Request DTOs

type RegisterRequest struct {
	HospitalName string `json:"hospital_name" validate:"required,min=2,max=200"`
	Email        string `json:"email" validate:"required,email"`
	Phone        string `json:"phone" validate:"required,e164"`
	Address      string `json:"address" validate:"required,min=5,max=500"`
	Password     string `json:"password" validate:"required"`
}

type VerifyRegistrationRequest struct {
	RegistrationToken string `json:"registration_token" validate:"required"`
	Code              string `json:"code" validate:"required,len=6,numeric"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type TotpLoginRequest struct {
	TempToken string `json:"temp_token" validate:"required"`
	Code      string `json:"code" validate:"required,len=6,numeric"`
}

type BackupCodeLoginRequest struct {
	TempToken string `json:"temp_token" validate:"required"`
	Code      string `json:"code" validate:"required,min=8,max=9"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *AuthHandler) meta(r *http.Request) services.RequestMeta {
	return services.RequestMeta{
		IPAddress: pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent: r.Header.Get("User-Agent"),
	}
}

// Register handles POST /auth/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	if err := pkgauth.ValidatePassword(req.Password); err != nil {
		pkghttp.WriteBadRequest(w, "Password does not meet requirements")
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	resp, err := h.service.Register(r.Context(), services.RegisterInput{
		HospitalName: req.HospitalName,
		Email:        req.Email,
		Phone:        req.Phone,
		Address:      req.Address,
		Password:     req.Password,
	}, h.meta(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

// VerifyRegistration handles POST /auth/register/verify.
func (h *AuthHandler) VerifyRegistration(w http.ResponseWriter, r *http.Request) {
	var req VerifyRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	resp, err := h.service.VerifyRegistration(r.Context(), req.RegistrationToken, req.Code, h.meta(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	h.setRefreshCookie(w, resp.Tokens)
	writeJSON(w, http.StatusCreated, resp)
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	resp, err := h.service.Login(r.Context(), req.Email, req.Password, h.meta(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if resp.Tokens != nil {
		h.setRefreshCookie(w, resp.Tokens)
	}
	writeJSON(w, http.StatusOK, resp)
}

// LoginTotp handles POST /auth/login/totp.
func (h *AuthHandler) LoginTotp(w http.ResponseWriter, r *http.Request) {
	var req TotpLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	resp, err := h.service.LoginWithTotp(r.Context(), req.TempToken, req.Code, h.meta(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	h.setRefreshCookie(w, resp.Tokens)
	writeJSON(w, http.StatusOK, resp)
}

// LoginBackupCode handles POST /auth/login/backup-code.
func (h *AuthHandler) LoginBackupCode(w http.ResponseWriter, r *http.Request) {
	var req BackupCodeLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	resp, err := h.service.LoginWithBackupCode(r.Context(), req.TempToken, req.Code, h.meta(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	h.setRefreshCookie(w, resp.Tokens)
	writeJSON(w, http.StatusOK, resp)
}

// Refresh handles POST /auth/refresh.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	refreshToken := h.refreshTokenFromRequest(r)
	if refreshToken == "" {
		pkghttp.WriteUnauthorized(w, "Missing refresh token")
		return
	}

	pair, err := h.service.Refresh(r.Context(), refreshToken, h.meta(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	h.setRefreshCookie(w, pair)
	writeJSON(w, http.StatusOK, pair)
}

// Logout handles POST /auth/logout.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	refreshToken := h.refreshTokenFromRequest(r)
	if refreshToken == "" {
		pkghttp.WriteUnauthorized(w, "Missing refresh token")
		return
	}

	if err := h.service.Logout(r.Context(), refreshToken, h.meta(r)); err != nil {
		writeDomainError(w, err)
		return
	}

	auth.ClearRefreshTokenCookie(w, h.cookies)
	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll handles POST /auth/logout-all. Requires a valid access token.
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	accountID, ok := auth.AccountIDFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	if err := h.service.LogoutAll(r.Context(), accountID, h.meta(r)); err != nil {
		writeDomainError(w, err)
		return
	}

	auth.ClearRefreshTokenCookie(w, h.cookies)
	w.WriteHeader(http.StatusNoContent)
}

// refreshTokenFromRequest prefers the cookie and falls back to the body.
func (h *AuthHandler) refreshTokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(auth.RefreshCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
		return req.RefreshToken
	}
	return ""
}

func (h *AuthHandler) setRefreshCookie(w http.ResponseWriter, pair *services.TokenPair) {
	if pair == nil {
		return
	}
	auth.SetRefreshTokenCookie(w, pair.RefreshToken, pair.RefreshExpiresAt(), h.cookies)
}

// writeDomainError maps domain errors onto the HTTP surface. Lockouts and
// remaining-attempt counts carry structured fields; everything
// credential-shaped stays deliberately vague.
func writeDomainError(w http.ResponseWriter, err error) {
	var lockedErr *models.LockedError
	if errors.As(err, &lockedErr) {
		pkghttp.WriteLocked(w, "Account temporarily locked due to repeated failures", lockedErr.Until)
		return
	}

	var attemptsErr *models.AttemptsError
	if errors.As(err, &attemptsErr) {
		switch {
		case errors.Is(err, models.ErrInvalidTotpCode):
			pkghttp.WriteAttemptsError(w, "invalid_totp_code", "Invalid authenticator code", attemptsErr.Remaining)
		default:
			pkghttp.WriteAttemptsError(w, "invalid_credentials", "Invalid email or password", attemptsErr.Remaining)
		}
		return
	}

	switch {
	case errors.Is(err, models.ErrInvalidCredentials),
		errors.Is(err, models.ErrAccountInactive):
		// One message for both to prevent account-state probing.
		pkghttp.WriteUnauthorized(w, "Invalid email or password")
	case errors.Is(err, models.ErrDuplicateAccount):
		pkghttp.WriteConflict(w, "An account with this email or phone already exists")
	case errors.Is(err, models.ErrTokenExpired):
		pkghttp.WriteError(w, http.StatusUnauthorized, "token_expired", "Token expired")
	case errors.Is(err, models.ErrTokenInvalid),
		errors.Is(err, models.ErrTokenTypeMismatch),
		errors.Is(err, models.ErrTokenPurposeMismatch):
		pkghttp.WriteUnauthorized(w, "Invalid token")
	case errors.Is(err, models.ErrInvalidTotpCode):
		pkghttp.WriteError(w, http.StatusUnauthorized, "invalid_totp_code", "Invalid authenticator code")
	case errors.Is(err, models.ErrInvalidBackupCode):
		pkghttp.WriteError(w, http.StatusUnauthorized, "invalid_backup_code", "Invalid backup code")
	case errors.Is(err, models.ErrRegistrationSessionExpired):
		pkghttp.WriteGone(w, "Registration session expired, please register again")
	case errors.Is(err, models.ErrSetupAlreadyComplete):
		pkghttp.WriteConflict(w, "Two-factor authentication is already enabled")
	case errors.Is(err, models.ErrSetupNotInitiated):
		pkghttp.WriteError(w, http.StatusBadRequest, "setup_not_initiated", "Two-factor setup has not been initiated")
	case errors.Is(err, models.ErrRotationNotPending):
		pkghttp.WriteError(w, http.StatusBadRequest, "rotation_not_pending", "No secret rotation in progress")
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "Resource not found")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

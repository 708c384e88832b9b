package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chartlock/chartlock/internal/auth"
	"github.com/chartlock/chartlock/internal/models"
	"github.com/chartlock/chartlock/internal/services"
	pkghttp "github.com/chartlock/chartlock/pkg/http"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext places an account ID in the request context the way
// RequireAccessToken would.
func WithAuthContext(req *http.Request, accountID string) *http.Request {
	ctx := context.WithValue(req.Context(), auth.ContextKeyAccountID, accountID)
	return req.WithContext(ctx)
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	RegisterFunc            func(ctx context.Context, input services.RegisterInput, meta services.RequestMeta) (*services.RegisterResponse, error)
	VerifyRegistrationFunc  func(ctx context.Context, registrationToken, code string, meta services.RequestMeta) (*services.AuthResponse, error)
	LoginFunc               func(ctx context.Context, email, password string, meta services.RequestMeta) (*services.LoginResponse, error)
	LoginWithTotpFunc       func(ctx context.Context, tempToken, code string, meta services.RequestMeta) (*services.AuthResponse, error)
	LoginWithBackupCodeFunc func(ctx context.Context, tempToken, code string, meta services.RequestMeta) (*services.AuthResponse, error)
	RefreshFunc             func(ctx context.Context, refreshToken string, meta services.RequestMeta) (*services.TokenPair, error)
	LogoutFunc              func(ctx context.Context, refreshToken string, meta services.RequestMeta) error
	LogoutAllFunc           func(ctx context.Context, accountID string, meta services.RequestMeta) error
}

func (m *MockAuthService) Register(ctx context.Context, input services.RegisterInput, meta services.RequestMeta) (*services.RegisterResponse, error) {
	if m.RegisterFunc == nil {
		return nil, models.ErrInternalServer
	}
	return m.RegisterFunc(ctx, input, meta)
}

func (m *MockAuthService) VerifyRegistration(ctx context.Context, registrationToken, code string, meta services.RequestMeta) (*services.AuthResponse, error) {
	if m.VerifyRegistrationFunc == nil {
		return nil, models.ErrInternalServer
	}
	return m.VerifyRegistrationFunc(ctx, registrationToken, code, meta)
}

func (m *MockAuthService) Login(ctx context.Context, email, password string, meta services.RequestMeta) (*services.LoginResponse, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrInvalidCredentials
	}
	return m.LoginFunc(ctx, email, password, meta)
}

func (m *MockAuthService) LoginWithTotp(ctx context.Context, tempToken, code string, meta services.RequestMeta) (*services.AuthResponse, error) {
	if m.LoginWithTotpFunc == nil {
		return nil, models.ErrInvalidTotpCode
	}
	return m.LoginWithTotpFunc(ctx, tempToken, code, meta)
}

func (m *MockAuthService) LoginWithBackupCode(ctx context.Context, tempToken, code string, meta services.RequestMeta) (*services.AuthResponse, error) {
	if m.LoginWithBackupCodeFunc == nil {
		return nil, models.ErrInvalidBackupCode
	}
	return m.LoginWithBackupCodeFunc(ctx, tempToken, code, meta)
}

func (m *MockAuthService) Refresh(ctx context.Context, refreshToken string, meta services.RequestMeta) (*services.TokenPair, error) {
	if m.RefreshFunc == nil {
		return nil, models.ErrTokenInvalid
	}
	return m.RefreshFunc(ctx, refreshToken, meta)
}

func (m *MockAuthService) Logout(ctx context.Context, refreshToken string, meta services.RequestMeta) error {
	if m.LogoutFunc == nil {
		return nil
	}
	return m.LogoutFunc(ctx, refreshToken, meta)
}

func (m *MockAuthService) LogoutAll(ctx context.Context, accountID string, meta services.RequestMeta) error {
	if m.LogoutAllFunc == nil {
		return nil
	}
	return m.LogoutAllFunc(ctx, accountID, meta)
}

// MockTotpService implements TotpServiceInterface for testing
type MockTotpService struct {
	SetupFunc            func(ctx context.Context, accountID string, meta services.RequestMeta) (*auth.SetupMaterial, error)
	ConfirmSetupFunc     func(ctx context.Context, accountID, code string, meta services.RequestMeta) ([]string, error)
	DisableFunc          func(ctx context.Context, accountID, code string, meta services.RequestMeta) error
	InitiateRotationFunc func(ctx context.Context, accountID, password string, meta services.RequestMeta) (*auth.SetupMaterial, error)
	ConfirmRotationFunc  func(ctx context.Context, accountID, code string, meta services.RequestMeta) ([]string, error)
	StatusFunc           func(ctx context.Context, accountID string) (*services.TotpStatus, error)
}

func (m *MockTotpService) Setup(ctx context.Context, accountID string, meta services.RequestMeta) (*auth.SetupMaterial, error) {
	if m.SetupFunc == nil {
		return nil, models.ErrInternalServer
	}
	return m.SetupFunc(ctx, accountID, meta)
}

func (m *MockTotpService) ConfirmSetup(ctx context.Context, accountID, code string, meta services.RequestMeta) ([]string, error) {
	if m.ConfirmSetupFunc == nil {
		return nil, models.ErrInternalServer
	}
	return m.ConfirmSetupFunc(ctx, accountID, code, meta)
}

func (m *MockTotpService) Disable(ctx context.Context, accountID, code string, meta services.RequestMeta) error {
	if m.DisableFunc == nil {
		return models.ErrInternalServer
	}
	return m.DisableFunc(ctx, accountID, code, meta)
}

func (m *MockTotpService) InitiateRotation(ctx context.Context, accountID, password string, meta services.RequestMeta) (*auth.SetupMaterial, error) {
	if m.InitiateRotationFunc == nil {
		return nil, models.ErrInternalServer
	}
	return m.InitiateRotationFunc(ctx, accountID, password, meta)
}

func (m *MockTotpService) ConfirmRotation(ctx context.Context, accountID, code string, meta services.RequestMeta) ([]string, error) {
	if m.ConfirmRotationFunc == nil {
		return nil, models.ErrInternalServer
	}
	return m.ConfirmRotationFunc(ctx, accountID, code, meta)
}

func (m *MockTotpService) Status(ctx context.Context, accountID string) (*services.TotpStatus, error) {
	if m.StatusFunc == nil {
		return nil, models.ErrInternalServer
	}
	return m.StatusFunc(ctx, accountID)
}

// MockAccountService implements AccountServiceInterface for testing
type MockAccountService struct {
	GetProfileFunc    func(ctx context.Context, accountID string) (*services.AccountResponse, error)
	UpdateProfileFunc func(ctx context.Context, accountID string, input services.UpdateProfileInput) (*services.AccountResponse, error)
}

func (m *MockAccountService) GetProfile(ctx context.Context, accountID string) (*services.AccountResponse, error) {
	if m.GetProfileFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.GetProfileFunc(ctx, accountID)
}

func (m *MockAccountService) UpdateProfile(ctx context.Context, accountID string, input services.UpdateProfileInput) (*services.AccountResponse, error) {
	if m.UpdateProfileFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.UpdateProfileFunc(ctx, accountID, input)
}

package integration

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgtotp "github.com/chartlock/chartlock/internal/auth"
)

var testDB *TestDB

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	db, err := SetupTestDatabase(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up test database: %v\n", err)
		os.Exit(1)
	}
	testDB = db

	code := m.Run()
	_ = testDB.Teardown(ctx)
	os.Exit(code)
}

func requireDB(t *testing.T) {
	t.Helper()
	if testDB == nil {
		t.Skip("integration tests skipped in short mode")
	}
	require.NoError(t, testDB.CleanupTables(context.Background()))
}

func currentTotpCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	return code
}

func TestRegistrationAndTotpLoginFlow(t *testing.T) {
	requireDB(t)

	ts, err := NewTestServer(testDB.DB)
	require.NoError(t, err)
	defer ts.Close()

	email, phone, password := TestHospital("flow")

	// Phase one: register, receive secret and registration token.
	resp, err := ts.Request("POST", "/auth/register", map[string]string{
		"hospital_name": "St. Mary's General",
		"email":         email,
		"phone":         phone,
		"address":       "400 Medical Plaza Drive",
		"password":      password,
	}, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var reg struct {
		RegistrationToken string `json:"registration_token"`
		Secret            string `json:"secret"`
	}
	require.NoError(t, ParseJSONResponse(resp, &reg))
	require.NotEmpty(t, reg.RegistrationToken)
	require.NotEmpty(t, reg.Secret)

	// No account row exists until the code is confirmed.
	var count int
	require.NoError(t, testDB.Pool.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM accounts WHERE email = $1`, email).Scan(&count))
	assert.Equal(t, 0, count)

	// Phase two: confirm with a live code; account is created enrolled.
	resp, err = ts.Request("POST", "/auth/register/verify", map[string]string{
		"registration_token": reg.RegistrationToken,
		"code":               currentTotpCode(t, reg.Secret),
	}, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var verified struct {
		Tokens struct {
			AccessToken  string `json:"access_token"`
			RefreshToken string `json:"refresh_token"`
		} `json:"tokens"`
		BackupCodes []string `json:"backup_codes"`
	}
	require.NoError(t, ParseJSONResponse(resp, &verified))
	assert.NotEmpty(t, verified.Tokens.AccessToken)
	assert.Len(t, verified.BackupCodes, 10)

	// Login now requires the TOTP challenge.
	resp, err = ts.Request("POST", "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var login struct {
		TotpRequired bool   `json:"totp_required"`
		TempToken    string `json:"temp_token"`
	}
	require.NoError(t, ParseJSONResponse(resp, &login))
	require.True(t, login.TotpRequired)
	require.NotEmpty(t, login.TempToken)

	resp, err = ts.Request("POST", "/auth/login/totp", map[string]string{
		"temp_token": login.TempToken,
		"code":       currentTotpCode(t, reg.Secret),
	}, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	accessToken, refreshToken, err := ExtractTokens(resp)
	require.NoError(t, err)
	require.NotEmpty(t, accessToken)
	require.NotEmpty(t, refreshToken)

	// The access token works against an authenticated endpoint.
	resp, err = ts.RequestWithAuth("GET", "/accounts/me", accessToken, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Refresh rotates: the new token works, the old one is dead.
	resp, err = ts.Request("POST", "/auth/refresh", map[string]string{
		"refresh_token": refreshToken,
	}, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, rotatedToken, err := ExtractTokens(resp)
	require.NoError(t, err)
	require.NotEmpty(t, rotatedToken)
	require.NotEqual(t, refreshToken, rotatedToken)

	resp, err = ts.Request("POST", "/auth/refresh", map[string]string{
		"refresh_token": refreshToken,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	// Logout revokes the rotated session.
	resp, err = ts.Request("POST", "/auth/logout", map[string]string{
		"refresh_token": rotatedToken,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp, err = ts.Request("POST", "/auth/refresh", map[string]string{
		"refresh_token": rotatedToken,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestLoginLockoutAfterRepeatedFailures(t *testing.T) {
	requireDB(t)

	ts, err := NewTestServer(testDB.DB)
	require.NoError(t, err)
	defer ts.Close()

	email, phone, password := TestHospital("lockout")
	_, err = SeedAccount(context.Background(), testDB.Pool, email, phone, password)
	require.NoError(t, err)

	var lastStatus int
	for i := 0; i < 5; i++ {
		resp, err := ts.Request("POST", "/auth/login", map[string]string{
			"email":    email,
			"password": "Wrong-password-1!",
		}, nil)
		require.NoError(t, err)
		lastStatus = resp.StatusCode
		resp.Body.Close()
	}
	assert.Equal(t, http.StatusTooManyRequests, lastStatus)

	// The correct password is also rejected while the lock holds.
	resp, err := ts.Request("POST", "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	code, err := GetErrorCode(resp)
	require.NoError(t, err)
	assert.Equal(t, "account_locked", code)
}

func TestBackupCodeLoginIsSingleUse(t *testing.T) {
	requireDB(t)

	ts, err := NewTestServer(testDB.DB)
	require.NoError(t, err)
	defer ts.Close()

	email, phone, password := TestHospital("backup")
	account, err := SeedAccount(context.Background(), testDB.Pool, email, phone, password)
	require.NoError(t, err)

	// Enroll with a known secret and one backup code.
	material, err := ts.TotpManager.GenerateSecret(email)
	require.NoError(t, err)
	require.NoError(t, SeedEnrolledAccount(context.Background(), testDB.Pool, account.ID, material.EncryptedSecret))

	backupCode := "A3F8-K2MP"
	require.NoError(t, SeedBackupCode(context.Background(), testDB.Pool, account.ID, pkgtotp.HashBackupCode(backupCode)))

	challenge := func() string {
		resp, err := ts.Request("POST", "/auth/login", map[string]string{
			"email":    email,
			"password": password,
		}, nil)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var login struct {
			TempToken string `json:"temp_token"`
		}
		require.NoError(t, ParseJSONResponse(resp, &login))
		require.NotEmpty(t, login.TempToken)
		return login.TempToken
	}

	resp, err := ts.Request("POST", "/auth/login/backup-code", map[string]string{
		"temp_token": challenge(),
		"code":       backupCode,
	}, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	accessToken, _, err := ExtractTokens(resp)
	require.NoError(t, err)
	assert.NotEmpty(t, accessToken)

	// The same code is spent and cannot be replayed.
	resp, err = ts.Request("POST", "/auth/login/backup-code", map[string]string{
		"temp_token": challenge(),
		"code":       backupCode,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	code, err := GetErrorCode(resp)
	require.NoError(t, err)
	assert.Equal(t, "invalid_backup_code", code)
}

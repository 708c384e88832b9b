package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// Token classes issued by the auth core.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
	TokenTypeTemp    = "temp"
)

// Purposes a temp token may be scoped to. A temp token minted for one
// purpose must be rejected by a consumer expecting another even when the
// signature is valid.
const (
	TokenPurposeTotpLogin      = "totp_login"
	TokenPurposeRegisterVerify = "registration_verify"
)

// TokenClaims is the claim set carried by every Chartlock JWT.
// Purpose is set only on temp tokens.
type TokenClaims struct {
	Type    string `json:"type"`
	Purpose string `json:"purpose,omitempty"`
	jwt.RegisteredClaims
}

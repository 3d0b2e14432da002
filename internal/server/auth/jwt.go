// Package auth issues and verifies the HS256 tokens callers present to the
// HTTP API. A token binds a username to an organization; the isolation
// enforcer never trusts an organization id that did not come through here.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/complyscan/scanstore/internal/common"
)

// Claims carries the caller identity used for tenant scoping.
type Claims struct {
	jwt.RegisteredClaims
	Username       string `json:"username"`
	OrganizationID string `json:"organization_id"`
	Admin          bool   `json:"admin,omitempty"`
}

// GenerateToken mints a signed token for the given caller.
func GenerateToken(username, organizationID string, admin bool, secretKey []byte, validity time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validity)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Username:       username,
		OrganizationID: organizationID,
		Admin:          admin,
	})

	return token.SignedString(secretKey)
}

// ParseToken verifies a token and returns its claims. Expired tokens yield
// ErrTokenExpired; anything else invalid yields ErrInvalidToken.
func ParseToken(tokenString string, secretKey []byte) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, common.ErrInvalidToken
		}
		return secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, common.ErrInvalidToken
	}

	if !token.Valid || claims.Username == "" {
		return nil, common.ErrInvalidToken
	}

	return claims, nil
}

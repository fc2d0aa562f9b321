package tokens

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token kinds carried in the "kind" claim of ledger-backed tokens.
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
	KindReset   = "reset"
	KindVerify  = "verify"
)

var ErrUnexpectedKind = errors.New("unexpected token kind")

type AccessClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// SessionClaims is shared by refresh, password-reset and email-verify
// tokens. Kind keeps a reset token from being replayed as a refresh token.
type SessionClaims struct {
	Kind string `json:"kind"`
	jwt.RegisteredClaims
}

func AccessClaimsFromToken(tokenStr string, accessSecret []byte) (*AccessClaims, error) {
	var claims AccessClaims
	tkn, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected sign method")
		}
		return accessSecret, nil
	})
	if err != nil {
		return nil, err
	}
	if !tkn.Valid {
		return nil, jwt.ErrTokenUnverifiable
	}
	return &claims, nil
}

func SessionClaimsFromToken(tokenStr string, secret []byte, kind string) (*SessionClaims, error) {
	var claims SessionClaims
	tkn, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected sign method")
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !tkn.Valid {
		return nil, jwt.ErrTokenUnverifiable
	}
	if claims.Kind != kind {
		return nil, ErrUnexpectedKind
	}
	return &claims, nil
}

// Sha256Hex is the fingerprint stored in the token ledger instead of the
// signed token itself.
func Sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func NewJTI() string { return uuid.NewString() }

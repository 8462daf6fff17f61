// Package auth verifies bearer tokens for the scan API.
package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Identity is who a request was made by.
type Identity struct {
	UserID string
	Email  string
	Name   string
}

// TokenVerifier validates a raw bearer token.
type TokenVerifier interface {
	Verify(token string) (*Identity, error)
}

// Chain tries each verifier in order and returns the first identity found.
type Chain []TokenVerifier

func (c Chain) Verify(token string) (*Identity, error) {
	errs := make([]error, 0, len(c))
	for _, v := range c {
		if v == nil {
			continue
		}
		id, err := v.Verify(token)
		if err == nil {
			return id, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, errors.New("no token verifier configured")
	}
	return nil, errors.Join(append([]error{ErrInvalidToken}, errs...)...)
}

// HMACVerifier accepts HS256 tokens signed with a shared secret.
type HMACVerifier struct {
	secret []byte
}

// HMACClaims is the claim set of shared-secret tokens.
type HMACClaims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

func (v *HMACVerifier) Verify(token string) (*Identity, error) {
	parsed, err := jwt.ParseWithClaims(token, &HMACClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*HMACClaims)
	if !ok || !parsed.Valid || claims.UserID == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return &Identity{UserID: claims.UserID, Email: claims.Email}, nil
}

// Sign issues a token for userID. Used by tests and local tooling.
func (v *HMACVerifier) Sign(userID, email string) (string, error) {
	claims := HMACClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: "beacon-pipeline",
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

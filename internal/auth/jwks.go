package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/beacon/pipeline/internal/config"
	"github.com/golang-jwt/jwt/v5"
)

// OIDCClaims is the claim set issued by the identity provider.
type OIDCClaims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWKSVerifier validates provider-signed tokens against the issuer's key set.
type JWKSVerifier struct {
	keys     jwt.Keyfunc
	issuer   string
	audience string
}

// NewJWKSVerifier discovers the issuer's key set and starts refreshing it.
func NewJWKSVerifier(ctx context.Context, cfg config.OIDCConfig) (*JWKSVerifier, error) {
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("oidc issuer is required")
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	jwksURL, err := discoverJWKSURL(ctx, http.DefaultClient, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("discover jwks url: %w", err)
	}
	kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("load jwks: %w", err)
	}
	return newJWKSVerifier(kf.Keyfunc, cfg), nil
}

func newJWKSVerifier(keys jwt.Keyfunc, cfg config.OIDCConfig) *JWKSVerifier {
	return &JWKSVerifier{keys: keys, issuer: cfg.Issuer, audience: cfg.ClientID}
}

func discoverJWKSURL(ctx context.Context, hc *http.Client, issuer string) (string, error) {
	url := strings.TrimSuffix(issuer, "/") + "/.well-known/openid-configuration"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("discovery endpoint returned status %d", resp.StatusCode)
	}
	var doc struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return "", fmt.Errorf("decode discovery document: %w", err)
	}
	if doc.JWKSURI == "" {
		return "", fmt.Errorf("jwks_uri missing from discovery document")
	}
	return doc.JWKSURI, nil
}

func (v *JWKSVerifier) Verify(token string) (*Identity, error) {
	opts := []jwt.ParserOption{jwt.WithIssuer(v.issuer), jwt.WithExpirationRequired()}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	parsed, err := jwt.ParseWithClaims(token, &OIDCClaims{}, v.keys, opts...)
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*OIDCClaims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return &Identity{UserID: claims.Subject, Email: claims.Email, Name: claims.Name}, nil
}

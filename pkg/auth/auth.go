// Package auth validates tenant JWTs (HS256) for the HTTP and live endpoints.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

var (
	// ErrNoToken is returned when a request carries no credentials.
	ErrNoToken = errors.New("auth: missing token")
	// ErrNoTenant is returned for a valid token without a tenant claim.
	ErrNoTenant = errors.New("auth: token has no tenant")
)

// Claims identify the tenant, and optionally the facility, a caller acts for.
type Claims struct {
	TenantID   string `json:"tenant_id,omitempty"`
	CompanyID  string `json:"company_id,omitempty"` // older dashboards
	FacilityID string `json:"facility_id,omitempty"`
	jwt.RegisteredClaims
}

// Tenant returns the tenant id, falling back to the company id.
func (c *Claims) Tenant() string {
	if c.TenantID != "" {
		return c.TenantID
	}
	return c.CompanyID
}

// Validator signs and checks tokens with a shared secret.
type Validator struct {
	secret []byte
	issuer string
}

// NewValidator creates a validator. issuer may be empty to skip the iss check.
func NewValidator(secret []byte, issuer string) (*Validator, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: empty secret")
	}
	return &Validator{secret: secret, issuer: issuer}, nil
}

// Issue signs a token for tenant valid for ttl.
func (v *Validator) Issue(tenant, facility, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		TenantID:   tenant,
		FacilityID: facility,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// VerifyToken checks the signature, expiry and tenant claim. A leading
// "Bearer " is stripped.
func (v *Validator) VerifyToken(tokenStr string) (*Claims, error) {
	tokenStr = strings.TrimSpace(strings.TrimPrefix(tokenStr, "Bearer "))
	if tokenStr == "" {
		return nil, ErrNoToken
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("invalid claims")
	}
	if claims.Tenant() == "" {
		return nil, ErrNoTenant
	}
	return claims, nil
}

// FromRequest reads the token from ?token= or the Authorization header.
func (v *Validator) FromRequest(r *http.Request) (*Claims, error) {
	tok := r.URL.Query().Get("token")
	if tok == "" {
		tok = r.Header.Get("Authorization")
	}
	if tok == "" {
		return nil, ErrNoToken
	}
	return v.VerifyToken(tok)
}

// TenantFromRequest returns the tenant the request is authenticated for.
func (v *Validator) TenantFromRequest(r *http.Request) (string, error) {
	claims, err := v.FromRequest(r)
	if err != nil {
		return "", err
	}
	return claims.Tenant(), nil
}

type ctxKey struct{}

// ClaimsFromContext returns the claims stored by Middleware.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(ctxKey{}).(*Claims)
	return c, ok
}

// NewMiddleware rejects unauthenticated requests and stores the claims in the
// request context.
func NewMiddleware(v *Validator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := v.FromRequest(r)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err), zap.String("path", r.URL.Path))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), ctxKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

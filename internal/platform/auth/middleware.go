package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	PrincipalKey contextKey = "principal"
)

// Staff roles.
const (
	RoleAdmin        = "ADMIN"
	RoleDoctor       = "DOCTOR"
	RoleNurse        = "NURSE"
	RoleReceptionist = "RECEPTIONIST"
	RolePharmacist   = "PHARMACIST"
)

// ValidRole reports whether role is one of the staff roles.
func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleDoctor, RoleNurse, RoleReceptionist, RolePharmacist:
		return true
	}
	return false
}

type Claims struct {
	jwt.RegisteredClaims
	TenantID   string `json:"tenant_id"`
	Role       string `json:"role"`
	Department string `json:"department,omitempty"`
}

// Principal is the authenticated caller: who they are, which tenant they
// act for and with which role.
type Principal struct {
	UserID     uuid.UUID
	TenantID   uuid.UUID
	Role       string
	Department string
}

type JWTConfig struct {
	Issuer     string
	SigningKey []byte
	TTL        time.Duration
}

// TokenIssuer signs session tokens for authenticated staff.
type TokenIssuer struct {
	cfg JWTConfig
	now func() time.Time
}

func NewTokenIssuer(cfg JWTConfig) *TokenIssuer {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	return &TokenIssuer{cfg: cfg, now: time.Now}
}

// Issue returns a signed HS256 token and its expiry.
func (i *TokenIssuer) Issue(p Principal) (string, time.Time, error) {
	now := i.now()
	exp := now.Add(i.cfg.TTL)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID.String(),
			Issuer:    i.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
		TenantID:   p.TenantID.String(),
		Role:       p.Role,
		Department: p.Department,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.cfg.SigningKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// JWTMiddleware verifies the bearer token and stores the Principal on the
// request context. The tenant claim is also exposed as "jwt_tenant_id" for
// the partition middleware.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			opts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"HS256"}),
				jwt.WithExpirationRequired(),
			}
			if cfg.Issuer != "" {
				opts = append(opts, jwt.WithIssuer(cfg.Issuer))
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
				return cfg.SigningKey, nil
			}, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			userID, err := uuid.Parse(claims.Subject)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token subject")
			}
			tenantID, err := uuid.Parse(claims.TenantID)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token tenant")
			}
			if !ValidRole(claims.Role) {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token role")
			}

			c.Set("jwt_tenant_id", claims.TenantID)
			ctx := WithPrincipal(c.Request().Context(), Principal{
				UserID:     userID,
				TenantID:   tenantID,
				Role:       claims.Role,
				Department: claims.Department,
			})
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(PrincipalKey).(Principal)
	return p, ok
}

func RoleFromContext(ctx context.Context) string {
	p, _ := PrincipalFromContext(ctx)
	return p.Role
}

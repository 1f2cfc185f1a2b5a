package security

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	apperrors "github.com/ZanzyTHEbar/sbir-cet-classifier/internal/errors"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in bearer tokens
const (
	RoleExport     = "export"
	RoleExportFull = "export:full"
)

const claimsKey = "auth_claims"

const issuer = "sbir-cet-classifier"

// Claims are the JWT claims accepted by the API
type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// HasRole reports whether the claims grant role. export:full implies export.
func (c *Claims) HasRole(role string) bool {
	if c == nil {
		return false
	}
	if slices.Contains(c.Roles, role) {
		return true
	}
	return role == RoleExport && slices.Contains(c.Roles, RoleExportFull)
}

// Authenticator issues and verifies HS256 bearer tokens
type Authenticator struct {
	secret []byte
	now    func() time.Time
}

// NewAuthenticator returns an authenticator signing with secret. An empty
// secret yields an authenticator that rejects every token.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret), now: time.Now}
}

// Enabled reports whether tokens can be verified
func (a *Authenticator) Enabled() bool {
	return len(a.secret) > 0
}

// IssueToken signs a token for subject with the given roles
func (a *Authenticator) IssueToken(subject string, roles []string, ttl time.Duration) (string, error) {
	if !a.Enabled() {
		return "", errors.New("jwt secret is not configured")
	}
	if subject == "" {
		return "", errors.New("token subject is required")
	}

	now := a.now()
	claims := Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return tokenString, nil
}

// ParseToken validates tokenString and returns its claims
func (a *Authenticator) ParseToken(tokenString string) (*Claims, error) {
	if !a.Enabled() {
		return nil, errors.New("jwt secret is not configured")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Subject == "" {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// RequireAuth rejects requests without a valid bearer token and stores the
// claims and subject on the context
func (a *Authenticator) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			appErr := apperrors.NewUnauthorizedError("Bearer token required", nil)
			c.AbortWithStatusJSON(appErr.HTTPStatus, appErr.Response())
			return
		}

		claims, err := a.ParseToken(token)
		if err != nil {
			appErr := apperrors.NewUnauthorizedError("Invalid bearer token", err)
			apperrors.LogError(c, appErr)
			c.AbortWithStatusJSON(appErr.HTTPStatus, appErr.Response())
			return
		}

		c.Set(claimsKey, claims)
		c.Set(ratelimit.SubjectKey, claims.Subject)
		c.Next()
	}
}

// RequireRole must run after RequireAuth
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !GetClaims(c).HasRole(role) {
			appErr := apperrors.NewForbiddenError(role)
			c.AbortWithStatusJSON(appErr.HTTPStatus, appErr.Response())
			return
		}
		c.Next()
	}
}

// GetClaims returns the authenticated claims, or nil
func GetClaims(c *gin.Context) *Claims {
	if v, exists := c.Get(claimsKey); exists {
		if claims, ok := v.(*Claims); ok {
			return claims
		}
	}
	return nil
}

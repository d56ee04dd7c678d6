package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ayo6706/saldo-exchange/internal/api/problem"
	"github.com/ayo6706/saldo-exchange/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type contextKey string

const (
	userContextKey  contextKey = "user_id"
	roleContextKey  contextKey = "user_role"
	traceContextKey contextKey = "trace_id"
)

// SessionCookie carries the admin session when links are opened from an email client.
const SessionCookie = "session"

var jwtSecret []byte
var jwtIssuer string
var jwtAudience string

var (
	errNoToken      = errors.New("no token")
	errBadFormat    = errors.New("invalid token format")
	errInvalidToken = errors.New("invalid token")
	errBadClaims    = errors.New("invalid token claims")
)

type authClaims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

func SetJWTSecret(secret string) {
	if secret == "" {
		return
	}
	jwtSecret = []byte(secret)
}

func SetJWTValidation(issuer, audience string) {
	jwtIssuer = strings.TrimSpace(issuer)
	jwtAudience = strings.TrimSpace(audience)
}

// IssueToken signs a session token in the shape the identity provider issues.
// Used by tests and the dev-token command.
func IssueToken(userID uuid.UUID, role string, ttl time.Duration) (string, error) {
	if len(jwtSecret) == 0 {
		return "", errors.New("jwt secret not configured")
	}
	now := time.Now()
	claims := authClaims{
		UserID: userID.String(),
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    jwtIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if jwtAudience != "" {
		claims.Audience = jwt.ClaimStrings{jwtAudience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(jwtSecret)
}

// tokenSource extracts a raw token from the request; errNoToken means "try the next one".
type tokenSource func(r *http.Request) (string, error)

func fromBearer(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errNoToken
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header || token == "" {
		return "", errBadFormat
	}
	return token, nil
}

// Browsers cannot set headers on a websocket handshake.
func fromQuery(r *http.Request) (string, error) {
	if t := r.URL.Query().Get("access_token"); t != "" {
		return t, nil
	}
	return "", errNoToken
}

func fromCookie(r *http.Request) (string, error) {
	c, err := r.Cookie(SessionCookie)
	if err != nil || c.Value == "" {
		return "", errNoToken
	}
	return c.Value, nil
}

func parseToken(raw string) (*authClaims, error) {
	claims := &authClaims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if jwtIssuer != "" {
		opts = append(opts, jwt.WithIssuer(jwtIssuer))
	}
	if jwtAudience != "" {
		opts = append(opts, jwt.WithAudience(jwtAudience))
	}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %s", token.Method.Alg())
		}
		return jwtSecret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, errInvalidToken
	}
	if claims.UserID == "" {
		return nil, errBadClaims
	}
	if _, err := uuid.Parse(claims.UserID); err != nil {
		return nil, errBadClaims
	}
	if claims.Subject != "" && claims.Subject != claims.UserID {
		return nil, errBadClaims
	}
	return claims, nil
}

func authenticate(r *http.Request, sources ...tokenSource) (*authClaims, error) {
	for _, src := range sources {
		raw, err := src(r)
		if errors.Is(err, errNoToken) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return parseToken(raw)
	}
	return nil, errNoToken
}

func withClaims(r *http.Request, claims *authClaims) *http.Request {
	ctx := context.WithValue(r.Context(), userContextKey, claims.UserID)
	ctx = context.WithValue(ctx, roleContextKey, claims.Role)
	return r.WithContext(ctx)
}

func writeAuthProblem(w http.ResponseWriter, r *http.Request, err error) {
	slug, detail := "auth/invalid-token", "Invalid token"
	switch {
	case errors.Is(err, errNoToken):
		slug, detail = "auth/authorization-header-required", "Authorization header required"
	case errors.Is(err, errBadFormat):
		slug, detail = "auth/invalid-token-format", "Invalid token format"
	case errors.Is(err, errBadClaims):
		slug, detail = "auth/invalid-token-claims", "Invalid token claims"
	}
	problem.Write(w, r, http.StatusUnauthorized, problem.Type(slug), http.StatusText(http.StatusUnauthorized), detail)
}

func requireAuth(sources ...tokenSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(jwtSecret) == 0 {
				problem.Write(w, r, http.StatusInternalServerError, problem.Type("auth/misconfigured"), http.StatusText(http.StatusInternalServerError), "auth is not configured")
				return
			}
			claims, err := authenticate(r, sources...)
			if err != nil {
				writeAuthProblem(w, r, err)
				return
			}
			next.ServeHTTP(w, withClaims(r, claims))
		})
	}
}

// AuthMiddleware validates the bearer JWT and injects user metadata into the context.
func AuthMiddleware(next http.Handler) http.Handler {
	return requireAuth(fromBearer)(next)
}

// WebSocketAuth also accepts the token from the access_token query parameter.
func WebSocketAuth(next http.Handler) http.Handler {
	return requireAuth(fromBearer, fromQuery)(next)
}

// AdminSession guards the one-click admin links. They are opened in a browser,
// so failures redirect through onFail rather than returning problem JSON.
func AdminSession(onFail func(w http.ResponseWriter, r *http.Request, result string)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(jwtSecret) == 0 {
				onFail(w, r, "unauthorized")
				return
			}
			claims, err := authenticate(r, fromBearer, fromCookie)
			if err != nil || claims.Role != domain.RoleAdmin {
				onFail(w, r, "unauthorized")
				return
			}
			next.ServeHTTP(w, withClaims(r, claims))
		})
	}
}

// RequireRole ensures the authenticated user has the required role.
func RequireRole(requiredRole string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := UserRoleFromContext(r.Context())
			if role != requiredRole {
				problem.Write(w, r, http.StatusForbidden, problem.Type("auth/insufficient-permissions"), http.StatusText(http.StatusForbidden), "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserIDFromContext returns the authenticated user ID.
func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	if ctx == nil {
		return uuid.Nil, false
	}
	v, ok := ctx.Value(userContextKey).(string)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// UserRoleFromContext returns the role of the authenticated user.
func UserRoleFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(roleContextKey).(string); ok {
		return v
	}
	return ""
}

// TraceIDFromContext returns the trace id for the request.
func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(traceContextKey).(string); ok {
		return v
	}
	return ""
}

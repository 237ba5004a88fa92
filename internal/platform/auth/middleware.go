package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
	RoleAdmin   = "admin"
)

type contextKey string

const identityKey contextKey = "identity"

// DevUserID identifies the implicit admin used by DevAuthMiddleware.
var DevUserID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// Identity is the authenticated caller of a request.
type Identity struct {
	UserID uuid.UUID
	Role   string
}

func (i Identity) IsAdmin() bool   { return i.Role == RoleAdmin }
func (i Identity) IsDoctor() bool  { return i.Role == RoleDoctor }
func (i Identity) IsPatient() bool { return i.Role == RolePatient }

type Claims struct {
	jwt.RegisteredClaims
	Role  string   `json:"role"`
	Roles []string `json:"roles"`
}

// primaryRole picks the most privileged role carried by the token.
func (c *Claims) primaryRole() string {
	roles := append([]string{c.Role}, c.Roles...)
	for _, candidate := range []string{RoleAdmin, RoleDoctor, RolePatient} {
		for _, r := range roles {
			if r == candidate {
				return candidate
			}
		}
	}
	return ""
}

type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// SigningKey enables HS256 verification; used for development and tests.
	SigningKey []byte
	Skipper    echomw.Skipper
}

func (cfg JWTConfig) keyfunc() jwt.Keyfunc {
	if len(cfg.SigningKey) > 0 {
		return func(*jwt.Token) (interface{}, error) { return cfg.SigningKey, nil }
	}
	url := cfg.JWKSURL
	if url == "" && cfg.Issuer != "" {
		if discovered, err := DiscoverJWKSURL(cfg.Issuer); err == nil {
			url = discovered
		}
	}
	return NewKeySet(url, defaultKeyTTL).Keyfunc()
}

func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	keyfunc := cfg.keyfunc()

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256", "HS256"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			tokenStr, err := bearerToken(c.Request())
			if err != nil {
				return err
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenStr, claims, keyfunc, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			userID, err := uuid.Parse(claims.Subject)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token subject")
			}
			role := claims.primaryRole()
			if role == "" {
				return echo.NewHTTPError(http.StatusForbidden, "token carries no recognised role")
			}

			setIdentity(c, Identity{UserID: userID, Role: role})
			return next(c)
		}
	}
}

// bearerToken reads the Authorization header. Websocket handshakes may pass
// the token as the access_token query parameter instead.
func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		if token := r.URL.Query().Get("access_token"); token != "" && isUpgrade(r) {
			return token, nil
		}
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
	}
	return strings.TrimSpace(parts[1]), nil
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// DevAuthMiddleware lets requests without a bearer token through as the
// development admin, or as the user named by the X-User-ID and X-User-Role
// headers. Requests that do carry a token are verified with cfg.
func DevAuthMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	verify := JWTMiddleware(cfg)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		verified := verify(next)
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}
			r := c.Request()
			if r.Header.Get("Authorization") != "" || (isUpgrade(r) && r.URL.Query().Get("access_token") != "") {
				return verified(c)
			}

			id := Identity{UserID: DevUserID, Role: RoleAdmin}
			if raw := c.Request().Header.Get("X-User-ID"); raw != "" {
				uid, err := uuid.Parse(raw)
				if err != nil {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid X-User-ID")
				}
				id.UserID = uid
			}
			switch role := c.Request().Header.Get("X-User-Role"); role {
			case RolePatient, RoleDoctor, RoleAdmin:
				id.Role = role
			case "":
			default:
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid X-User-Role")
			}

			setIdentity(c, id)
			return next(c)
		}
	}
}

func setIdentity(c echo.Context, id Identity) {
	c.Set("user_id", id.UserID.String())
	c.SetRequest(c.Request().WithContext(WithIdentity(c.Request().Context(), id)))
}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the caller stored by the auth middleware.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

func UserIDFromContext(ctx context.Context) string {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		return ""
	}
	return id.UserID.String()
}

func RoleFromContext(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.Role
}

// Caller returns the identity of the request or a 401 when none was set.
func Caller(c echo.Context) (Identity, error) {
	id, ok := IdentityFromContext(c.Request().Context())
	if !ok {
		return Identity{}, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return id, nil
}

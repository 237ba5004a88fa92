package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RequireRole returns middleware that checks the caller has one of the given
// roles. Admins always pass; everyone else gets 403 "Access denied".
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, ok := IdentityFromContext(c.Request().Context())
			if ok {
				if id.IsAdmin() {
					return next(c)
				}
				for _, required := range roles {
					if id.Role == required {
						return next(c)
					}
				}
			}
			return echo.NewHTTPError(http.StatusForbidden, "Access denied")
		}
	}
}

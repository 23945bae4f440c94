package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const APIKeyHeader = "X-API-Key"

// AuthMiddleware accepts requests carrying the configured API key either as
// bearer token or in the X-API-Key header. Without a configured key every
// request passes.
func AuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		app := c.(*AppContext).App
		if app.APIKey == "" {
			return next(c)
		}

		token := c.Request().Header.Get(APIKeyHeader)
		if token == "" {
			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			if after, ok := strings.CutPrefix(authHeader, "Bearer "); ok {
				token = after
			}
		}

		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(app.APIKey)) != 1 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		}
		return next(c)
	}
}

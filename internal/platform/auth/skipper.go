package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths bypass authentication: health checks, login/refresh, and the
// payment gateway callback, which is verified server-side instead.
var publicPaths = map[string]bool{
	"/health":                  true,
	"/health/db":               true,
	"/api/v1/auth/login":       true,
	"/api/v1/auth/refresh":     true,
	"/api/v1/payments/webhook": true,
}

// AuthSkipper matches on the registered route path, not the raw URL.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

func IsPublicPath(path string) bool {
	return publicPaths[path]
}

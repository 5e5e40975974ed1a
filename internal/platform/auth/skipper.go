package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// publicRoutes are served without credentials: infrastructure probes and
// the read-only doctor directory. Keys are registered route patterns.
var publicRoutes = map[string]bool{
	"/health":             true,
	"/health/db":          true,
	"/api/v1/doctors":     true,
	"/api/v1/doctors/:id": true,
}

// PublicSkipper reports whether the request targets a public route.
func PublicSkipper(c echo.Context) bool {
	if c.Request().Method != http.MethodGet {
		return false
	}
	return publicRoutes[c.Path()]
}

func IsPublicRoute(path string) bool {
	return publicRoutes[path]
}

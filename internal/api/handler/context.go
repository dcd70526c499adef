package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/99minutos/identity-service/internal/core/domain"
)

// ClaimsKey is the echo context key the Auth middleware stores verified claims under.
const ClaimsKey = "claims"

// ctxClaims returns the claims injected by the Auth middleware. Their presence
// proves the middleware ran and the token verified.
func ctxClaims(c echo.Context) (*domain.TokenClaims, error) {
	claims, ok := c.Get(ClaimsKey).(*domain.TokenClaims)
	if !ok || claims == nil || claims.Subject == "" {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "missing authentication claims")
	}
	return claims, nil
}

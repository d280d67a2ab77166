package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard-api/domain"
)

const principalKey = "principal"

const (
	msgTokenMissing  = "Authorization token is missing"
	msgNotAuthorized = "You are not authorized to make this request"
)

// AuthGate verifies the bearer token and stores the principal on the context.
func AuthGate(verifier domain.TokenVerifier, logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, err := bearerTokenFromHeader(c.Request().Header)
			if errors.Is(err, errMissingAuthorization) {
				return c.JSON(http.StatusUnauthorized, errorResponse{Error: msgTokenMissing})
			}
			if err != nil {
				logger.WithError(err).WithField("path", c.Path()).Warn("rejected authorization header")
				return c.JSON(http.StatusUnauthorized, errorResponse{Error: msgNotAuthorized})
			}

			p, err := verifier.VerifyToken(c.Request().Context(), token)
			if err != nil || p.UID == "" {
				logger.WithError(err).WithField("path", c.Path()).Warn("token verification failed")
				return c.JSON(http.StatusUnauthorized, errorResponse{Error: msgNotAuthorized})
			}
			c.Set(principalKey, p)
			return next(c)
		}
	}
}

// principalFrom returns the principal stored by AuthGate.
func principalFrom(c echo.Context) (domain.Principal, bool) {
	p, ok := c.Get(principalKey).(domain.Principal)
	return p, ok && p.UID != ""
}

package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
)

const bearerScheme = "Bearer"

// bearerTokenFromHeader returns the token of the first Authorization value.
// A missing header or a header without a token yields errMissingAuthorization;
// any other scheme or a token that is not a compact JWS yields
// errBadAuthorization.
func bearerTokenFromHeader(header http.Header) (string, error) {
	values := header.Values(echo.HeaderAuthorization)
	if len(values) == 0 {
		return "", errMissingAuthorization
	}
	return bearerTokenFromString(values[0])
}

func bearerTokenFromString(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errMissingAuthorization
	}
	scheme, token, _ := strings.Cut(raw, " ")
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errMissingAuthorization
	}
	if !strings.EqualFold(scheme, bearerScheme) {
		return "", errBadAuthorization
	}
	if strings.Count(token, ".") != 2 {
		return "", errBadAuthorization
	}
	return token, nil
}

package identity

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"taskboard-api/domain"
)

// LocalToken signs an HS256 ID token that a Verifier in local mode with the
// same secret and project accepts.
func LocalToken(secret, projectID string, p domain.Principal, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("LOCAL_AUTH_SHARED_SECRET must be set")
	}
	if p.UID == "" {
		return "", errors.New("uid is required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":       p.UID,
		"iat":       now.Unix(),
		"auth_time": now.Unix(),
		"exp":       now.Add(ttl).Unix(),
	}
	if projectID != "" {
		claims["aud"] = projectID
		claims["iss"] = issuerPrefix + projectID
	}
	if p.Email != "" {
		claims["email"] = p.Email
	}
	if p.Name != "" {
		claims["name"] = p.Name
	}
	if p.Picture != "" {
		claims["picture"] = p.Picture
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

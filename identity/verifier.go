package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
	log "github.com/sirupsen/logrus"

	"taskboard-api/domain"
)

const (
	// GoogleJWKSURL publishes the keys Firebase signs ID tokens with.
	GoogleJWKSURL = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"

	defaultJWKSCacheTTL = 15 * time.Minute
	issuerPrefix        = "https://securetoken.google.com/"
)

// ErrInvalidToken wraps every verification failure.
var ErrInvalidToken = errors.New("invalid token")

// VerifierConfig configures a Verifier. LocalMode "hs256" replaces Firebase
// key verification with a shared secret for local runs and tests.
type VerifierConfig struct {
	ProjectID   string
	JWKSURL     string
	KeyCacheTTL time.Duration
	LocalMode   string
	LocalSecret string
}

// Verifier validates Firebase ID tokens.
type Verifier struct {
	JWKS       *keyfunc.JWKS
	Audience   string
	Issuer     string
	TestMode   bool
	TestSecret []byte

	parser      *jwt.Parser
	keyCache    sync.Map
	keyCacheTTL time.Duration
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// NewVerifier builds a Verifier. Outside local mode the JWKS is fetched once
// and refreshed in the background.
func NewVerifier(cfg VerifierConfig, logger *log.Logger) (*Verifier, error) {
	v := &Verifier{keyCacheTTL: cfg.KeyCacheTTL}
	if v.keyCacheTTL == 0 {
		v.keyCacheTTL = defaultJWKSCacheTTL
	}
	if cfg.ProjectID != "" {
		v.Audience = cfg.ProjectID
		v.Issuer = issuerPrefix + cfg.ProjectID
	}

	switch mode := strings.ToLower(cfg.LocalMode); mode {
	case "":
	case "hs256":
		if cfg.LocalSecret == "" {
			return nil, errors.New("LOCAL_AUTH_SHARED_SECRET must be set when LOCAL_AUTH_MODE=hs256")
		}
		v.TestMode = true
		v.TestSecret = []byte(cfg.LocalSecret)
	default:
		return nil, fmt.Errorf("unsupported LOCAL_AUTH_MODE value %q", cfg.LocalMode)
	}

	if v.TestMode {
		v.parser = jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}))
		return v, nil
	}

	url := cfg.JWKSURL
	if url == "" {
		url = GoogleJWKSURL
	}
	jwks, err := keyfunc.Get(url, keyfunc.Options{
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			logger.WithError(err).Warn("jwks refresh failed")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	v.JWKS = jwks
	v.parser = jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}))
	return v, nil
}

// Close stops the background JWKS refresh.
func (v *Verifier) Close() {
	if v.JWKS != nil {
		v.JWKS.EndBackground()
	}
}

// VerifyToken implements domain.TokenVerifier.
func (v *Verifier) VerifyToken(_ context.Context, token string) (domain.Principal, error) {
	claims, err := v.parse(token)
	if err != nil {
		return domain.Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	p := domain.Principal{Claims: claims}
	p.UID, _ = claims["sub"].(string)
	p.Email, _ = claims["email"].(string)
	p.Name, _ = claims["name"].(string)
	p.Picture, _ = claims["picture"].(string)
	return p, nil
}

func (v *Verifier) parse(tokenStr string) (jwt.MapClaims, error) {
	if tokenStr == "" {
		return nil, errors.New("empty token")
	}

	var parsedToken *jwt.Token
	var err error
	if v.TestMode {
		parsedToken, err = v.parser.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("invalid signing method")
			}
			return v.TestSecret, nil
		})
	} else {
		parsedToken, err = v.parser.Parse(tokenStr, v.keyForToken)
	}
	if err != nil {
		return nil, err
	}

	claims, ok := parsedToken.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid claims")
	}

	now := time.Now().Add(time.Minute).Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return nil, errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now, false) {
		return nil, errors.New("token not valid yet")
	}
	if !claims.VerifyIssuedAt(now, false) {
		return nil, errors.New("token used before issued")
	}
	if authTime, ok := claims["auth_time"].(float64); ok && int64(authTime) > now {
		return nil, errors.New("authenticated in the future")
	}
	if v.Audience != "" && !claims.VerifyAudience(v.Audience, true) {
		return nil, errors.New("invalid audience")
	}
	if v.Issuer != "" && !claims.VerifyIssuer(v.Issuer, true) {
		return nil, errors.New("invalid issuer")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, errors.New("missing sub")
	}
	if len(sub) > 128 {
		return nil, errors.New("sub too long")
	}
	return claims, nil
}

func (v *Verifier) keyForToken(token *jwt.Token) (any, error) {
	kid, _ := token.Header["kid"].(string)
	if kid != "" && v.keyCacheTTL > 0 {
		if cached, ok := v.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if time.Now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			v.keyCache.Delete(kid)
		}
	}

	if v.JWKS == nil {
		return nil, errors.New("jwks not configured")
	}

	key, err := v.JWKS.Keyfunc(token)
	if err != nil {
		return nil, err
	}

	if kid != "" && v.keyCacheTTL > 0 {
		v.keyCache.Store(kid, cachedKey{key: key, expiresAt: time.Now().Add(v.keyCacheTTL)})
	}
	return key, nil
}

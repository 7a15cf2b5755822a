package api

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

const (
	defaultJWKSCacheTTL = 15 * time.Minute
	tenantClaim         = "tenant"
	usernameClaim       = "preferred_username"
)

// Principal is the authenticated caller of an API request.
type Principal struct {
	Username string
	TenantID string
	Token    string
}

// AuthConfig selects how bearer tokens are verified. A non-empty TestSecret
// switches to HS256 tokens signed with that secret.
type AuthConfig struct {
	JWKS        *keyfunc.JWKS
	Audience    string
	Issuer      string
	TestSecret  string
	KeyCacheTTL time.Duration
}

// Auth validates incoming JWT tokens.
type Auth struct {
	jwks       *keyfunc.JWKS
	audience   string
	issuer     string
	testMode   bool
	testSecret []byte

	parser      *jwt.Parser
	keyCache    sync.Map
	keyCacheTTL time.Duration
	now         func() time.Time
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

func NewAuth(cfg AuthConfig) *Auth {
	a := &Auth{jwks: cfg.JWKS, audience: cfg.Audience, issuer: cfg.Issuer, keyCacheTTL: cfg.KeyCacheTTL, now: time.Now}
	if a.keyCacheTTL <= 0 {
		a.keyCacheTTL = defaultJWKSCacheTTL
	}
	if cfg.TestSecret != "" {
		a.testMode = true
		a.testSecret = []byte(cfg.TestSecret)
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}))
	} else {
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}))
	}
	return a
}

// Authenticate verifies the Authorization header. The tenant comes from the
// token when present, otherwise from tenantHeader.
func (a *Auth) Authenticate(authHeader, tenantHeader string) (Principal, error) {
	token, err := bearerToken(authHeader)
	if err != nil {
		return Principal{}, err
	}
	claims, err := a.verify(token)
	if err != nil {
		return Principal{}, err
	}

	username, _ := claims[usernameClaim].(string)
	if username == "" {
		username, _ = claims["sub"].(string)
	}
	if username == "" {
		return Principal{}, errors.New("missing sub")
	}
	tenant, _ := claims[tenantClaim].(string)
	if tenant == "" {
		tenant = strings.TrimSpace(tenantHeader)
	}
	if tenant == "" {
		return Principal{}, errors.New("missing tenant")
	}
	return Principal{Username: username, TenantID: tenant, Token: token}, nil
}

func (a *Auth) verify(token string) (jwt.MapClaims, error) {
	var parsed *jwt.Token
	var err error
	if a.testMode {
		parsed, err = a.parser.Parse(token, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("invalid signing method")
			}
			return a.testSecret, nil
		})
	} else {
		parsed, err = a.parser.Parse(token, a.keyForToken)
	}
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid claims")
	}
	now := a.now().Add(time.Minute).Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return nil, errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now, false) {
		return nil, errors.New("token not valid yet")
	}
	if a.audience != "" && !claims.VerifyAudience(a.audience, false) {
		return nil, errors.New("invalid audience")
	}
	if a.issuer != "" && !claims.VerifyIssuer(a.issuer, false) {
		return nil, errors.New("invalid issuer")
	}
	return claims, nil
}

func (a *Auth) keyForToken(token *jwt.Token) (any, error) {
	if a.jwks == nil {
		return nil, errors.New("jwks not configured")
	}

	kid, _ := token.Header["kid"].(string)
	if kid != "" {
		if cached, ok := a.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if a.now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			a.keyCache.Delete(kid)
		}
	}

	key, err := a.jwks.Keyfunc(token)
	if err != nil {
		return nil, err
	}
	if kid != "" {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: a.now().Add(a.keyCacheTTL)})
	}
	return key, nil
}

package authx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrUnknownKID   = errors.New("unknown kid")
)

// Principal is the identity derived from a verified bearer token. It lives
// for the duration of one request.
type Principal struct {
	Subject      string
	Email        string
	Role         string
	Permissions  []string
	SessionID    string
	TokenVersion int
}

// HasPermissions reports whether the principal's permission set is a superset
// of required.
func (p Principal) HasPermissions(required []string) bool {
	for _, want := range required {
		found := false
		for _, have := range p.Permissions {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

type contextKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	if v := ctx.Value(contextKey{}); v != nil {
		if p, ok := v.(Principal); ok {
			return p, true
		}
	}
	return Principal{}, false
}

type JWTVerifier struct {
	issuer    string
	audience  string
	jwks      *JWKSCache
	clockSkew time.Duration
	parser    *jwt.Parser
}

func NewJWTVerifier(issuer string, audience string, jwksURL string, ttlSeconds int, clockSkewSeconds int) (*JWTVerifier, error) {
	issuer = strings.TrimSpace(issuer)
	audience = strings.TrimSpace(audience)
	if issuer == "" || audience == "" {
		return nil, fmt.Errorf("%w: missing issuer or audience", ErrInvalidToken)
	}
	if jwksURL == "" {
		jwksURL = strings.TrimRight(issuer, "/") + "/.well-known/jwks.json"
	}
	if ttlSeconds <= 0 {
		ttlSeconds = 300
	}
	if clockSkewSeconds < 0 {
		clockSkewSeconds = 0
	}

	return &JWTVerifier{
		issuer:    issuer,
		audience:  audience,
		jwks:      NewJWKSCache(jwksURL, time.Duration(ttlSeconds)*time.Second, &http.Client{Timeout: 5 * time.Second}),
		clockSkew: time.Duration(clockSkewSeconds) * time.Second,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}),
			jwt.WithAudience(audience),
			jwt.WithIssuer(issuer),
			jwt.WithLeeway(time.Duration(clockSkewSeconds)*time.Second),
			jwt.WithExpirationRequired(),
		),
	}, nil
}

func (v *JWTVerifier) Verify(ctx context.Context, rawToken string) (Principal, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return Principal{}, ErrInvalidToken
	}

	claims := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(rawToken, claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		kid = strings.TrimSpace(kid)
		if kid == "" {
			return nil, ErrUnknownKID
		}
		return v.jwks.GetKey(ctx, kid)
	})
	if err != nil {
		return Principal{}, ErrInvalidToken
	}

	return PrincipalFromClaims(claims)
}

// PrincipalFromClaims maps verified claims onto a Principal. Split out so
// tests and alternate verifiers can exercise the claim shape directly.
func PrincipalFromClaims(claims jwt.MapClaims) (Principal, error) {
	subject := strings.TrimSpace(fmt.Sprint(claims["sub"]))
	if subject == "" || claims["sub"] == nil {
		return Principal{}, ErrInvalidToken
	}

	p := Principal{
		Subject:      subject,
		Email:        stringClaim(claims, "email"),
		Role:         strings.ToUpper(stringClaim(claims, "role")),
		Permissions:  stringsClaim(claims, "permissions"),
		SessionID:    stringClaim(claims, "sid"),
		TokenVersion: intClaim(claims, "token_version"),
	}
	return p, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key]; ok {
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func stringsClaim(claims jwt.MapClaims, key string) []string {
	var out []string
	appendOne := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		for _, existing := range out {
			if existing == s {
				return
			}
		}
		out = append(out, s)
	}
	switch t := claims[key].(type) {
	case []string:
		for _, s := range t {
			appendOne(s)
		}
	case []any:
		for _, v := range t {
			appendOne(fmt.Sprint(v))
		}
	case string:
		for _, s := range strings.Fields(t) {
			appendOne(s)
		}
	}
	return out
}

func intClaim(claims jwt.MapClaims, key string) int {
	switch t := claims[key].(type) {
	case float64:
		return int(t)
	case int:
		return t
	case int64:
		return int(t)
	case string:
		var n int
		if _, err := fmt.Sscanf(strings.TrimSpace(t), "%d", &n); err == nil {
			return n
		}
	}
	return 0
}

type JWKSCache struct {
	url       string
	ttl       time.Duration
	client    *http.Client
	mu        sync.RWMutex
	keysByKID map[string]any
	expiresAt time.Time
}

func NewJWKSCache(url string, ttl time.Duration, client *http.Client) *JWKSCache {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &JWKSCache{
		url:       url,
		ttl:       ttl,
		client:    client,
		keysByKID: map[string]any{},
	}
}

func (c *JWKSCache) GetKey(ctx context.Context, kid string) (any, error) {
	if kid == "" {
		return nil, ErrUnknownKID
	}

	now := time.Now()
	c.mu.RLock()
	key := c.keysByKID[kid]
	expiresAt := c.expiresAt
	c.mu.RUnlock()

	if key != nil && now.Before(expiresAt) {
		return key, nil
	}

	if err := c.refresh(ctx); err != nil {
		// Serve a stale key over failing the request outright.
		c.mu.RLock()
		key = c.keysByKID[kid]
		c.mu.RUnlock()
		if key != nil {
			return key, nil
		}
		return nil, err
	}

	c.mu.RLock()
	key = c.keysByKID[kid]
	c.mu.RUnlock()
	if key == nil {
		return nil, ErrUnknownKID
	}
	return key, nil
}

func (c *JWKSCache) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("jwks fetch failed: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	set, err := jwk.Parse(body)
	if err != nil {
		return err
	}

	keys := make(map[string]any)
	iter := set.Iterate(ctx)
	for iter.Next(ctx) {
		pair := iter.Pair()
		key, ok := pair.Value.(jwk.Key)
		if !ok {
			continue
		}
		kid := strings.TrimSpace(key.KeyID())
		if kid == "" {
			continue
		}
		var raw any
		if err := key.Raw(&raw); err != nil {
			continue
		}
		keys[kid] = raw
	}
	if len(keys) == 0 {
		return errors.New("no usable jwks keys")
	}

	c.mu.Lock()
	c.keysByKID = keys
	c.expiresAt = time.Now().Add(c.ttl)
	c.mu.Unlock()
	return nil
}

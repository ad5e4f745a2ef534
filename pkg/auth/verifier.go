package auth

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tendant/simple-kms/pkg/keysource"
)

const supportedAlgorithm = "RS256"

// Verifier validates bearer tokens against the signing keys of an identity
// provider and caches verified claims until their expiry.
//
// One Verifier is constructed at process start and shared by reference. The
// cache is keyed by the token's trailing signature segment, which is unique
// per signed token and cheap to extract.
type Verifier struct {
	keys         *keysource.Source
	appIDs       []string
	appIDPattern *regexp.Regexp
	now          func() time.Time

	mu    sync.Mutex
	cache map[string]*Claims
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithAllowedAppIDs sets the exact application ids accepted as the token's
// app id and audience. The entry "*" accepts any value.
func WithAllowedAppIDs(appIDs []string) Option {
	return func(v *Verifier) {
		v.appIDs = appIDs
	}
}

// WithAppIDPattern adds a regular expression accepted alongside the exact
// id list.
func WithAppIDPattern(pattern *regexp.Regexp) Option {
	return func(v *Verifier) {
		v.appIDPattern = pattern
	}
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		v.now = now
	}
}

// NewVerifier creates a Verifier resolving signing keys through keys.
func NewVerifier(keys *keysource.Source, opts ...Option) *Verifier {
	v := &Verifier{
		keys:  keys,
		now:   time.Now,
		cache: make(map[string]*Claims),
	}

	for _, opt := range opts {
		opt(v)
	}

	return v
}

// Verify validates the raw bearer token and returns its claims.
//
// The checks run in a fixed order: cache lookup, unverified header decode,
// algorithm allow-list, app id policy, key resolution, then a single
// verification pass covering signature, expiry, not-before, audience, and
// issuer. Claim mismatches all surface as a generic TokenInvalidError.
func (v *Verifier) Verify(ctx context.Context, raw string) (*Claims, error) {
	hash, err := tokenHash(raw)
	if err != nil {
		return nil, err
	}

	if claims := v.cachedClaims(hash); claims != nil {
		return claims, nil
	}

	unverified := &Claims{}
	token, _, err := jwt.NewParser().ParseUnverified(raw, unverified)
	if err != nil {
		slog.Warn("Failed to decode token", "err", err)
		return nil, &TokenInvalidError{Message: "failed to decode token", Err: err}
	}

	if alg, _ := token.Header["alg"].(string); alg != supportedAlgorithm {
		return nil, &TokenInvalidError{Message: "bad algorithm"}
	}

	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return nil, &TokenInvalidError{Message: "missing key id"}
	}

	if !v.appIDAllowed(unverified.AppID) {
		slog.Warn("App id does not match policy", "appid", unverified.AppID)
		return nil, &InvalidAppIdError{AppID: unverified.AppID}
	}

	key, err := v.keys.SigningKey(ctx, kid)
	if err != nil {
		var unknownKey *keysource.UnknownKeyError
		if errors.As(err, &unknownKey) {
			return nil, &TokenInvalidError{Message: "token is invalid", Err: err}
		}
		slog.Warn("Failed to resolve signing key", "kid", kid, "err", err)
		return nil, &TokenOpenIdError{Message: "failed to retrieve signing keys", Err: err}
	}

	claims := &Claims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{supportedAlgorithm}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if _, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return key.Key, nil
	}); err != nil {
		slog.Warn("Failed to validate token", "kid", kid, "err", err)
		return nil, &TokenInvalidError{Message: "token is invalid", Err: err}
	}

	if !v.audienceAllowed(claims.Audience) || !v.issuerAllowed(claims.Issuer) {
		slog.Warn("Token claims do not match policy", "iss", claims.Issuer)
		return nil, &TokenInvalidError{Message: "token is invalid"}
	}

	v.mu.Lock()
	v.cache[hash] = claims
	v.mu.Unlock()

	return claims, nil
}

// PurgeExpired removes expired entries from the token cache and returns the
// number of entries removed.
func (v *Verifier) PurgeExpired() int {
	now := v.now()

	v.mu.Lock()
	defer v.mu.Unlock()

	purged := 0
	for hash, claims := range v.cache {
		if claims.ExpiresAt == nil || !now.Before(claims.ExpiresAt.Time) {
			delete(v.cache, hash)
			purged++
		}
	}
	return purged
}

// StartAudit purges expired cache entries on the given interval until ctx is
// cancelled. Run it in its own goroutine.
func (v *Verifier) StartAudit(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged := v.PurgeExpired()
			slog.Info("Audited token cache", "purged", purged)
		}
	}
}

// cachedClaims returns fresh cached claims for the hash, evicting an expired
// entry so the caller falls through to full validation.
func (v *Verifier) cachedClaims(hash string) *Claims {
	v.mu.Lock()
	defer v.mu.Unlock()

	claims, ok := v.cache[hash]
	if !ok {
		return nil
	}
	if claims.ExpiresAt == nil || !v.now().Before(claims.ExpiresAt.Time) {
		delete(v.cache, hash)
		return nil
	}
	return claims
}

// tokenHash extracts the trailing signature segment as a stable cache key.
func tokenHash(raw string) (string, error) {
	parts := strings.Split(raw, ".")
	hash := parts[len(parts)-1]
	if len(parts) != 3 || hash == "" {
		return "", &TokenInvalidError{Message: "token is invalid"}
	}
	return hash, nil
}

func (v *Verifier) appIDAllowed(appID string) bool {
	if len(v.appIDs) == 0 && v.appIDPattern == nil {
		return true
	}
	for _, allowed := range v.appIDs {
		if allowed == "*" || allowed == appID {
			return true
		}
	}
	return v.appIDPattern != nil && v.appIDPattern.MatchString(appID)
}

func (v *Verifier) audienceAllowed(audience jwt.ClaimStrings) bool {
	if len(v.appIDs) == 0 && v.appIDPattern == nil {
		return true
	}
	for _, aud := range audience {
		if v.appIDAllowed(aud) {
			return true
		}
	}
	return false
}

func (v *Verifier) issuerAllowed(issuer string) bool {
	for _, allowed := range v.keys.Issuers() {
		if issuer == allowed {
			return true
		}
	}
	return false
}

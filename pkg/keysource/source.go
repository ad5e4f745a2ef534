package keysource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
)

const (
	// DefaultWellKnownURLTemplate locates the discovery document for a
	// tenant. The {tenantid} placeholder is replaced with the tenant id, or
	// with "common" for a multi-tenant setup.
	DefaultWellKnownURLTemplate = "https://login.windows.net/{tenantid}/v2.0/.well-known/openid-configuration"

	// DefaultBaseIssuerTemplate is the v1 issuer string for a tenant. Tokens
	// issued directly by a configured tenant carry this issuer even when the
	// discovery document advertises the v2 template.
	DefaultBaseIssuerTemplate = "https://sts.windows.net/{tenantid}/"

	// CommonTenant is the shared multi-tenant discovery entry.
	CommonTenant = "common"

	tenantPlaceholder = "{tenantid}"
)

// Source fetches and caches an identity provider's OpenID configuration and
// signing keys. A single Source is constructed at process start and shared by
// reference; all cached state lives on the instance.
//
// The key cache holds one full generation of the provider's key set. A lookup
// for an unknown kid discards the generation and refetches it, which is how
// key rotation is survived without a scheduled job. Two requests racing on
// the same uncached kid may both fetch; the fetch is idempotent and the cache
// write is last-write-wins.
type Source struct {
	client             *http.Client
	wellKnownTemplate  string
	baseIssuerTemplate string
	tenants            []string
	discoveryTenant    string

	mu             sync.Mutex
	configs        map[string]OpenIDConfig
	keys           map[string]SigningKey
	derivedIssuers []string
}

// Option configures a Source.
type Option func(*Source)

// WithHTTPClient sets the client used for discovery and key fetches. The
// default client carries no timeout.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Source) {
		s.client = client
	}
}

// WithWellKnownURLTemplate overrides the discovery document URL template.
// The template must contain a {tenantid} placeholder.
func WithWellKnownURLTemplate(template string) Option {
	return func(s *Source) {
		s.wellKnownTemplate = template
	}
}

// WithBaseIssuerTemplate overrides the static per-tenant issuer template.
func WithBaseIssuerTemplate(template string) Option {
	return func(s *Source) {
		s.baseIssuerTemplate = template
	}
}

// WithDiscoveryTenant sets the tenant whose discovery document supplies the
// jwks_uri for the key cache. Defaults to "common".
func WithDiscoveryTenant(tenantID string) Option {
	return func(s *Source) {
		s.discoveryTenant = tenantID
	}
}

// New creates a Source accepting tokens from the given tenant ids.
func New(tenants []string, opts ...Option) *Source {
	s := &Source{
		client:             &http.Client{},
		wellKnownTemplate:  DefaultWellKnownURLTemplate,
		baseIssuerTemplate: DefaultBaseIssuerTemplate,
		tenants:            tenants,
		discoveryTenant:    CommonTenant,
		configs:            make(map[string]OpenIDConfig),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// OpenIDConfig returns the discovery document for the tenant, fetching and
// caching it on first use. On fetch failure nothing is cached and the derived
// issuer list is left unpopulated so a later call retries.
func (s *Source) OpenIDConfig(ctx context.Context, tenantID string) (OpenIDConfig, error) {
	s.mu.Lock()
	if cfg, ok := s.configs[tenantID]; ok {
		s.mu.Unlock()
		return cfg, nil
	}
	s.mu.Unlock()

	url := strings.ReplaceAll(s.wellKnownTemplate, tenantPlaceholder, tenantID)

	var cfg OpenIDConfig
	if err := s.getJSON(ctx, url, &cfg); err != nil {
		slog.Warn("Failed to get OpenID config", "tenant", tenantID, "err", err)
		return OpenIDConfig{}, &ConfigFetchError{TenantID: tenantID, Err: err}
	}

	s.mu.Lock()
	s.configs[tenantID] = cfg
	s.deriveIssuersLocked(cfg.Issuer)
	s.mu.Unlock()

	return cfg, nil
}

// SigningKey returns the key for kid, refetching the provider's whole key set
// when the kid is unknown. A kid still absent after refresh yields an
// UnknownKeyError.
func (s *Source) SigningKey(ctx context.Context, kid string) (SigningKey, error) {
	s.mu.Lock()
	if key, ok := s.keys[kid]; ok {
		s.mu.Unlock()
		return key, nil
	}
	// Unknown kid invalidates the cached generation.
	s.keys = nil
	s.mu.Unlock()

	keys, err := s.fetchKeys(ctx)
	if err != nil {
		return SigningKey{}, err
	}

	s.mu.Lock()
	s.keys = keys
	key, ok := s.keys[kid]
	s.mu.Unlock()

	if !ok {
		return SigningKey{}, &UnknownKeyError{Kid: kid}
	}
	return key, nil
}

// Issuers returns the acceptable issuer strings: the static per-tenant base
// issuers plus any derived from discovery documents fetched so far.
func (s *Source) Issuers() []string {
	issuers := make([]string, 0, len(s.tenants))
	for _, tenant := range s.tenants {
		issuers = append(issuers, strings.ReplaceAll(s.baseIssuerTemplate, tenantPlaceholder, tenant))
	}

	s.mu.Lock()
	issuers = append(issuers, s.derivedIssuers...)
	s.mu.Unlock()

	return issuers
}

// deriveIssuersLocked expands a discovered issuer string for every configured
// tenant. Issuers without a placeholder are accepted verbatim. Callers hold
// s.mu.
func (s *Source) deriveIssuersLocked(issuer string) {
	if issuer == "" {
		return
	}

	add := func(candidate string) {
		for _, existing := range s.derivedIssuers {
			if existing == candidate {
				return
			}
		}
		s.derivedIssuers = append(s.derivedIssuers, candidate)
	}

	if !strings.Contains(issuer, tenantPlaceholder) {
		add(issuer)
		return
	}
	for _, tenant := range s.tenants {
		add(strings.ReplaceAll(issuer, tenantPlaceholder, tenant))
	}
}

// fetchKeys retrieves the JWKS advertised by the discovery tenant and
// converts each usable RSA entry. Malformed entries are skipped with a
// warning rather than failing the refresh.
func (s *Source) fetchKeys(ctx context.Context) (map[string]SigningKey, error) {
	cfg, err := s.OpenIDConfig(ctx, s.discoveryTenant)
	if err != nil {
		return nil, err
	}

	var jwks JWKS
	if err := s.getJSON(ctx, cfg.JWKSURI, &jwks); err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	if len(jwks.Keys) == 0 {
		return nil, fmt.Errorf("no keys in JWKS response")
	}

	keys := make(map[string]SigningKey, len(jwks.Keys))
	for _, jwk := range jwks.Keys {
		key, err := SigningKeyFromJWK(jwk)
		if err != nil {
			slog.Warn("Ignoring JWKS entry", "kid", jwk.Kid, "err", err)
			continue
		}
		keys[key.Kid] = key
	}
	return keys, nil
}

func (s *Source) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("could not build request for %s: %w", url, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("unexpected status=%d for request=%s", resp.StatusCode, url)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

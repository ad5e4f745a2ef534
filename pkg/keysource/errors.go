package keysource

import "fmt"

// ConfigFetchError is returned when the discovery document for a tenant could
// not be retrieved. Nothing is cached so a later call retries.
type ConfigFetchError struct {
	TenantID string
	Err      error
}

func (e *ConfigFetchError) Error() string {
	return fmt.Sprintf("failed to fetch OpenID config for tenant %s: %v", e.TenantID, e.Err)
}

func (e *ConfigFetchError) Unwrap() error {
	return e.Err
}

// UnknownKeyError is returned when a key id is still absent after a full
// refresh of the provider's key set.
type UnknownKeyError struct {
	Kid string
}

func (e *UnknownKeyError) Error() string {
	return fmt.Sprintf("no such signing key: kid=%s", e.Kid)
}

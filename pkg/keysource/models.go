package keysource

import "crypto/rsa"

// OpenIDConfig is the subset of an identity provider's discovery document
// needed to validate tokens.
type OpenIDConfig struct {
	// Issuer string advertised by the provider. May contain a {tenantid}
	// placeholder in multi-tenant deployments.
	Issuer string `json:"issuer"`

	// JWKSURI is the endpoint publishing the provider's signing keys.
	JWKSURI string `json:"jwks_uri"`
}

// JWKS represents a JSON Web Key Set as defined in RFC 7517
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK represents a JSON Web Key as defined in RFC 7517
type JWK struct {
	// Key Type - "RSA" for RSA keys
	Kty string `json:"kty"`

	// Public Key Use - "sig" for signature
	Use string `json:"use,omitempty"`

	// Key ID - unique identifier for this key
	Kid string `json:"kid"`

	// Algorithm - "RS256" for RSA with SHA-256
	Alg string `json:"alg,omitempty"`

	// RSA public key modulus (base64url encoded)
	N string `json:"n"`

	// RSA public key exponent (base64url encoded)
	E string `json:"e"`
}

// SigningKey is a provider public key converted to verifier-usable forms.
type SigningKey struct {
	Kid string

	// PEM holds the PKCS#1 "RSA PUBLIC KEY" encoding of the key.
	PEM string

	// Key is the parsed form used for signature verification.
	Key *rsa.PublicKey
}

package keysource

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"math/big"
	"strings"
)

// RFC 7468 section 13 names a public key block "PUBLIC KEY", but OpenSSL's
// PEM_read_bio_PUBKEY expects the PKCS#1 label for a bare RSA key, which is
// what callers of this service feed into their verification routines.
const rsaPublicKeyPEMType = "RSA PUBLIC KEY"

// RSAPublicKey ::= SEQUENCE {
//   modulus           INTEGER,  -- n
//   publicExponent    INTEGER   -- e
// }
//
// See RFC 8017 section 3.1. Encoding through math/big values lets the DER
// encoder re-insert the leading 0x00 byte whenever the modulus's most
// significant bit is set; feeding raw bytes in would silently produce a
// negative integer.
type rsaPublicKey struct {
	N *big.Int
	E *big.Int
}

// SigningKeyFromJWK converts an RSA JWK entry into a PEM-encoded PKCS#1
// public key plus its parsed form. Entries that are not RSA keys or are
// missing the modulus or exponent are rejected.
func SigningKeyFromJWK(jwk JWK) (SigningKey, error) {
	if jwk.Kty != "RSA" || jwk.N == "" || jwk.E == "" {
		return SigningKey{}, fmt.Errorf("invalid key: kid=%s kty=%s", jwk.Kid, jwk.Kty)
	}

	n, err := decodeBase64URLUInt(jwk.N)
	if err != nil {
		return SigningKey{}, fmt.Errorf("invalid modulus for kid=%s: %w", jwk.Kid, err)
	}
	e, err := decodeBase64URLUInt(jwk.E)
	if err != nil {
		return SigningKey{}, fmt.Errorf("invalid exponent for kid=%s: %w", jwk.Kid, err)
	}
	if e.BitLen() > 31 || e.Sign() <= 0 {
		return SigningKey{}, fmt.Errorf("exponent out of range for kid=%s", jwk.Kid)
	}

	der, err := asn1.Marshal(rsaPublicKey{N: n, E: e})
	if err != nil {
		return SigningKey{}, fmt.Errorf("failed to encode key kid=%s: %w", jwk.Kid, err)
	}

	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  rsaPublicKeyPEMType,
		Bytes: der,
	})

	return SigningKey{
		Kid: jwk.Kid,
		PEM: string(pemBytes),
		Key: &rsa.PublicKey{N: n, E: int(e.Int64())},
	}, nil
}

// DecodePublicKeyPEM parses a PKCS#1 "RSA PUBLIC KEY" PEM block back into an
// RSA public key.
func DecodePublicKeyPEM(pemData string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}
	if block.Type != rsaPublicKeyPEMType {
		return nil, fmt.Errorf("invalid PEM block type: %s", block.Type)
	}
	return x509.ParsePKCS1PublicKey(block.Bytes)
}

// decodeBase64URLUInt decodes a base64url big-endian unsigned integer as used
// for the n and e members of an RSA JWK. Padded and standard-alphabet inputs
// are tolerated since some providers emit them.
func decodeBase64URLUInt(s string) (*big.Int, error) {
	s = strings.TrimRight(s, "=")
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		b, err = base64.RawStdEncoding.DecodeString(s)
		if err != nil {
			return nil, err
		}
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("empty integer value")
	}
	return new(big.Int).SetBytes(b), nil
}

package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// Claims are the verified claims of a bearer token. ObjectID is the stable
// per-user identifier (the record owner for key-store writes).
type Claims struct {
	ObjectID string `json:"oid"`
	TenantID string `json:"tid"`
	AppID    string `json:"appid"`
	jwt.RegisteredClaims
}

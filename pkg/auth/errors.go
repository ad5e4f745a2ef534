package auth

// TokenInvalidError is returned for a malformed, badly signed, or
// claim-mismatched token. The message is deliberately generic so callers
// cannot learn which check failed.
type TokenInvalidError struct {
	Message string
	Err     error
}

func (e *TokenInvalidError) Error() string {
	return e.Message
}

func (e *TokenInvalidError) Unwrap() error {
	return e.Err
}

// TokenExpiredError signals that a cached token's claims have expired. It is
// an internal re-validation trigger and is not surfaced to API callers.
type TokenExpiredError struct {
	Message string
}

func (e *TokenExpiredError) Error() string {
	return e.Message
}

// TokenOpenIdError is returned when the discovery document or signing keys
// could not be retrieved.
type TokenOpenIdError struct {
	Message string
	Err     error
}

func (e *TokenOpenIdError) Error() string {
	return e.Message
}

func (e *TokenOpenIdError) Unwrap() error {
	return e.Err
}

// InvalidAppIdError is returned when the token's application id does not
// match the configured policy.
type InvalidAppIdError struct {
	AppID string
}

func (e *InvalidAppIdError) Error() string {
	return "invalid app id"
}

package lti

import "errors"

// Failure taxonomy for the launch and grade-passback pipeline. Every launch
// failure is terminal for that attempt; callers surface a generic rejection
// and must not echo these to the platform or browser.
var (
	ErrUnknownPlatform     = errors.New("lti: unknown platform issuer")
	ErrMissingKeySource    = errors.New("lti: platform has no key set URL configured")
	ErrSignatureInvalid    = errors.New("lti: id_token signature invalid")
	ErrAudienceMismatch    = errors.New("lti: audience does not include registered client_id")
	ErrTokenExpired        = errors.New("lti: id_token expired")
	ErrDeploymentMismatch  = errors.New("lti: deployment_id mismatch")
	ErrNonceMismatch       = errors.New("lti: nonce missing or mismatched")
	ErrTokenExchangeFailed = errors.New("lti: access token exchange failed")
)

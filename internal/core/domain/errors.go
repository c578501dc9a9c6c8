package domain

import "errors"

var (
	// ErrUnauthenticated covers missing, malformed, unsigned or expired
	// credentials and failed logins. Callers must not learn which check failed.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden means the credential is valid but the account is not
	// active or the role requirement is not met.
	ErrForbidden = errors.New("forbidden")
	// ErrUpstreamFault is a frame source failure (camera gone, decode error).
	ErrUpstreamFault = errors.New("upstream fault")

	ErrAccountNotFound = errors.New("account not found")
	ErrCameraNotFound  = errors.New("camera not found")
	ErrInvalidCameraID = errors.New("invalid camera id")
	ErrPipelineClosed  = errors.New("pipeline closed")
)

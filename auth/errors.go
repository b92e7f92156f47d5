package auth

import (
	"errors"
	"fmt"
)

// ErrAuthFailed is the root of every credential rejection. The gateway maps it
// to close code 4400 and clients must not retry with the same credential.
var ErrAuthFailed = errors.New("authentication failed")

var (
	// ErrMissingToken means neither the token query parameter nor a bearer header was present
	ErrMissingToken = fmt.Errorf("%w: missing bearer token", ErrAuthFailed)
	// ErrTokenExpired means the exp claim is in the past
	ErrTokenExpired = fmt.Errorf("%w: token expired", ErrAuthFailed)
	// ErrTokenRevoked means the token hash is on the revocation list
	ErrTokenRevoked = fmt.Errorf("%w: token revoked", ErrAuthFailed)
	// ErrInvalidToken covers malformed tokens, bad signatures and claim mismatches
	ErrInvalidToken = fmt.Errorf("%w: invalid token", ErrAuthFailed)
)

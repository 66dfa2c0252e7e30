// Package auth inspects the broker-issued bearer credential used to
// authenticate the feed and order APIs. The engine never mints tokens —
// it only needs to know how much longer the credential already issued by
// the broker remains valid, so claims are parsed unverified: the signing
// key belongs to the broker, not to us.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credential is the broker bearer token and what we can tell about it.
type Credential struct {
	Raw string
}

// Status reflects the health of a bearer credential at a point in time.
type Status struct {
	Authenticated         bool
	TokenRemainingSeconds int64
	ErrorMessage          string
}

// Inspect parses cred unverified and reports the remaining validity
// window. Tokens without a usable exp claim (opaque broker credentials)
// are reported as authenticated with an unknown remaining time.
func Inspect(cred Credential, now time.Time) Status {
	if cred.Raw == "" {
		return Status{Authenticated: false, ErrorMessage: "no credential configured"}
	}

	claims := jwt.MapClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(cred.Raw, claims)
	if err != nil {
		// Not a JWT at all — treat as an opaque credential we can't introspect.
		return Status{Authenticated: true, TokenRemainingSeconds: -1}
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return Status{Authenticated: true, TokenRemainingSeconds: -1}
	}

	remaining := exp.Time.Sub(now)
	if remaining <= 0 {
		return Status{Authenticated: false, ErrorMessage: "credential expired"}
	}
	return Status{Authenticated: true, TokenRemainingSeconds: int64(remaining.Seconds())}
}

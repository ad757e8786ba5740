package identity

import "time"

// CredentialState is the lifecycle position of the identity credential.
type CredentialState int

const (
	StateUnloaded CredentialState = iota
	StateLoaded
	StateValid
	StateExpiredRefreshable
	StateExpiredUnrefreshable
)

func (s CredentialState) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoaded:
		return "loaded"
	case StateValid:
		return "valid"
	case StateExpiredRefreshable:
		return "expired_refreshable"
	case StateExpiredUnrefreshable:
		return "expired_unrefreshable"
	default:
		return "unknown"
	}
}

// expirySkew treats tokens this close to expiry as already expired.
const expirySkew = 10 * time.Second

// Expired reports whether the access token has passed its expiry. A
// credential without an expiry never expires.
func (c *Credential) Expired(now time.Time) bool {
	if c.Expiry.IsZero() {
		return false
	}
	return !now.Before(c.Expiry.Add(-expirySkew))
}

// Classify places a loaded credential in the lifecycle. A credential with
// neither access token nor expiry is not refreshable even when it carries a
// refresh token.
func Classify(c *Credential, now time.Time) CredentialState {
	if c == nil {
		return StateUnloaded
	}
	expired := c.Expired(now)
	switch {
	case c.Token != "" && !expired:
		return StateValid
	case expired && c.RefreshToken != "":
		return StateExpiredRefreshable
	default:
		return StateExpiredUnrefreshable
	}
}

package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"google.golang.org/api/googleapi"
)

// ErrCredentialNotReady is returned by lookups made before EnsureCredential
// succeeded.
var ErrCredentialNotReady = errors.New("identity credential is not valid")

// CredentialLoadError reports a missing, unreadable or incomplete
// credential file.
type CredentialLoadError struct {
	Path   string
	Reason string
	Err    error
}

func (e *CredentialLoadError) Error() string {
	msg := fmt.Sprintf("load credential %s: %s", e.Path, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CredentialLoadError) Unwrap() error {
	return e.Err
}

// CredentialInvalidError reports a credential that is neither valid nor
// refreshable. It has to be re-issued out of band.
type CredentialInvalidError struct {
	Path  string
	State CredentialState
}

func (e *CredentialInvalidError) Error() string {
	return fmt.Sprintf("credential %s is %s and cannot be refreshed; re-issue it", e.Path, e.State)
}

// RefreshError reports a failed token refresh, or a refreshed token that
// could not be persisted.
type RefreshError struct {
	Path    string
	Persist bool // The refresh succeeded but writing the file failed
	Err     error
}

func (e *RefreshError) Error() string {
	if e.Persist {
		return fmt.Sprintf("persist refreshed credential %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("refresh credential %s: %v", e.Path, e.Err)
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err prevents any lookup from running.
func IsFatal(err error) bool {
	var loadErr *CredentialLoadError
	var invalidErr *CredentialInvalidError
	var refreshErr *RefreshError
	return errors.As(err, &loadErr) || errors.As(err, &invalidErr) || errors.As(err, &refreshErr)
}

// LookupKind classifies a failed alias lookup.
type LookupKind string

const (
	LookupNotFound    LookupKind = "not_found"
	LookupRateLimited LookupKind = "rate_limited"
	LookupTransport   LookupKind = "transport"
	LookupMalformed   LookupKind = "malformed"
	LookupProvider    LookupKind = "provider"
)

// LookupError is the failure half of an alias lookup.
type LookupError struct {
	UserKey string
	Kind    LookupKind
	Detail  string
	Cause   error
}

func (e *LookupError) Error() string {
	msg := fmt.Sprintf("alias lookup for %s failed (%s)", e.UserKey, e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *LookupError) Unwrap() error {
	return e.Cause
}

// LookupErrorKind returns the kind of a *LookupError in err's chain.
func LookupErrorKind(err error) (LookupKind, bool) {
	var lookupErr *LookupError
	if errors.As(err, &lookupErr) {
		return lookupErr.Kind, true
	}
	return "", false
}

var rateLimitReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
	"quotaExceeded":         true,
}

// classifyLookupError maps a Directory API call failure to a LookupError.
func classifyLookupError(userKey string, err error) *LookupError {
	lookupErr := &LookupError{UserKey: userKey, Cause: err, Detail: err.Error()}

	var apiErr *googleapi.Error
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	var netErr net.Error

	switch {
	case errors.As(err, &apiErr):
		lookupErr.Kind = LookupProvider
		lookupErr.Detail = fmt.Sprintf("HTTP %d", apiErr.Code)
		if apiErr.Message != "" {
			lookupErr.Detail += ": " + apiErr.Message
		}
		switch {
		case apiErr.Code == http.StatusNotFound:
			lookupErr.Kind = LookupNotFound
		case apiErr.Code == http.StatusTooManyRequests:
			lookupErr.Kind = LookupRateLimited
		case apiErr.Code == http.StatusForbidden:
			for _, item := range apiErr.Errors {
				if rateLimitReasons[item.Reason] {
					lookupErr.Kind = LookupRateLimited
				}
			}
		}
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr), errors.Is(err, io.ErrUnexpectedEOF):
		lookupErr.Kind = LookupMalformed
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled), errors.As(err, &netErr):
		lookupErr.Kind = LookupTransport
	default:
		lookupErr.Kind = LookupProvider
	}

	return lookupErr
}

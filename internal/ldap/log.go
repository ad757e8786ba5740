package ldap

import (
	"errors"
	"maps"

	"github.com/go-ldap/ldap/v3"

	"github.com/isometry/adaliases/internal/logging"
)

// LogLDAPError logs LDAP-specific error information.
func LogLDAPError(logger logging.Logger, operation string, err error, fields map[string]any) {
	f := make(map[string]any, len(fields)+5)
	maps.Copy(f, fields)
	f["operation"] = operation
	f["error"] = err.Error()
	f["error_category"] = string(GetErrorCategory(err))
	f["retryable"] = IsRetryableError(err)

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		f["ldap_result_code"] = resultErr.ResultCode
		if resultErr.MatchedDN != "" {
			f["ldap_matched_dn"] = resultErr.MatchedDN
		}
		if resultErr.Err != nil {
			f["ldap_diagnostic_message"] = resultErr.Err.Error()
		}
	}

	logger.Error("LDAP operation failed", f)
}

// DescribeFailure returns a short operator-facing summary of a directory
// failure.
func DescribeFailure(err error) string {
	switch {
	case IsAuthenticationError(err):
		return "Directory bind rejected"
	case IsPermissionError(err):
		return "Directory search not permitted"
	case IsNotFoundError(err):
		return "Directory search base not found"
	case IsConnectionError(err):
		return "Directory server unreachable"
	default:
		return "Directory search failed"
	}
}

package logging

import (
	"maps"
	"strings"
	"time"
)

// LogOperation is a helper function to log an operation with timing.
func LogOperation(logger Logger, operation string, fields map[string]any, fn func() error) error {
	start := time.Now()

	f := make(map[string]any, len(fields)+3)
	maps.Copy(f, fields)
	f["operation"] = operation

	logger.Debug("Starting operation", f)

	err := fn()

	f["duration_ms"] = time.Since(start).Milliseconds()
	if err != nil {
		f["error"] = err.Error()
		logger.Error("Operation failed", f)
	} else {
		logger.Debug("Operation completed successfully", f)
	}

	return err
}

// LogPerformance logs how long an operation took, raising the level for
// slow operations.
func LogPerformance(logger Logger, operation string, duration time.Duration, fields map[string]any) {
	f := make(map[string]any, len(fields)+2)
	maps.Copy(f, fields)
	f["operation"] = operation
	f["duration_ms"] = duration.Milliseconds()

	switch {
	case duration > 5*time.Second:
		logger.Warn("Slow operation detected", f)
	case duration > time.Second:
		logger.Info("Operation performance", f)
	default:
		logger.Debug("Operation performance", f)
	}
}

// SanitizeFields removes sensitive information from log fields.
func SanitizeFields(fields map[string]any) map[string]any {
	sanitized := make(map[string]any, len(fields))

	for k, v := range fields {
		if isSensitiveKey(k) {
			sanitized[k] = "[REDACTED]"
			continue
		}
		if str, ok := v.(string); ok && containsSensitivePattern(str) {
			sanitized[k] = "[REDACTED]"
			continue
		}
		sanitized[k] = v
	}

	return sanitized
}

var sensitiveKeys = map[string]bool{
	"password":    true,
	"passwd":      true,
	"secret":      true,
	"token":       true,
	"key":         true,
	"private_key": true,
	"credential":  true,
	"credentials": true,
}

// isSensitiveKey matches the exact names above and any "_password",
// "_secret" or "_token" suffixed variant.
func isSensitiveKey(k string) bool {
	lower := strings.ToLower(k)
	if sensitiveKeys[lower] {
		return true
	}
	for _, suffix := range []string{"_password", "_secret", "_token"} {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

// containsSensitivePattern checks if a string contains patterns that might be sensitive.
func containsSensitivePattern(s string) bool {
	patterns := []string{
		"password=",
		"passwd=",
		"secret=",
		"token=",
		"key=",
	}

	lower := strings.ToLower(s)
	for _, pattern := range patterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}

	return false
}

package engine

import "fmt"

// ConfigError reports a delivery that could not be attempted at all:
// missing or malformed endpoint URL or secret. It is surfaced synchronously
// to the caller and never consumes attempts or ledger rows.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid delivery configuration: %s %s", e.Field, e.Reason)
}

// retryableStatus classifies an HTTP response code. Client errors other
// than 429 mean the receiver understood the request and rejected it;
// retrying would just repeat the rejection. Everything else (5xx, 429,
// and oddities like 3xx) is worth another attempt.
func retryableStatus(code int) bool {
	if code >= 400 && code < 500 && code != 429 {
		return false
	}
	return true
}

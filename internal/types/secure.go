package types

import (
	"log/slog"
	"strings"
)

const redactedPlaceholder = "***REDACTED***"

var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString holds a credential such as the webhook signing secret or the
// Stripe API key. fmt and encoding/json both see a redacted placeholder, so a
// config dump or a structured log attribute never carries the raw value.
type SecretString string

// String returns a redacted placeholder instead of the raw value.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// LogValue keeps slog from printing the raw value when a SecretString is
// passed as an attribute.
func (s SecretString) LogValue() slog.Value {
	return slog.StringValue(redactedPlaceholder)
}

// MarshalJSON returns the redacted placeholder as a JSON string.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// IsZero reports whether no secret has been configured.
func (s SecretString) IsZero() bool {
	return strings.TrimSpace(string(s)) == ""
}

// Unmask returns the raw plaintext value. Call sites should be limited to
// the places that hand the value to Stripe (HMAC key, Authorization header).
func (s SecretString) Unmask() string {
	return string(s)
}

package types

import (
	"encoding/json"
	"log/slog"
)

const redacted = "***REDACTED***"

// SecretString holds a credential such as the store DSN. It prints, marshals
// and logs as a fixed placeholder; only Unmask returns the real value.
type SecretString string

func (s SecretString) String() string   { return redacted }
func (s SecretString) GoString() string { return `types.SecretString("` + redacted + `")` }

func (s SecretString) MarshalJSON() ([]byte, error) { return json.Marshal(redacted) }

func (s SecretString) LogValue() slog.Value { return slog.StringValue(redacted) }

// IsSet reports whether a value was configured.
func (s SecretString) IsSet() bool { return s != "" }

// Unmask returns the plaintext, e.g. to hand the DSN to pgxpool.
func (s SecretString) Unmask() string { return string(s) }

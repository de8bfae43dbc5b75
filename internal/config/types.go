package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration is a time.Duration that decodes from strings like "15s". A bare
// integer is read as seconds, so ISLANDD_TELEMETRY_EXPORT_INTERVAL=30 works.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if secs, err := strconv.Atoi(raw); err == nil {
		raw = strconv.Itoa(secs) + "s"
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %s", text)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Secret holds a credential. It prints and serializes as [REDACTED];
// call Value to read it.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// GoString keeps %#v from leaking the value.
func (s Secret) GoString() string {
	return "Secret([REDACTED])"
}

// Value returns the raw secret.
func (s Secret) Value() string {
	return string(s)
}

// Masked returns a loggable form. Credentials in a user:password@ prefix,
// as in MySQL DSNs and URLs, are starred and the rest is kept; a path such
// as an SQLite file is returned as is; anything else is fully redacted.
func (s Secret) Masked() string {
	v := string(s)
	if v == "" {
		return ""
	}
	if at := strings.LastIndex(v, "@"); at > 0 {
		creds := v[:at]
		prefix := ""
		if i := strings.Index(creds, "://"); i >= 0 {
			prefix, creds = creds[:i+3], creds[i+3:]
		}
		if user, _, ok := strings.Cut(creds, ":"); ok {
			return prefix + user + ":***" + v[at:]
		}
		return v
	}
	if strings.HasPrefix(v, "/") || strings.HasPrefix(v, "~") || strings.HasSuffix(v, ".db") {
		return v
	}
	return s.String()
}

// IsSet reports whether the secret is non-empty.
func (s Secret) IsSet() bool {
	return s != ""
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s Secret) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the raw value, so koanf can decode YAML and env input.
func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}

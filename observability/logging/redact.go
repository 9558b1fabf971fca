package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces free-text payloads in log lines.
const RedactedValue = "[REDACTED]"

// Keys the ledger emits with identifiers or enums only.
var redactionAllowlist = map[string]struct{}{
	"service":   {},
	"env":       {},
	"component": {},
	"module":    {},
	"op":        {},
	"caller":    {},
	"escrow":    {},
	"job":       {},
	"bid":       {},
	"role":      {},
	"outcome":   {},
	"reason":    {},
	"kind":      {},
	"error":     {},
}

// IsAllowlisted reports whether key may be logged verbatim.
func IsAllowlisted(key string) bool {
	_, ok := redactionAllowlist[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// MaskField returns an attribute for value, replaced by RedactedValue unless
// key is allowlisted or value is blank.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

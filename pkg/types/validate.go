package types

import (
	"encoding/hex"
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// MaxClockSkew is how far into the future an event timestamp may sit
// before the gateway rejects the alert.
const MaxClockSkew = 5 * time.Minute

// ValidHash reports whether s looks like an MD5, SHA-1 or SHA-256 hex
// digest.
func ValidHash(s string) bool {
	switch len(s) {
	case 32, 40, 64:
	default:
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// ValidIP reports whether s parses as an IPv4 or IPv6 address.
func ValidIP(s string) bool {
	_, err := netip.ParseAddr(s)
	return err == nil
}

// ValidateCandidate runs the gateway's schema checks against a raw
// submission and returns every violation found. Optional fields are
// only checked when present; alert_id is the sole required field.
func ValidateCandidate(a Alert, now time.Time) []string {
	var problems []string
	if strings.TrimSpace(a.AlertID) == "" {
		problems = append(problems, "alert_id is required")
	}
	if a.Severity != "" && !a.Severity.Valid() {
		problems = append(problems, fmt.Sprintf("severity %q is not a known level", a.Severity))
	}
	if a.AlertType != "" && !a.AlertType.Valid() {
		problems = append(problems, fmt.Sprintf("alert_type %q is not a known type", a.AlertType))
	}
	if a.SourceIP != "" && !ValidIP(a.SourceIP) {
		problems = append(problems, fmt.Sprintf("source_ip %q is not a valid address", a.SourceIP))
	}
	if a.DestinationIP != "" && !ValidIP(a.DestinationIP) {
		problems = append(problems, fmt.Sprintf("destination_ip %q is not a valid address", a.DestinationIP))
	}
	if a.FileHash != "" && !ValidHash(a.FileHash) {
		problems = append(problems, "file_hash must be a 32, 40 or 64 character hex digest")
	}
	if !a.Timestamp.IsZero() && a.Timestamp.After(now.Add(MaxClockSkew)) {
		problems = append(problems, "timestamp is in the future")
	}
	return problems
}

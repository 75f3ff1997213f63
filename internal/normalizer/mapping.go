// Package normalizer turns vendor-shaped alerts into the canonical
// form: field mapping per vendor profile, severity and timestamp
// normalization, IOC extraction and fingerprint dedup.
package normalizer

import (
	"strconv"
	"strings"
	"time"

	"github.com/argus-sec/argus/pkg/types"
)

// fieldCandidates maps a canonical field to the vendor keys that may
// carry it, in priority order. First non-empty wins.
type fieldCandidates map[string][]string

// profiles holds the vendor mapping tables. The default profile covers
// sensors that already speak something close to the canonical names.
var profiles = map[string]fieldCandidates{
	"splunk": {
		"alert_type":     {"alert_type", "threat_category", "category"},
		"severity":       {"severity", "urgency"},
		"title":          {"search_name", "signature", "title"},
		"description":    {"description", "_raw", "message"},
		"source_ip":      {"src_ip", "src"},
		"destination_ip": {"dest_ip", "dest"},
		"file_hash":      {"file_hash", "sha256", "sha1", "md5"},
		"url":            {"url", "uri_path"},
		"domain":         {"domain", "query", "dest_host"},
		"asset_id":       {"asset_id", "dvc", "host"},
		"user_name":      {"user", "src_user"},
		"timestamp":      {"_time", "timestamp"},
	},
	"qradar": {
		"alert_type":     {"alert_type", "offense_type", "category"},
		"severity":       {"severity", "magnitude"},
		"title":          {"offense_description", "rule_name", "title"},
		"description":    {"description", "event_description"},
		"source_ip":      {"sourceip", "source_ip"},
		"destination_ip": {"destinationip", "destination_ip"},
		"file_hash":      {"file_hash", "filehash"},
		"url":            {"url"},
		"domain":         {"domain", "domainname"},
		"asset_id":       {"asset_id", "identityhostname", "hostname"},
		"user_name":      {"username", "user_name"},
		"timestamp":      {"starttime", "devicetime", "timestamp"},
	},
	"default": {
		"alert_type":     {"alert_type", "type", "category"},
		"severity":       {"severity", "priority", "level"},
		"title":          {"title", "name", "rule"},
		"description":    {"description", "message", "details"},
		"source_ip":      {"source_ip", "src_ip", "src"},
		"destination_ip": {"destination_ip", "dst_ip", "dst"},
		"file_hash":      {"file_hash", "hash", "sha256", "md5"},
		"url":            {"url", "link"},
		"domain":         {"domain", "hostname"},
		"asset_id":       {"asset_id", "host", "device"},
		"user_name":      {"user_name", "user", "account"},
		"timestamp":      {"timestamp", "event_time", "time"},
	},
}

// canonicalFields is the mapping order; stable so runs are
// reproducible regardless of map iteration.
var canonicalFields = []string{
	"alert_type", "severity", "title", "description",
	"source_ip", "destination_ip", "file_hash", "url", "domain",
	"asset_id", "user_name", "timestamp",
}

// DetectProfile picks the vendor table from the metadata bag. Sensors
// tag themselves with a vendor or product key; anything unrecognized
// gets the default table.
func DetectProfile(a types.Alert) string {
	for _, key := range []string{"vendor", "product", "source"} {
		v, ok := a.Metadata[key].(string)
		if !ok {
			continue
		}
		v = strings.ToLower(v)
		switch {
		case strings.Contains(v, "splunk"):
			return "splunk"
		case strings.Contains(v, "qradar"):
			return "qradar"
		}
	}
	return "default"
}

// ApplyMapping fills empty canonical fields from the metadata bag
// using the profile's candidate lists. Fields the sensor already set
// canonically are left alone, so re-normalizing a canonical alert is a
// fixed point.
func ApplyMapping(a types.Alert, profile string, now time.Time) types.Alert {
	table, ok := profiles[profile]
	if !ok {
		table = profiles["default"]
	}

	for _, field := range canonicalFields {
		if field == "severity" || field == "timestamp" {
			continue // handled below with their own normalization
		}
		if currentField(a, field) != "" {
			continue
		}
		if v := firstCandidate(a.Metadata, table[field]); v != "" {
			setField(&a, field, v)
		}
	}

	rawSeverity := string(a.Severity)
	if rawSeverity == "" {
		rawSeverity = firstCandidate(a.Metadata, table["severity"])
	}
	a.Severity = NormalizeSeverity(rawSeverity)

	if a.Timestamp.IsZero() {
		raw := firstCandidate(a.Metadata, table["timestamp"])
		a.Timestamp = NormalizeTimestamp(raw, now)
	}

	if a.AlertType == "" || !a.AlertType.Valid() {
		a.AlertType = types.AlertTypeOther
	}
	a.Title = strings.TrimSpace(a.Title)
	a.Description = strings.TrimSpace(a.Description)
	return a
}

func currentField(a types.Alert, field string) string {
	switch field {
	case "alert_type":
		return string(a.AlertType)
	case "title":
		return a.Title
	case "description":
		return a.Description
	case "source_ip":
		return a.SourceIP
	case "destination_ip":
		return a.DestinationIP
	case "file_hash":
		return a.FileHash
	case "url":
		return a.URL
	case "domain":
		return a.Domain
	case "asset_id":
		return a.AssetID
	case "user_name":
		return a.UserName
	}
	return ""
}

func setField(a *types.Alert, field, v string) {
	switch field {
	case "alert_type":
		a.AlertType = types.AlertType(strings.ToLower(strings.TrimSpace(v)))
	case "title":
		a.Title = v
	case "description":
		a.Description = v
	case "source_ip":
		a.SourceIP = strings.TrimSpace(v)
	case "destination_ip":
		a.DestinationIP = strings.TrimSpace(v)
	case "file_hash":
		a.FileHash = strings.ToLower(strings.TrimSpace(v))
	case "url":
		a.URL = strings.TrimSpace(v)
	case "domain":
		a.Domain = strings.ToLower(strings.TrimSpace(v))
	case "asset_id":
		a.AssetID = strings.TrimSpace(v)
	case "user_name":
		a.UserName = strings.TrimSpace(v)
	}
}

// firstCandidate walks the candidate keys and returns the first
// non-empty value, rendered as a string. Numbers appear in vendor bags
// (QRadar magnitude, epoch times) so numeric values are accepted.
func firstCandidate(meta map[string]any, candidates []string) string {
	for _, key := range candidates {
		raw, ok := meta[key]
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case int:
			return strconv.Itoa(v)
		case bool:
			return strconv.FormatBool(v)
		}
	}
	return ""
}

// NormalizeSeverity maps vendor severity strings onto the enum.
// Numeric magnitudes (QRadar 0-10) map by band; anything unrecognized
// lands on medium so no alert sneaks in unscored.
func NormalizeSeverity(raw string) types.Severity {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch s {
	case "critical", "crit", "fatal":
		return types.SeverityCritical
	case "high", "severe", "urgent", "error":
		return types.SeverityHigh
	case "medium", "med", "moderate", "warning", "warn":
		return types.SeverityMedium
	case "low", "minor":
		return types.SeverityLow
	case "info", "informational", "debug", "notice":
		return types.SeverityInfo
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		switch {
		case n >= 9:
			return types.SeverityCritical
		case n >= 7:
			return types.SeverityHigh
		case n >= 4:
			return types.SeverityMedium
		case n >= 1:
			return types.SeverityLow
		default:
			return types.SeverityInfo
		}
	}
	return types.SeverityMedium
}

// NormalizeTimestamp parses raw as ISO-8601 (naive treated as UTC) or
// epoch seconds. An empty or unparseable value becomes now so the
// alert still sorts sensibly.
func NormalizeTimestamp(raw string, now time.Time) types.EventTime {
	if raw == "" {
		return types.NewEventTime(now)
	}
	if ts, err := types.ParseTimestamp(raw); err == nil {
		return types.NewEventTime(ts)
	}
	return types.NewEventTime(now)
}

// Package types holds the canonical alert model shared by every
// pipeline stage: the gateway persists it, the normalizer fills it in,
// and the downstream consumers carry it inside message payloads.
package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ── enums ──────────────────────────────────────────────────────

// Severity classifies operator-facing urgency. Values are ordered:
// critical > high > medium > low > info.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// Rank reports the severity ordering; unknown values rank below info.
func (s Severity) Rank() int {
	r, ok := severityRank[s]
	if !ok {
		return -1
	}
	return r
}

// AlertType is the detection category assigned by the source tool.
type AlertType string

const (
	AlertTypeMalware          AlertType = "malware"
	AlertTypePhishing         AlertType = "phishing"
	AlertTypeBruteForce       AlertType = "brute_force"
	AlertTypeDataExfiltration AlertType = "data_exfiltration"
	AlertTypeIntrusion        AlertType = "intrusion"
	AlertTypeDDoS             AlertType = "ddos"
	AlertTypeAnomaly          AlertType = "anomaly"
	AlertTypeOther            AlertType = "other"
)

var validAlertTypes = map[AlertType]struct{}{
	AlertTypeMalware:          {},
	AlertTypePhishing:         {},
	AlertTypeBruteForce:       {},
	AlertTypeDataExfiltration: {},
	AlertTypeIntrusion:        {},
	AlertTypeDDoS:             {},
	AlertTypeAnomaly:          {},
	AlertTypeOther:            {},
}

func (t AlertType) Valid() bool {
	_, ok := validAlertTypes[t]
	return ok
}

// Status tracks an alert's position in the pipeline. Forward moves are
// strictly one step at a time; closed and error are terminal.
type Status string

const (
	StatusNew        Status = "new"
	StatusNormalized Status = "normalized"
	StatusEnriched   Status = "enriched"
	StatusAnalyzed   Status = "analyzed"
	StatusClosed     Status = "closed"
	StatusError      Status = "error"
)

var statusRank = map[Status]int{
	StatusNew:        1,
	StatusNormalized: 2,
	StatusEnriched:   3,
	StatusAnalyzed:   4,
}

var pipelineStatuses = []Status{StatusNew, StatusNormalized, StatusEnriched, StatusAnalyzed}

func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusNormalized, StatusEnriched, StatusAnalyzed, StatusClosed, StatusError:
		return true
	}
	return false
}

// Terminal reports whether no further pipeline transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusError
}

// CanTransition reports whether an alert may move from s to next.
// Closed and error accept no successor; either can be entered from any
// live state (closed by an operator, error by the dead-letter path).
func (s Status) CanTransition(next Status) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusClosed || next == StatusError {
		return true
	}
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to == from+1
}

// Predecessors lists the states from which next may be entered. Store
// updates use this as a guard so a stale or redelivered message can
// never move an alert backwards.
func (s Status) Predecessors() []Status {
	switch s {
	case StatusNormalized:
		return []Status{StatusNew}
	case StatusEnriched:
		return []Status{StatusNormalized}
	case StatusAnalyzed:
		return []Status{StatusEnriched}
	case StatusClosed, StatusError:
		return pipelineStatuses
	}
	return nil
}

// StatusStrings converts a status list for use as a SQL array parameter.
func StatusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// ── timestamps ─────────────────────────────────────────────────

// EventTime accepts the timestamp shapes sources actually send:
// RFC 3339 with or without a zone, space-separated datetimes, bare
// dates, and epoch seconds. Values without a zone are taken as UTC.
type EventTime struct {
	time.Time
}

var eventTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses s against the accepted layouts, normalizing to
// UTC. Layouts without a zone are interpreted as UTC, not local time.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range eventTimeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func NewEventTime(t time.Time) EventTime {
	return EventTime{Time: t.UTC()}
}

func (t EventTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func (t *EventTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// ── alert ──────────────────────────────────────────────────────

// Alert is the canonical record the whole pipeline reads and writes.
// Vendor fields with no canonical column ride along in Metadata and
// are consulted by the normalizer's mapping profiles.
type Alert struct {
	AlertID       string         `json:"alert_id"`
	ReceivedAt    EventTime      `json:"received_at,omitzero"`
	Timestamp     EventTime      `json:"timestamp,omitzero"`
	AlertType     AlertType      `json:"alert_type,omitempty"`
	Severity      Severity       `json:"severity,omitempty"`
	Title         string         `json:"title,omitempty"`
	Description   string         `json:"description,omitempty"`
	SourceIP      string         `json:"source_ip,omitempty"`
	DestinationIP string         `json:"destination_ip,omitempty"`
	FileHash      string         `json:"file_hash,omitempty"`
	URL           string         `json:"url,omitempty"`
	Domain        string         `json:"domain,omitempty"`
	AssetID       string         `json:"asset_id,omitempty"`
	UserName      string         `json:"user_name,omitempty"`
	Status        Status         `json:"status,omitempty"`
	Metadata      map[string]any `json:"alert_metadata,omitempty"`
}

// MetadataString returns the metadata value under key when it is a
// non-empty string. Mapping profiles use this to read vendor fields.
func (a Alert) MetadataString(key string) (string, bool) {
	if a.Metadata == nil {
		return "", false
	}
	v, ok := a.Metadata[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

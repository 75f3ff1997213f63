package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint_Deterministic(t *testing.T) {
	a := Alert{
		AlertType:     AlertTypeMalware,
		SourceIP:      "203.0.113.7",
		DestinationIP: "10.0.0.5",
		FileHash:      "5d41402abc4b2a76b9719d911017c592",
		AssetID:       "srv-web-01",
	}
	assert.Equal(t, Fingerprint(a), Fingerprint(a))
	assert.Len(t, Fingerprint(a), 64)
}

func TestFingerprint_IgnoresNonIdentityFields(t *testing.T) {
	base := Alert{AlertType: AlertTypeMalware, SourceIP: "203.0.113.7"}
	other := base
	other.AlertID = "different-id"
	other.Title = "different title"
	other.Severity = SeverityCritical
	other.Metadata = map[string]any{"vendor": "splunk"}

	assert.Equal(t, Fingerprint(base), Fingerprint(other),
		"only the identity tuple feeds the fingerprint")
}

func TestFingerprint_CaseInsensitive(t *testing.T) {
	a := Alert{AlertType: AlertTypeMalware, FileHash: "ABCDEF0123456789ABCDEF0123456789"}
	b := Alert{AlertType: AlertTypeMalware, FileHash: "abcdef0123456789abcdef0123456789"}
	assert.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprint_EmptyFieldsElided(t *testing.T) {
	withEmpty := Alert{AlertType: AlertTypeMalware, SourceIP: "", AssetID: "srv-01"}
	without := Alert{AlertType: AlertTypeMalware, AssetID: "srv-01"}
	assert.Equal(t, Fingerprint(without), Fingerprint(withEmpty))
}

func TestFingerprint_FieldChangesDigest(t *testing.T) {
	a := Alert{AlertType: AlertTypeMalware, SourceIP: "203.0.113.7"}
	b := Alert{AlertType: AlertTypeMalware, SourceIP: "203.0.113.8"}
	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))

	c := Alert{AlertType: AlertTypePhishing, SourceIP: "203.0.113.7"}
	assert.NotEqual(t, Fingerprint(a), Fingerprint(c))
}

func TestFingerprint_ValueCannotMasqueradeAsField(t *testing.T) {
	// A crafted value containing the separator must not collide with a
	// genuinely different tuple.
	a := Alert{SourceIP: "203.0.113.7", AssetID: "x"}
	b := Alert{SourceIP: "203.0.113.7|asset=x"}
	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
}

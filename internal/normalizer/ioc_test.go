package normalizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-sec/argus/pkg/types"
)

func TestExtractIOCs_StructuredFields(t *testing.T) {
	a := types.Alert{
		AlertID:       "ALT-200",
		SourceIP:      "203.0.113.9",
		DestinationIP: "10.0.0.20",
		FileHash:      "44D88612FEA8A8F36DE82E1278ABB02F",
		URL:           "https://evil.example.com/dropper",
		Domain:        "Evil.Example.COM",
	}

	set := ExtractIOCs(a)
	assert.ElementsMatch(t, []string{"203.0.113.9", "10.0.0.20"}, set.IPs)
	assert.Equal(t, []string{"44d88612fea8a8f36de82e1278abb02f"}, set.Hashes)
	assert.Equal(t, []string{"https://evil.example.com/dropper"}, set.URLs)
	assert.Equal(t, []string{"evil.example.com"}, set.Domains)
}

func TestExtractIOCs_TextScan(t *testing.T) {
	a := types.Alert{
		AlertID: "ALT-201",
		Title:   "Beacon to 198.51.100.77 detected",
		Description: "Payload d41d8cd98f00b204e9800998ecf8427e fetched from " +
			"http://malware-cdn.test/payload.bin, operator contact boss@crime.example.",
	}

	set := ExtractIOCs(a)
	assert.Contains(t, set.IPs, "198.51.100.77")
	assert.Contains(t, set.Hashes, "d41d8cd98f00b204e9800998ecf8427e")
	assert.Contains(t, set.URLs, "http://malware-cdn.test/payload.bin")
	assert.Contains(t, set.Emails, "boss@crime.example")
}

func TestExtractIOCs_MetadataScan(t *testing.T) {
	a := types.Alert{
		AlertID: "ALT-202",
		Metadata: map[string]any{
			"raw_event": "connection from 192.0.2.200 port 443",
			"count":     float64(3),
		},
	}

	set := ExtractIOCs(a)
	assert.Contains(t, set.IPs, "192.0.2.200")
}

func TestExtractIOCs_IPv4OctetBounds(t *testing.T) {
	a := types.Alert{
		AlertID:     "ALT-203",
		Description: "bogus peers 256.1.2.3 and 999.9.9.9, real peer 255.255.255.254",
	}

	set := ExtractIOCs(a)
	assert.Equal(t, []string{"255.255.255.254"}, set.IPs)
}

func TestExtractIOCs_HashLengths(t *testing.T) {
	sha256 := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	a := types.Alert{
		AlertID:     "ALT-204",
		Description: "digests: " + sha256 + " and deadbeef and 0123456789abcdef0123456789abcdef0", // 33 hex chars
	}

	set := ExtractIOCs(a)
	// Only the full SHA-256 qualifies; the 8- and 33-char strings do not.
	require.Len(t, set.Hashes, 1)
	assert.Equal(t, sha256, set.Hashes[0])
}

func TestExtractIOCs_URLHostsNotDoubleReported(t *testing.T) {
	a := types.Alert{
		AlertID:     "ALT-205",
		Description: "seen at https://phish.example.net/login and also plain-host badhost.example.net",
	}

	set := ExtractIOCs(a)
	assert.Equal(t, []string{"https://phish.example.net/login"}, set.URLs)
	assert.Equal(t, []string{"badhost.example.net"}, set.Domains)
}

func TestExtractIOCs_Deduplicates(t *testing.T) {
	a := types.Alert{
		AlertID:     "ALT-206",
		SourceIP:    "203.0.113.9",
		Description: "repeated sightings of 203.0.113.9 and 203.0.113.9",
	}

	set := ExtractIOCs(a)
	assert.Equal(t, []string{"203.0.113.9"}, set.IPs)
}

func TestExtractIOCs_InvalidStructuredFieldsSkipped(t *testing.T) {
	a := types.Alert{
		AlertID:  "ALT-207",
		SourceIP: "",
		FileHash: "not-a-hash",
	}

	set := ExtractIOCs(a)
	assert.Zero(t, set.Count())
}

func TestExtractIOCs_TrailingPunctuationTrimmedFromURL(t *testing.T) {
	a := types.Alert{
		AlertID:     "ALT-208",
		Description: "see https://evil.example.org/path.",
	}

	set := ExtractIOCs(a)
	assert.Equal(t, []string{"https://evil.example.org/path"}, set.URLs)
}

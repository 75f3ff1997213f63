package normalizer

import (
	"regexp"
	"sort"
	"strings"

	"github.com/argus-sec/argus/pkg/types"
)

// Extraction regexes. IPv4 octets are bounded in the pattern and the
// hash alternation is longest-first so a SHA-256 never yields its MD5
// prefix. Domains are scanned after URLs and emails are cut from the
// haystack, otherwise every URL host would surface twice.
var (
	ipv4Pattern  = regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4][0-9]|1?[0-9]?[0-9])\.){3}(?:25[0-5]|2[0-4][0-9]|1?[0-9]?[0-9])\b`)
	hashPattern  = regexp.MustCompile(`\b(?:[0-9a-fA-F]{64}|[0-9a-fA-F]{40}|[0-9a-fA-F]{32})\b`)
	urlPattern   = regexp.MustCompile(`\bhttps?://[^\s<>"']+`)
	emailPattern = regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`)
	// Requires an alphabetic TLD so bare IPs and version strings never match.
	domainPattern = regexp.MustCompile(`\b(?:[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}\b`)
)

// ExtractIOCs collects indicators from the alert's structured fields
// and from a regex scan over its text. Everything is lowercased,
// trimmed and deduplicated; IPs and hashes are re-validated so a
// regex near-miss never becomes an intel lookup.
func ExtractIOCs(a types.Alert) types.IOCSet {
	var set types.IOCSet

	addIP(&set, a.SourceIP)
	addIP(&set, a.DestinationIP)
	addHash(&set, a.FileHash)
	addURL(&set, a.URL)
	addDomain(&set, a.Domain)

	haystack := scanText(a)
	for _, m := range urlPattern.FindAllString(haystack, -1) {
		addURL(&set, m)
	}
	for _, m := range emailPattern.FindAllString(haystack, -1) {
		set.Add(types.IOCTypeEmail, strings.ToLower(m))
	}

	// Cut URLs and emails before the domain and IP passes so their
	// hosts and local parts are not re-reported.
	reduced := urlPattern.ReplaceAllString(haystack, " ")
	reduced = emailPattern.ReplaceAllString(reduced, " ")

	for _, m := range ipv4Pattern.FindAllString(reduced, -1) {
		addIP(&set, m)
	}
	for _, m := range hashPattern.FindAllString(reduced, -1) {
		addHash(&set, m)
	}
	for _, m := range domainPattern.FindAllString(reduced, -1) {
		addDomain(&set, m)
	}
	return set
}

// scanText concatenates the free-text surfaces: title, description and
// any string values in the vendor bag, in key order so extraction
// order is stable across runs.
func scanText(a types.Alert) string {
	var b strings.Builder
	b.WriteString(a.Title)
	b.WriteByte('\n')
	b.WriteString(a.Description)

	keys := make([]string, 0, len(a.Metadata))
	for k := range a.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s, ok := a.Metadata[k].(string); ok {
			b.WriteByte('\n')
			b.WriteString(s)
		}
	}
	return b.String()
}

func addIP(set *types.IOCSet, v string) {
	v = strings.TrimSpace(v)
	if v == "" || !types.ValidIP(v) {
		return
	}
	set.Add(types.IOCTypeIP, strings.ToLower(v))
}

func addHash(set *types.IOCSet, v string) {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" || !types.ValidHash(v) {
		return
	}
	set.Add(types.IOCTypeHash, v)
}

func addURL(set *types.IOCSet, v string) {
	v = strings.TrimSpace(v)
	if v == "" {
		return
	}
	set.Add(types.IOCTypeURL, strings.ToLower(strings.TrimRight(v, ").,;")))
}

func addDomain(set *types.IOCSet, v string) {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return
	}
	set.Add(types.IOCTypeDomain, v)
}

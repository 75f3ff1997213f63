package types

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint derives the stable dedup key for an alert: a SHA-256 hex
// digest over the identity tuple (type, source, destination, hash,
// url, asset, user). Field order is fixed, values are lowercased, and
// empty fields are skipped entirely so their absence never shifts the
// remaining fields. Each field is NUL-terminated inside the digest so
// a value containing a field separator cannot collide with a
// different tuple.
func Fingerprint(a Alert) string {
	h := sha256.New()
	add := func(field, value string) {
		if value == "" {
			return
		}
		h.Write([]byte(field))
		h.Write([]byte{'='})
		h.Write([]byte(strings.ToLower(value)))
		h.Write([]byte{0})
	}
	add("type", string(a.AlertType))
	add("src", a.SourceIP)
	add("dst", a.DestinationIP)
	add("hash", a.FileHash)
	add("url", a.URL)
	add("asset", a.AssetID)
	add("user", a.UserName)

	return hex.EncodeToString(h.Sum(nil))
}

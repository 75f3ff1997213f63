package types

// IOCType is the indicator kind used for intel lookups and cache keys.
type IOCType string

const (
	IOCTypeIP     IOCType = "ip"
	IOCTypeHash   IOCType = "hash"
	IOCTypeURL    IOCType = "url"
	IOCTypeDomain IOCType = "domain"
	IOCTypeEmail  IOCType = "email"
)

// IOC is a single indicator of compromise.
type IOC struct {
	Type  IOCType `json:"type"`
	Value string  `json:"value"`
}

// IOCSet groups extracted indicators by kind. Values within a kind are
// unique and kept in first-seen order so fingerprints and prompts stay
// deterministic.
type IOCSet struct {
	IPs     []string `json:"ips,omitempty"`
	Hashes  []string `json:"hashes,omitempty"`
	URLs    []string `json:"urls,omitempty"`
	Domains []string `json:"domains,omitempty"`
	Emails  []string `json:"emails,omitempty"`
}

// Add inserts value under the given kind, dropping duplicates.
func (s *IOCSet) Add(t IOCType, value string) {
	if value == "" {
		return
	}
	switch t {
	case IOCTypeIP:
		s.IPs = appendUnique(s.IPs, value)
	case IOCTypeHash:
		s.Hashes = appendUnique(s.Hashes, value)
	case IOCTypeURL:
		s.URLs = appendUnique(s.URLs, value)
	case IOCTypeDomain:
		s.Domains = appendUnique(s.Domains, value)
	case IOCTypeEmail:
		s.Emails = appendUnique(s.Emails, value)
	}
}

// Merge adds every indicator from other into s.
func (s *IOCSet) Merge(other IOCSet) {
	for _, ioc := range other.All() {
		s.Add(ioc.Type, ioc.Value)
	}
}

// Count reports the total number of indicators across all kinds.
func (s IOCSet) Count() int {
	return len(s.IPs) + len(s.Hashes) + len(s.URLs) + len(s.Domains) + len(s.Emails)
}

// All flattens the set into typed indicators, ordered by kind then by
// first appearance.
func (s IOCSet) All() []IOC {
	out := make([]IOC, 0, s.Count())
	for _, v := range s.IPs {
		out = append(out, IOC{Type: IOCTypeIP, Value: v})
	}
	for _, v := range s.Hashes {
		out = append(out, IOC{Type: IOCTypeHash, Value: v})
	}
	for _, v := range s.URLs {
		out = append(out, IOC{Type: IOCTypeURL, Value: v})
	}
	for _, v := range s.Domains {
		out = append(out, IOC{Type: IOCTypeDomain, Value: v})
	}
	for _, v := range s.Emails {
		out = append(out, IOC{Type: IOCTypeEmail, Value: v})
	}
	return out
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

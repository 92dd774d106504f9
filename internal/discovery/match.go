package discovery

import "strings"

// MatchKind tags how a filter option matched the requested value, so callers
// can log and test matching behaviour deterministically.
type MatchKind int

const (
	MatchNone MatchKind = iota
	MatchPartial
	MatchExact
)

func (k MatchKind) String() string {
	switch k {
	case MatchExact:
		return "exact"
	case MatchPartial:
		return "partial"
	}
	return "none"
}

// BestMatch ranks options against the wanted value: an exact match anywhere
// in the list beats a partial one, and a partial match means either string
// contains the other. Returns the index of the winning option and the kind,
// or (-1, MatchNone).
func BestMatch(want string, options []string) (int, MatchKind) {
	want = strings.TrimSpace(want)
	if want == "" {
		return -1, MatchNone
	}

	for i, opt := range options {
		if strings.TrimSpace(opt) == want {
			return i, MatchExact
		}
	}

	for i, opt := range options {
		opt = strings.TrimSpace(opt)
		if opt == "" {
			continue
		}
		if strings.Contains(opt, want) || strings.Contains(want, opt) {
			return i, MatchPartial
		}
	}

	return -1, MatchNone
}

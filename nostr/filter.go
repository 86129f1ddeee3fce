package nostr

import (
	"encoding/json"
	"slices"
)

// Filter selects the notes a relay subscription delivers.
type Filter struct {
	IDs     []string
	Authors []string
	Kinds   []uint32

	// Tags maps a single letter tag name to the accepted values, e.g.
	// "p" to the pubkeys a note must be addressed to.
	Tags map[string][]string

	Since int64
	Until int64
	Limit int
}

// MarshalJSON encodes the filter in relay wire format, with tag filters as
// "#<name>" keys.
func (f Filter) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{})
	if len(f.IDs) > 0 {
		m["ids"] = f.IDs
	}
	if len(f.Authors) > 0 {
		m["authors"] = f.Authors
	}
	if len(f.Kinds) > 0 {
		m["kinds"] = f.Kinds
	}
	for name, values := range f.Tags {
		m["#"+name] = values
	}
	if f.Since > 0 {
		m["since"] = f.Since
	}
	if f.Until > 0 {
		m["until"] = f.Until
	}
	if f.Limit > 0 {
		m["limit"] = f.Limit
	}

	return json.Marshal(m)
}

// Matches reports whether the note passes the filter.
func (f Filter) Matches(n *Note) bool {
	if len(f.IDs) > 0 && !slices.Contains(f.IDs, n.ID) {
		return false
	}
	if len(f.Authors) > 0 && !slices.Contains(f.Authors, n.PubKey) {
		return false
	}
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, n.Kind) {
		return false
	}
	if f.Since > 0 && n.CreatedAt < f.Since {
		return false
	}
	if f.Until > 0 && n.CreatedAt > f.Until {
		return false
	}

	for name, accepted := range f.Tags {
		matched := false
		for _, v := range n.Tags.Values(name) {
			if slices.Contains(accepted, v) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	return true
}

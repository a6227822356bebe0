// ABOUTME: Track metadata as an ordered sequence of key/value pairs
// ABOUTME: Lookup is case-insensitive, insertion order is preserved
package metadata

import "strings"

// Pair is a single metadata entry.
type Pair struct {
	Key   string
	Value string
}

// Metadata is an ordered list of pairs. Keys compare
// case-insensitively, but the stored spelling and order are preserved
// so encoders can echo tags exactly as the decoder read them.
type Metadata []Pair

// Get returns the first value stored under key.
func (m Metadata) Get(key string) (string, bool) {
	for _, p := range m {
		if strings.EqualFold(p.Key, key) {
			return p.Value, true
		}
	}
	return "", false
}

// Set replaces the first pair stored under key, or appends a new pair
// if the key is absent.
func (m *Metadata) Set(key, value string) {
	for i, p := range *m {
		if strings.EqualFold(p.Key, key) {
			(*m)[i].Value = value
			return
		}
	}
	*m = append(*m, Pair{Key: key, Value: value})
}

// Clone returns a copy that does not share backing storage.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	copy(out, m)
	return out
}

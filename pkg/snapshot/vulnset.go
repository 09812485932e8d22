package snapshot

import (
	"encoding/json"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// VulnSet is an unordered, de-duplicated set of vulnerability identifiers.
// It serializes as a sorted array.
type VulnSet map[string]struct{}

// NewVulnSet builds a set from ids, dropping blanks and duplicates.
func NewVulnSet(ids ...string) VulnSet {
	set := make(VulnSet, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
	return set
}

// Has reports whether id is in the set.
func (s VulnSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Len returns the number of identifiers.
func (s VulnSet) Len() int {
	return len(s)
}

// Sorted returns the identifiers in ascending order. The result is never nil.
func (s VulnSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Minus returns the sorted identifiers present in s but not in other.
func (s VulnSet) Minus(other VulnSet) []string {
	out := make([]string, 0)
	for id := range s {
		if !other.Has(id) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Equal reports whether both sets hold the same identifiers.
func (s VulnSet) Equal(other VulnSet) bool {
	if len(s) != len(other) {
		return false
	}
	for id := range s {
		if !other.Has(id) {
			return false
		}
	}
	return true
}

func (s VulnSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *VulnSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewVulnSet(ids...)
	return nil
}

func (s VulnSet) MarshalYAML() (interface{}, error) {
	return s.Sorted(), nil
}

func (s *VulnSet) UnmarshalYAML(node *yaml.Node) error {
	var ids []string
	if err := node.Decode(&ids); err != nil {
		return err
	}
	*s = NewVulnSet(ids...)
	return nil
}

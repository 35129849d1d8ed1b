package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mitchellh/hashstructure/v2"
)

// EnvVar is a single KEY=VALUE pair attached to a package or a job.
type EnvVar struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// EnvSet is an unordered collection of EnvVars. It is stored as a JSON blob
// in a single column rather than normalized into a join table.
type EnvSet []EnvVar

// Sorted returns a copy of the set ordered by Name then Value, used
// whenever a deterministic iteration order is required (fingerprinting,
// script rendering, hashing).
func (s EnvSet) Sorted() EnvSet {
	out := make(EnvSet, len(s))
	copy(out, s)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Value < out[j].Value
	})
	return out
}

// Get returns the value for name and whether it was present.
func (s EnvSet) Get(name string) (string, bool) {
	for _, e := range s {
		if e.Name == name {
			return e.Value, true
		}
	}
	return "", false
}

// Merge returns a new EnvSet with the entries of other appended after s.
// It is a plain concatenation: names are not deduplicated, and since Get
// returns the first match, Get on the result prefers s's entry when both
// sets define the same name.
func (s EnvSet) Merge(other EnvSet) EnvSet {
	out := make(EnvSet, 0, len(s)+len(other))
	out = append(out, s...)
	out = append(out, other...)
	return out
}

// SubsetOf reports whether every entry of s is present with an identical
// value somewhere in superset. This is the historical-env-subset check
// spec.md §4.2 requires for artifact reuse: every env var recorded against
// a historical job must be found, name and value both, in the candidate
// overlay.
func (s EnvSet) SubsetOf(superset EnvSet) bool {
	for _, want := range s {
		found := false
		for _, have := range superset {
			if want.Name == have.Name && want.Value == have.Value {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// FastHash returns a pre-filter hash of the sorted env set, cheap enough to
// compare before issuing a full ledger query.
func (s EnvSet) FastHash() (uint64, error) {
	h, err := hashstructure.Hash(s.Sorted(), hashstructure.FormatV2, nil)
	if err != nil {
		return 0, fmt.Errorf("error hashing env set: %w", err)
	}
	return h, nil
}

// Value implements driver.Valuer, storing the set as a JSON array.
func (s EnvSet) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (s *EnvSet) Scan(src interface{}) error {
	if src == nil {
		*s = nil
		return nil
	}
	var b []byte
	switch v := src.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("error scanning EnvSet: unsupported type %T", src)
	}
	var out EnvSet
	if err := json.Unmarshal(b, &out); err != nil {
		return fmt.Errorf("error unmarshalling EnvSet: %w", err)
	}
	*s = out
	return nil
}

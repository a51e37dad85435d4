package models

import (
	"database/sql/driver"
	"encoding/json"
	"sort"
)

// JSON is a custom type for storing arbitrary JSON data
type JSON map[string]interface{}

func (j JSON) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSON) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	return json.Unmarshal(asBytes(value), j)
}

// GetString returns the value under key if it is a non-empty string
func (j JSON) GetString(key string) string {
	if j == nil {
		return ""
	}
	if s, ok := j[key].(string); ok {
		return s
	}
	return ""
}

// Clone returns a shallow copy of the map
func (j JSON) Clone() JSON {
	if j == nil {
		return nil
	}
	out := make(JSON, len(j))
	for k, v := range j {
		out[k] = v
	}
	return out
}

// StringSet is an unordered set of strings stored as a JSON array
type StringSet map[string]struct{}

// NewStringSet builds a set from the given members
func NewStringSet(members ...string) StringSet {
	s := make(StringSet, len(members))
	for _, m := range members {
		s[m] = struct{}{}
	}
	return s
}

func (s StringSet) Add(member string)      { s[member] = struct{}{} }
func (s StringSet) Remove(member string)   { delete(s, member) }
func (s StringSet) Has(member string) bool { _, ok := s[member]; return ok }
func (s StringSet) Len() int               { return len(s) }

// Members returns the set contents in sorted order
func (s StringSet) Members() []string {
	out := make([]string, 0, len(s))
	for m := range s {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Clone returns a copy of the set
func (s StringSet) Clone() StringSet {
	out := make(StringSet, len(s))
	for m := range s {
		out[m] = struct{}{}
	}
	return out
}

func (s StringSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Members())
}

func (s *StringSet) UnmarshalJSON(data []byte) error {
	var members []string
	if err := json.Unmarshal(data, &members); err != nil {
		return err
	}
	*s = NewStringSet(members...)
	return nil
}

func (s StringSet) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *StringSet) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	return json.Unmarshal(asBytes(value), s)
}

func asBytes(value interface{}) []byte {
	switch v := value.(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	default:
		return nil
	}
}

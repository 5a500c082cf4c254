package vault

import (
	"bytes"
	"fmt"
	"slices"
)

// InfoRecordName is the record name of the Info singleton in every zone.
const InfoRecordName = "VaultInfo"

// RecordID addresses a record in the remote store.
type RecordID struct {
	Zone ZoneID
	Kind RecordKind
	Name string
}

// Identity returns the natural key of the entity the record describes.
func (id RecordID) Identity() Identity {
	if id.Kind == KindInfo {
		return InfoIdentity
	}
	return Identity{Family: id.Kind.Family(), Key: id.Name}
}

func (id RecordID) String() string {
	return fmt.Sprintf("%s/%s/%s", id.Zone, id.Kind, id.Name)
}

// Metadata is the server-assigned concurrency token of a record together with
// the address it was issued for. It must be round-tripped unchanged on update.
type Metadata struct {
	Zone ZoneID     `json:"zone"`
	Kind RecordKind `json:"kind"`
	Tag  string     `json:"tag"`
}

// IsZero reports whether no remote copy is known.
func (m Metadata) IsZero() bool {
	return m.Tag == ""
}

// Matches reports whether the metadata was issued for the record id. Metadata
// from another zone or kind cannot be used to update id.
func (m Metadata) Matches(id RecordID) bool {
	return !m.IsZero() && m.Zone == id.Zone && m.Kind == id.Kind
}

// InZone reports whether the metadata was issued by zone.
func (m Metadata) InZone(zone ZoneID) bool {
	return !m.IsZero() && m.Zone == zone
}

// Record is a remote record: an address, an ordered field map and the
// concurrency metadata the store assigned to it.
type Record struct {
	ID       RecordID
	Fields   Fields
	Metadata Metadata
}

// Kind returns the record's schema tag.
func (r Record) Kind() RecordKind {
	return r.ID.Kind
}

// Fields is an ordered field map. Values are string, int64, bool, []byte or
// []string.
type Fields struct {
	keys   []string
	values map[string]any
}

// NewFields returns an empty field map.
func NewFields() Fields {
	return Fields{values: make(map[string]any)}
}

// Set stores value under key, keeping the original position on overwrite.
func (f *Fields) Set(key string, value any) {
	if f.values == nil {
		f.values = make(map[string]any)
	}
	switch v := value.(type) {
	case int:
		value = int64(v)
	case int32:
		value = int64(v)
	}
	if _, exists := f.values[key]; !exists {
		f.keys = append(f.keys, key)
	}
	f.values[key] = value
}

// Get returns the raw value stored under key.
func (f Fields) Get(key string) (any, bool) {
	v, ok := f.values[key]
	return v, ok
}

// Has reports whether key is present.
func (f Fields) Has(key string) bool {
	_, ok := f.values[key]
	return ok
}

// Keys returns the field names in insertion order.
func (f Fields) Keys() []string {
	return slices.Clone(f.keys)
}

// Len returns the number of fields.
func (f Fields) Len() int {
	return len(f.keys)
}

// String returns the string stored under key, or "".
func (f Fields) String(key string) string {
	s, _ := f.values[key].(string)
	return s
}

// Int returns the integer stored under key, or 0.
func (f Fields) Int(key string) int64 {
	switch v := f.values[key].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// Bool returns the boolean stored under key, or false.
func (f Fields) Bool(key string) bool {
	b, _ := f.values[key].(bool)
	return b
}

// Bytes returns the byte slice stored under key, or nil.
func (f Fields) Bytes(key string) []byte {
	b, _ := f.values[key].([]byte)
	return b
}

// Strings returns the string list stored under key, or nil.
func (f Fields) Strings(key string) []string {
	s, _ := f.values[key].([]string)
	return s
}

// Clone returns a copy that shares no slices with f.
func (f Fields) Clone() Fields {
	out := Fields{keys: slices.Clone(f.keys), values: make(map[string]any, len(f.values))}
	for k, v := range f.values {
		switch tv := v.(type) {
		case []byte:
			v = bytes.Clone(tv)
		case []string:
			v = slices.Clone(tv)
		}
		out.values[k] = v
	}
	return out
}

// Map returns a copy of the fields as a plain map, used for predicate
// evaluation.
func (f Fields) Map() map[string]any {
	out := make(map[string]any, len(f.values))
	for k, v := range f.values {
		out[k] = v
	}
	return out
}

// Equal reports whether both maps hold the same keys in the same order with
// equal values.
func (f Fields) Equal(other Fields) bool {
	if !slices.Equal(f.keys, other.keys) {
		return false
	}
	for _, k := range f.keys {
		if !valueEqual(f.values[k], other.values[k]) {
			return false
		}
	}
	return true
}

func valueEqual(a, b any) bool {
	switch av := a.(type) {
	case []byte:
		bv, ok := b.([]byte)
		return ok && bytes.Equal(av, bv)
	case []string:
		bv, ok := b.([]string)
		return ok && slices.Equal(av, bv)
	default:
		return a == b
	}
}

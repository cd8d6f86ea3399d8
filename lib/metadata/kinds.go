package metadata

import (
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Kind names a metadata aggregate.
type Kind string

const (
	KindTable    Kind = "table"
	KindSecurity Kind = "security"
	KindRegion   Kind = "region"
	KindTopology Kind = "topology"
)

// Kinds lists all known metadata kinds.
var Kinds = []Kind{KindTable, KindSecurity, KindRegion, KindTopology}

// Metadata is a versioned, persisted aggregate. The sequence number grows by one on
// every committed change.
type Metadata interface {
	Kind() Kind
	Sequence() uint64
	setSequence(seq uint64)
}

// New returns the empty aggregate of a kind.
func New(kind Kind) (Metadata, error) {
	switch kind {
	case KindTable:
		return NewTableCatalog(), nil
	case KindSecurity:
		return NewSecurityCatalog(), nil
	case KindRegion:
		return NewRegionCatalog(), nil
	case KindTopology:
		return NewTopology(), nil
	default:
		return nil, Invalid("unknown metadata kind %q", kind)
	}
}

// Decode parses a persisted aggregate.
func Decode(kind Kind, data []byte) (Metadata, error) {
	md, err := New(kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, md); err != nil {
		return nil, errors.Wrapf(&Error{Code: CodeCorrupt, Msg: err.Error()}, "decode %s metadata", kind)
	}
	return md, nil
}

// Encode serializes an aggregate for persistence or broadcast.
func Encode(md Metadata) ([]byte, error) {
	return json.Marshal(md)
}

// NewID returns a new immutable entity id.
func NewID() string {
	return uuid.NewString()
}

// nameKey is the case-insensitive map key of a name.
func nameKey(parts ...string) string {
	for i := range parts {
		parts[i] = strings.ToLower(parts[i])
	}
	return strings.Join(parts, ".")
}

// EqualFoldSlices compares two name lists case-insensitively and in order.
func EqualFoldSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !strings.EqualFold(a[i], b[i]) {
			return false
		}
	}
	return true
}

// EqualFoldMaps compares two name->value maps with case-insensitive keys and values.
func EqualFoldMaps(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	lower := make(map[string]string, len(b))
	for k, v := range b {
		lower[strings.ToLower(k)] = v
	}
	for k, v := range a {
		other, ok := lower[strings.ToLower(k)]
		if !ok || !strings.EqualFold(v, other) {
			return false
		}
	}
	return true
}

package internal

// QueryType defines the possible queries for the state machine.
type QueryType uint8

const (
	QueryTGet  QueryType = iota // Retrieve an entry by key.
	QueryTKeys                  // List all keys with a prefix.
)

func (q QueryType) String() string {
	switch q {
	case QueryTGet:
		return "Get"
	case QueryTKeys:
		return "Keys"
	default:
		return "Unknown"
	}
}

// Query defines the structure for lookup requests (read-only) sent via SyncRead or ReadStale
type Query struct {
	Type QueryType // The type of Query to perform.
	Key  string    // The key (QueryTGet) or prefix (QueryTKeys).
}

// QueryResult is the result of a QueryTGet operation.
// QueryTKeys returns a []string.
type QueryResult struct {
	Ok    bool
	Value []byte
}

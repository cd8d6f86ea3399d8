// Package serializer converts node agent messages to and from bytes. The
// admin service and every agent must be configured with the same format.
//
// Key Components:
//
//   - IRPCSerializer: Core interface that all serializer implementations must satisfy.
//
//   - NewJSONSerializer: JSON encoding, human-readable on the wire and the default.
//
//   - NewGOBSerializer: Go's gob encoding, more compact for large metadata payloads
//     but only understood by Go peers.
//
//     Both reject messages whose type is not part of the protocol, in either direction.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
//
// Usage:
//
//	s, err := serializer.ByName("json")
//	data, err := s.Serialize(message)
//	// ... send data ...
//	var received common.Message
//	err = s.Deserialize(receivedData, &received)
package serializer

// Package base provides the framed, connection oriented transport shared by the
// socket based transports. Protocol specifics are injected through the
// IClientConnector and IServerConnector interfaces.
//
// Frame format: 1 byte protocol version, 8 bytes request id, 4 bytes payload
// length, payload. Responses carry the id of their request, so one connection
// can have many requests in flight.
//
// Client side:
//
//   - A pool of ConnectionsPerEndpoint connections to one agent, used round robin.
//   - Connections are dialed on first use and redialed after they fail, so an
//     agent that is down is reported by Send rather than by Connect.
//   - A failed connection fails every request still waiting on it.
//   - Failed sends are retried RetryCount times with exponential backoff and jitter.
//
// Server side:
//
//   - One goroutine per connection reads frames, at most WorkersPerConn requests
//     of a connection are handled concurrently.
//   - Read buffers are pooled with sync.Pool to reduce GC pressure.
//   - Close stops accepting and closes all open connections.
package base

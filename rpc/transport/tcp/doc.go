// Package tcp implements the TCP socket transport between the admin service and
// the storage node agents. It provides the TCP specific connectors for the
// framed transport in package base, which does the connection pooling, request
// correlation and buffer reuse.
//
// Socket options (no delay, buffer sizes, keep-alive, linger) come from
// common.TCPConf and are applied on both sides of a connection.
package tcp

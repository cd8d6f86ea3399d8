// Package http implements an HTTP transport between the admin service and the
// storage node agents. Requests are POSTed to /rpc on the agent endpoint, the
// body is the serialized message. Agents also answer GET /healthz.
//
// The client keeps idle connections to the agent open and retries failed
// requests RetryCount times. Every attempt gets a fresh request body.
//
// The server logs every request with its duration when running at debug level.
package http

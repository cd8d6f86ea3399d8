// Package cluster defines how the admin service reaches storage node agents: the
// INodeAPI surface, the dialer, the NetworkError that separates transport failures
// from node side errors, and the best-effort metadata Broadcaster.
package cluster

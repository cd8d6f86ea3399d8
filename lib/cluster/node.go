package cluster

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
)

// ServiceState is the state of a service instance on a storage node.
type ServiceState string

const (
	ServiceRunning ServiceState = "RUNNING"
	ServiceStopped ServiceState = "STOPPED"
	ServiceUnknown ServiceState = "UNKNOWN"
)

// IndexStatus is the population progress of an index on one storage node.
type IndexStatus string

const (
	IndexStatusPopulating IndexStatus = "POPULATING"
	IndexStatusReady      IndexStatus = "READY"
	IndexStatusUnknown    IndexStatus = "UNKNOWN" // the node has no such index
)

// CredentialTLS is the name under which agents report the installed TLS credential hash.
const CredentialTLS = "tls"

// NodeStatus is the answer to a ping.
type NodeStatus struct {
	StorageNode string                  `json:"storageNode"`
	Services    map[string]ServiceState `json:"services"`
}

// INodeAPI is the remote administrative surface of one storage node agent.
// Transport failures are reported as *NetworkError, everything else is an
// application error of the node.
type INodeAPI interface {
	Ping(ctx context.Context) (NodeStatus, error)
	StartService(ctx context.Context, serviceID string) error
	StopService(ctx context.Context, serviceID string) error
	DestroyService(ctx context.Context, serviceID string) error
	PushParams(ctx context.Context, serviceID string, params map[string]string) error
	CredentialHashes(ctx context.Context) (map[string]string, error)
	PushMetadata(ctx context.Context, kind string, seq uint64, payload []byte) error
	MetadataSeq(ctx context.Context, kind string) (uint64, error)
	IndexStatus(ctx context.Context, namespace, table, index string) (IndexStatus, error)
}

// IDialer returns the node API of a storage node.
type IDialer interface {
	Dial(storageNodeID, endpoint string) (INodeAPI, error)
}

// ErrUnreachable is matched (errors.Is) by every *NetworkError.
var ErrUnreachable = errors.New("node unreachable")

// NetworkError wraps a transport level failure talking to a storage node.
type NetworkError struct {
	Node string
	Err  error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("storage node %s unreachable: %v", e.Node, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrUnreachable) true.
func (e *NetworkError) Is(target error) bool { return target == ErrUnreachable }

// IsNetworkError reports whether err is a transport failure that may go away on retry.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

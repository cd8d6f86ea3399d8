// Package client implements the admin side of the node agent protocol.
//
// Key Components:
//
//   - NodeClient: implements cluster.INodeAPI for one storage node by sending
//     request messages over a transport. Transport failures come back as
//     *cluster.NetworkError, so the task retry patterns treat them as
//     transient. Errors reported by the agent come back as *RemoteError.
//
//   - Dialer: implements cluster.IDialer. It keeps one NodeClient per storage
//     node and replaces it when the topology moves the node to a new endpoint.
//
// Usage Example:
//
//	dialer := client.NewDialer(
//	  common.ClientConfig{TimeoutSecond: 5, RetryCount: 3},
//	  tcp.NewTCPClientTransport,
//	  serializer.NewJSONSerializer(),
//	)
//	api, _ := dialer.Dial("sn1", "10.0.0.1:7070")
//	status, err := api.Ping(ctx)
//
// Thread Safety:
//
//	NodeClient and Dialer are safe for concurrent use.
package client

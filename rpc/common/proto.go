package common

import (
	"encoding/json"
	"fmt"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses
// between the admin service and a storage node agent.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// Request fields
	Service   string            `json:"service,omitempty"`   // Used for: StartService, StopService, DestroyService, PushParams
	Kind      string            `json:"kind,omitempty"`      // Used for: PushMetadata, MetadataSeq
	Seq       uint64            `json:"seq,omitempty"`       // Used for: PushMetadata (request), MetadataSeq (response)
	Namespace string            `json:"namespace,omitempty"` // Used for: IndexStatus
	Table     string            `json:"table,omitempty"`     // Used for: IndexStatus
	Index     string            `json:"index,omitempty"`     // Used for: IndexStatus
	Value     []byte            `json:"value,omitempty"`     // Used for: PushMetadata (payload)
	Params    map[string]string `json:"params,omitempty"`    // Used for: PushParams (request), CredentialHashes (response)

	// Response only fields
	Node     string            `json:"node,omitempty"`     // Used for: Ping
	Services map[string]string `json:"services,omitempty"` // Used for: Ping (service id -> state)
	Status   string            `json:"status,omitempty"`   // Used for: IndexStatus
	Err      string            `json:"err,omitempty"`      // Empty if no error, otherwise contains the error message
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewPingRequest creates a new Ping request
func NewPingRequest() *Message {
	return &Message{MsgType: MsgTPing}
}

// NewPingResponse creates a new Ping response
func NewPingResponse(node string, services map[string]string, err error) *Message {
	return withErr(&Message{
		MsgType:  MsgTPing,
		Node:     node,
		Services: services,
	}, err)
}

// NewServiceRequest creates a StartService, StopService or DestroyService request
func NewServiceRequest(t MessageType, serviceID string) *Message {
	return &Message{
		MsgType: t,
		Service: serviceID,
	}
}

// NewPushParamsRequest creates a new PushParams request
func NewPushParamsRequest(serviceID string, params map[string]string) *Message {
	return &Message{
		MsgType: MsgTPushParams,
		Service: serviceID,
		Params:  params,
	}
}

// NewCredentialHashesRequest creates a new CredentialHashes request
func NewCredentialHashesRequest() *Message {
	return &Message{MsgType: MsgTCredentialHashes}
}

// NewCredentialHashesResponse creates a new CredentialHashes response
func NewCredentialHashesResponse(hashes map[string]string, err error) *Message {
	return withErr(&Message{
		MsgType: MsgTCredentialHashes,
		Params:  hashes,
	}, err)
}

// NewPushMetadataRequest creates a new PushMetadata request
func NewPushMetadataRequest(kind string, seq uint64, payload []byte) *Message {
	return &Message{
		MsgType: MsgTPushMetadata,
		Kind:    kind,
		Seq:     seq,
		Value:   payload,
	}
}

// NewMetadataSeqRequest creates a new MetadataSeq request
func NewMetadataSeqRequest(kind string) *Message {
	return &Message{
		MsgType: MsgTMetadataSeq,
		Kind:    kind,
	}
}

// NewMetadataSeqResponse creates a new MetadataSeq response
func NewMetadataSeqResponse(kind string, seq uint64, err error) *Message {
	return withErr(&Message{
		MsgType: MsgTMetadataSeq,
		Kind:    kind,
		Seq:     seq,
	}, err)
}

// NewIndexStatusRequest creates a new IndexStatus request
func NewIndexStatusRequest(namespace, table, index string) *Message {
	return &Message{
		MsgType:   MsgTIndexStatus,
		Namespace: namespace,
		Table:     table,
		Index:     index,
	}
}

// NewIndexStatusResponse creates a new IndexStatus response
func NewIndexStatusResponse(status string, err error) *Message {
	return withErr(&Message{
		MsgType: MsgTIndexStatus,
		Status:  status,
	}, err)
}

// NewAckResponse creates the response of a request that only reports success or failure
func NewAckResponse(t MessageType, err error) *Message {
	return withErr(&Message{MsgType: t}, err)
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Err:     err,
	}
}

func withErr(msg *Message, err error) *Message {
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

var messageTypeNames = map[MessageType]string{
	MsgTSuccess:          "success",
	MsgTError:            "error",
	MsgTPing:             "ping",
	MsgTStartService:     "startService",
	MsgTStopService:      "stopService",
	MsgTDestroyService:   "destroyService",
	MsgTPushParams:       "pushParams",
	MsgTCredentialHashes: "credentialHashes",
	MsgTPushMetadata:     "pushMetadata",
	MsgTMetadataSeq:      "metadataSeq",
	MsgTIndexStatus:      "indexStatus",
}

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseMessageType is the inverse of MessageType.String.
func ParseMessageType(s string) (MessageType, error) {
	for t, name := range messageTypeNames {
		if name == s {
			return t, nil
		}
	}
	return MsgTUnknown, fmt.Errorf("unknown message type: %s", s)
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseMessageType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// Node agent operations

	MsgTPing             // Report node identity and service states
	MsgTStartService     // Start (or create) a service
	MsgTStopService      // Stop a service
	MsgTDestroyService   // Remove a service and its parameters
	MsgTPushParams       // Replace the parameters of a service
	MsgTCredentialHashes // Report installed credential hashes
	MsgTPushMetadata     // Deliver a metadata version
	MsgTMetadataSeq      // Report the applied metadata sequence of a kind
	MsgTIndexStatus      // Report the population status of an index
)

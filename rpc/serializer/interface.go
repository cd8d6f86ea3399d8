package serializer

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/dkv-admin/rpc/common"
)

// IRPCSerializer is the interface for all Message Serializers
type IRPCSerializer interface {
	// Serialize serializes a Message into a byte array
	// It returns the serialized byte array and an error if any
	Serialize(msg common.Message) ([]byte, error)
	// Deserialize deserializes a byte array into a Message
	// It takes a byte array and a pointer to a Message as parameters
	// It returns an error if any
	Deserialize(b []byte, msg *common.Message) error
}

// ByName returns the serializer registered under name ("json" or "gob")
func ByName(name string) (IRPCSerializer, error) {
	switch name {
	case "json", "":
		return NewJSONSerializer(), nil
	case "gob":
		return NewGOBSerializer(), nil
	default:
		return nil, fmt.Errorf("invalid serializer %s (expected json or gob)", name)
	}
}

// NewJSONSerializer creates a new serializer using json encoding.
// Message types travel as their names and metadata payloads as base64.
func NewJSONSerializer() IRPCSerializer {
	return messageCodec{
		name:      "json",
		marshal:   json.Marshal,
		unmarshal: json.Unmarshal,
	}
}

// NewGOBSerializer creates a new serializer using Go's binary gob format
func NewGOBSerializer() IRPCSerializer {
	return messageCodec{
		name: "gob",
		marshal: func(v any) ([]byte, error) {
			var buf bytes.Buffer
			if err := gob.NewEncoder(&buf).Encode(v); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		},
		unmarshal: func(b []byte, v any) error {
			return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
		},
	}
}

// messageCodec wraps a wire format and rejects messages no agent understands.
type messageCodec struct {
	name      string
	marshal   func(v any) ([]byte, error)
	unmarshal func(b []byte, v any) error
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (c messageCodec) Serialize(msg common.Message) ([]byte, error) {
	if err := checkType(msg.MsgType); err != nil {
		return nil, fmt.Errorf("%s: %w", c.name, err)
	}
	data, err := c.marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("%s: encode %s message: %w", c.name, msg.MsgType, err)
	}
	return data, nil
}

func (c messageCodec) Deserialize(b []byte, msg *common.Message) error {
	if err := c.unmarshal(b, msg); err != nil {
		return fmt.Errorf("%s: decode message: %w", c.name, err)
	}
	if err := checkType(msg.MsgType); err != nil {
		return fmt.Errorf("%s: %w", c.name, err)
	}
	return nil
}

// checkType accepts the named message types only. Gob carries the raw number,
// so a peer with a newer protocol is caught here instead of in a handler.
func checkType(t common.MessageType) error {
	if t == common.MsgTUnknown {
		return fmt.Errorf("message without type")
	}
	if _, err := common.ParseMessageType(t.String()); err != nil {
		return fmt.Errorf("unsupported message type %d", t)
	}
	return nil
}

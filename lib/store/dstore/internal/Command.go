package internal

import (
	"encoding/binary"
	"fmt"
)

// CommandType defines the possible operations for the state machine.
type CommandType uint8

const (
	CommandTSet        CommandType = iota // Insert or update an entry.
	CommandTSetIfUnset                    // Insert an entry if it does not exist (or is expired).
	CommandTDelete                        // Delete an entry.
	CommandTBatch                         // Apply nested commands atomically.
	CommandTExpect                        // Batch guard: the live value must equal Value.
	CommandTExpectAbsent                  // Batch guard: the key must be missing or expired.
)

func (ct CommandType) String() string {
	switch ct {
	case CommandTSet:
		return "Set"
	case CommandTSetIfUnset:
		return "SetIfUnset"
	case CommandTDelete:
		return "Delete"
	case CommandTBatch:
		return "Batch"
	case CommandTExpect:
		return "Expect"
	case CommandTExpectAbsent:
		return "ExpectAbsent"
	default:
		return fmt.Sprintf("Unknown(%d)", ct)
	}
}

// headerSize is Type + Deadline + KeyLen
const headerSize = 1 + 8 + 4

// Command represents a command to be executed by the state machine (a single entry in the raft log)
type Command struct {
	Type CommandType
	Key  string
	// Deadline is an absolute expiry (unix nano) picked by the proposer, 0 means never.
	Deadline int64
	Value    []byte
}

// SizeBytes returns the exact number of bytes needed to serialize this command
func (command *Command) SizeBytes() int {
	return headerSize + len(command.Key) + len(command.Value)
}

// Serialize serializes a command into a byte array with the format:
// 1 byte for operation type,
// 8 bytes for the deadline,
// 4 bytes for key length (big endian),
// N bytes for key data,
// N bytes for value data (optional)
func (command *Command) Serialize() []byte {
	result := make([]byte, command.SizeBytes())

	result[0] = byte(command.Type)
	binary.BigEndian.PutUint64(result[1:9], uint64(command.Deadline))
	binary.BigEndian.PutUint32(result[9:13], uint32(len(command.Key)))

	copy(result[headerSize:], command.Key)
	copy(result[headerSize+len(command.Key):], command.Value)

	return result
}

// Deserialize extracts all Command fields from a byte array.
func (command *Command) Deserialize(data []byte) error {
	if len(data) < headerSize {
		return fmt.Errorf("data too short for command")
	}

	command.Type = CommandType(data[0])
	command.Deadline = int64(binary.BigEndian.Uint64(data[1:9]))
	keyLen := int(binary.BigEndian.Uint32(data[9:13]))

	if len(data) < headerSize+keyLen {
		return fmt.Errorf("data too short for key of length %d", keyLen)
	}
	command.Key = string(data[headerSize : headerSize+keyLen])

	if rest := data[headerSize+keyLen:]; len(rest) > 0 {
		command.Value = make([]byte, len(rest))
		copy(command.Value, rest)
	} else {
		command.Value = nil
	}
	return nil
}

// NewBatchCommand packs the given commands into a single CommandTBatch.
// The nested commands are stored in the value, each prefixed with its 4 byte length.
func NewBatchCommand(cmds []Command) Command {
	size := 0
	for i := range cmds {
		size += 4 + cmds[i].SizeBytes()
	}
	value := make([]byte, 0, size)
	for i := range cmds {
		encoded := cmds[i].Serialize()
		value = binary.BigEndian.AppendUint32(value, uint32(len(encoded)))
		value = append(value, encoded...)
	}
	return Command{Type: CommandTBatch, Value: value}
}

// Unbatch returns the nested commands of a CommandTBatch.
func (command *Command) Unbatch() ([]Command, error) {
	if command.Type != CommandTBatch {
		return nil, fmt.Errorf("command %s is not a batch", command.Type)
	}
	var cmds []Command
	data := command.Value
	for len(data) > 0 {
		if len(data) < 4 {
			return nil, fmt.Errorf("truncated batch entry length")
		}
		n := int(binary.BigEndian.Uint32(data[:4]))
		if len(data) < 4+n {
			return nil, fmt.Errorf("truncated batch entry of length %d", n)
		}
		var cmd Command
		if err := cmd.Deserialize(data[4 : 4+n]); err != nil {
			return nil, err
		}
		if cmd.Type == CommandTBatch {
			return nil, fmt.Errorf("nested batch commands are not allowed")
		}
		cmds = append(cmds, cmd)
		data = data[4+n:]
	}
	return cmds, nil
}

package internal

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestSizeBytes(t *testing.T) {
	tests := []struct {
		name     string
		command  Command
		expected int
	}{
		{
			name:     "Command with key and value",
			command:  Command{Type: CommandTSet, Key: "testkey", Value: []byte("testvalue")},
			expected: 1 + 8 + 4 + 7 + 9, // Type + Deadline + KeyLen + Key + Value
		},
		{
			name:     "Command without value",
			command:  Command{Type: CommandTDelete, Key: "testkey"},
			expected: 1 + 8 + 4 + 7,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if size := tt.command.SizeBytes(); size != tt.expected {
				t.Errorf("SizeBytes() = %v, want %v", size, tt.expected)
			}
		})
	}
}

func TestDeserializeErrors(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		expectedErr string
	}{
		{
			name:        "Empty data",
			data:        []byte{},
			expectedErr: "data too short for command",
		},
		{
			name:        "Data too short (less than header)",
			data:        []byte{1, 2, 3, 4, 5},
			expectedErr: "data too short for command",
		},
		{
			name: "Invalid key length",
			data: func() []byte {
				data := make([]byte, headerSize)
				data[0] = byte(CommandTSet)
				binary.BigEndian.PutUint32(data[9:13], 1000)
				return data
			}(),
			expectedErr: "data too short for key of length 1000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cmd Command
			err := cmd.Deserialize(tt.data)
			if err == nil {
				t.Fatalf("Expected error but got nil")
			}
			if err.Error() != tt.expectedErr {
				t.Errorf("Expected error %q, got %q", tt.expectedErr, err.Error())
			}
		})
	}
}

func TestBinaryFormat(t *testing.T) {
	cmd := Command{
		Type:     CommandTSetIfUnset,
		Key:      "testkey",
		Deadline: 12345,
		Value:    []byte("testvalue"),
	}

	expected := make([]byte, cmd.SizeBytes())
	expected[0] = byte(CommandTSetIfUnset)
	binary.BigEndian.PutUint64(expected[1:9], 12345)
	binary.BigEndian.PutUint32(expected[9:13], 7)
	copy(expected[13:20], "testkey")
	copy(expected[20:], "testvalue")

	if serialized := cmd.Serialize(); !bytes.Equal(serialized, expected) {
		t.Errorf("Binary format does not match:\nGot:      %v\nExpected: %v", serialized, expected)
	}

	var decoded Command
	if err := decoded.Deserialize(expected); err != nil {
		t.Fatalf("Deserialize() error = %v", err)
	}
	if decoded.Type != cmd.Type || decoded.Key != cmd.Key || decoded.Deadline != cmd.Deadline || !bytes.Equal(decoded.Value, cmd.Value) {
		t.Errorf("Deserialize() = %+v, want %+v", decoded, cmd)
	}
}

func TestBatch(t *testing.T) {
	cmds := []Command{
		{Type: CommandTSet, Key: "plan/1", Value: []byte(`{"id":1}`)},
		{Type: CommandTDelete, Key: "plan/0"},
		{Type: CommandTSet, Key: "md/table", Value: []byte{0, 1, 2}},
	}

	batch := NewBatchCommand(cmds)
	var decoded Command
	if err := decoded.Deserialize(batch.Serialize()); err != nil {
		t.Fatalf("Deserialize() error = %v", err)
	}

	got, err := decoded.Unbatch()
	if err != nil {
		t.Fatalf("Unbatch() error = %v", err)
	}
	if len(got) != len(cmds) {
		t.Fatalf("Unbatch() returned %d commands, want %d", len(got), len(cmds))
	}
	for i := range cmds {
		if got[i].Type != cmds[i].Type || got[i].Key != cmds[i].Key || !bytes.Equal(got[i].Value, cmds[i].Value) {
			t.Errorf("command %d = %+v, want %+v", i, got[i], cmds[i])
		}
	}
}

func TestBatchErrors(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
	}{
		{"Not a batch", Command{Type: CommandTSet, Key: "k"}},
		{"Truncated length", Command{Type: CommandTBatch, Value: []byte{0, 0}}},
		{"Truncated entry", Command{Type: CommandTBatch, Value: []byte{0, 0, 0, 50, 1}}},
		{"Nested batch", NewBatchCommand([]Command{NewBatchCommand(nil)})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.cmd.Unbatch(); err == nil {
				t.Errorf("Unbatch() expected error")
			}
		})
	}
}

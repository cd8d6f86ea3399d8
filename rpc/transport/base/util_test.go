package base

import (
	"bytes"
	"net"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	payloads := [][]byte{[]byte("hello"), {}, bytes.Repeat([]byte{7}, 100)}

	go func() {
		for i, p := range payloads {
			if err := writeFrame(client, uint64(i+1), p); err != nil {
				t.Errorf("write frame %d: %v", i, err)
				return
			}
		}
	}()

	// a buffer smaller than the largest payload forces a temporary allocation
	buf := make([]byte, 32)
	for i, want := range payloads {
		id, data, err := readFrame(server, buf)
		if err != nil {
			t.Fatalf("read frame %d: %v", i, err)
		}
		if id != uint64(i+1) {
			t.Errorf("frame %d: expected request id %d, got %d", i, i+1, id)
		}
		if !bytes.Equal(data, want) {
			t.Errorf("frame %d: payload mismatch", i)
		}
	}
}

func TestReadFrameRejectsUnknownVersion(t *testing.T) {
	header := make([]byte, headerSize)
	header[0] = protocolVersion + 1
	if _, _, err := readFrame(bytes.NewReader(header), nil); err == nil {
		t.Errorf("expected an error for an unknown protocol version")
	}
}

func TestReadFrameTruncated(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{protocolVersion, 0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 10})
	buf.Write([]byte("abc"))
	if _, _, err := readFrame(&buf, nil); err == nil {
		t.Errorf("expected an error for a truncated payload")
	}
}

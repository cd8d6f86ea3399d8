package base

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

const (
	// protocolVersion is the first byte of every frame
	protocolVersion byte = 1
	headerSize           = 13
	// maxFrameSize bounds the allocation a peer can request
	maxFrameSize = 64 << 20
)

// writeFrame writes a frame to the connection with the format:
// - 1 byte:  protocol version
// - 8 bytes: requestID (uint64, big endian)
// - 4 bytes: data length (uint32, big endian)
// - N bytes: data payload
func writeFrame(conn net.Conn, requestID uint64, data []byte) error {
	if len(data) > maxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit of %d bytes", len(data), maxFrameSize)
	}
	header := make([]byte, headerSize)
	header[0] = protocolVersion
	binary.BigEndian.PutUint64(header[1:9], requestID)
	binary.BigEndian.PutUint32(header[9:13], uint32(len(data)))

	b := net.Buffers{header, data}
	_, err := b.WriteTo(conn)
	return err
}

// readFrame reads a frame from the connection using the provided buffer
// If the buffer is too small, it will allocate a new temporary buffer for the data
func readFrame(r io.Reader, buf []byte) (uint64, []byte, error) {
	if len(buf) < headerSize {
		buf = make([]byte, headerSize)
	}

	if _, err := io.ReadFull(r, buf[:headerSize]); err != nil {
		return 0, nil, err
	}

	if buf[0] != protocolVersion {
		return 0, nil, fmt.Errorf("unsupported protocol version %d", buf[0])
	}
	requestID := binary.BigEndian.Uint64(buf[1:9])
	contentLength := binary.BigEndian.Uint32(buf[9:13])

	if contentLength == 0 {
		return requestID, []byte{}, nil
	}
	if contentLength > maxFrameSize {
		return requestID, nil, fmt.Errorf("frame of %d bytes exceeds limit of %d bytes", contentLength, maxFrameSize)
	}

	if len(buf) < int(contentLength) {
		buf = make([]byte, contentLength)
	}

	if _, err := io.ReadFull(r, buf[:contentLength]); err != nil {
		return requestID, nil, err
	}

	return requestID, buf[:contentLength], nil
}

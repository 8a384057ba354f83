package endpoint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/n0izn0iz/vst-bridge/pkg/wire"
)

// MaxFrameSize bounds the encoded size of one message. Plugin state chunks
// are the largest messages in practice.
const MaxFrameSize = 64 << 20

const headerSize = 4

var (
	// ErrFrameTooLarge is returned for frames over MaxFrameSize.
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrClosed is returned when using an endpoint after Close.
	ErrClosed = errors.New("endpoint closed")
)

// writeFrame encodes m after a little endian length prefix and writes both
// with one call. buf is reused and returned.
func writeFrame(w io.Writer, buf []byte, m wire.Message) ([]byte, error) {
	buf = append(buf[:0], 0, 0, 0, 0)
	buf = m.AppendWire(buf)
	n := len(buf) - headerSize
	if n > MaxFrameSize {
		return buf, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	binary.LittleEndian.PutUint32(buf, uint32(n))
	_, err := w.Write(buf)
	return buf, err
}

// readFrame reads one frame into buf and decodes it into m. buf is reused and
// returned.
func readFrame(r io.Reader, buf []byte, m wire.Message) ([]byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return buf, err
	}
	n := binary.LittleEndian.Uint32(header[:])
	if n > MaxFrameSize {
		return buf, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	if cap(buf) < int(n) {
		buf = make([]byte, n)
	}
	buf = buf[:n]
	if _, err := io.ReadFull(r, buf); err != nil {
		return buf, err
	}
	if err := m.UnmarshalWire(buf); err != nil {
		return buf, fmt.Errorf("malformed frame: %w", err)
	}
	return buf, nil
}

// isDisconnect reports errors meaning the partner went away or the endpoint
// was closed locally.
func isDisconnect(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

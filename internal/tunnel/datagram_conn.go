package tunnel

import (
	"fmt"
	"io"
	"net"
	"time"

	"tappump/internal/frame"
)

// DatagramConn wraps a tunnel stream and provides datagram semantics
// using the same 2-byte little-endian length framing the pump puts on
// the wire: each Write sends exactly one datagram, each Read returns
// exactly one.
//
// It bridges local unix datagram endpoints over a channel stream.
type DatagramConn struct {
	st net.Conn
}

func NewDatagramConn(st net.Conn) *DatagramConn {
	return &DatagramConn{st: st}
}

func (c *DatagramConn) Read(p []byte) (int, error) {
	var hdr [frame.HeaderSize]byte
	if _, err := io.ReadFull(c.st, hdr[:]); err != nil {
		return 0, err
	}
	n := frame.Length(hdr[:])
	if n > len(p) {
		// Drain the frame to keep the stream aligned.
		if _, err := io.CopyN(io.Discard, c.st, int64(n)); err != nil {
			return 0, err
		}
		return 0, io.ErrShortBuffer
	}
	if n == 0 {
		return 0, nil
	}
	if _, err := io.ReadFull(c.st, p[:n]); err != nil {
		return 0, err
	}
	return n, nil
}

func (c *DatagramConn) Write(p []byte) (int, error) {
	if len(p) > 65535 {
		return 0, fmt.Errorf("tunnel: datagram too large: %d", len(p))
	}
	var hdr [frame.HeaderSize]byte
	frame.PutLength(hdr[:], len(p))
	// One vectored write keeps header and payload a single unit on the
	// stream even with concurrent writers elsewhere on the session.
	bufs := net.Buffers{hdr[:], p}
	if _, err := bufs.WriteTo(c.st); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *DatagramConn) Close() error        { return c.st.Close() }
func (c *DatagramConn) LocalAddr() net.Addr { return c.st.LocalAddr() }
func (c *DatagramConn) RemoteAddr() net.Addr {
	return c.st.RemoteAddr()
}
func (c *DatagramConn) SetDeadline(t time.Time) error {
	return c.st.SetDeadline(t)
}
func (c *DatagramConn) SetReadDeadline(t time.Time) error {
	return c.st.SetReadDeadline(t)
}
func (c *DatagramConn) SetWriteDeadline(t time.Time) error {
	return c.st.SetWriteDeadline(t)
}

var _ net.Conn = (*DatagramConn)(nil)

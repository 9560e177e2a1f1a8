package tunnel

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"
)

func TestDatagramConn_PreservesBoundaries(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	left := NewDatagramConn(a)
	right := NewDatagramConn(b)

	payloads := [][]byte{
		[]byte("first"),
		[]byte("second datagram"),
		{0x00},
	}
	go func() {
		for _, p := range payloads {
			_, _ = left.Write(p)
		}
	}()

	buf := make([]byte, 1500)
	for i, want := range payloads {
		_ = right.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, err := right.Read(buf)
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if !bytes.Equal(buf[:n], want) {
			t.Fatalf("datagram %d=%q want %q", i, buf[:n], want)
		}
	}
}

func TestDatagramConn_WireFormat(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	go func() {
		dc := NewDatagramConn(a)
		_, _ = dc.Write([]byte{0xDE, 0xAD, 0xBE, 0xEF})
	}()

	_ = b.SetReadDeadline(time.Now().Add(2 * time.Second))
	raw := make([]byte, 6)
	if _, err := io.ReadFull(b, raw); err != nil {
		t.Fatalf("read: %v", err)
	}
	want := []byte{0x04, 0x00, 0xDE, 0xAD, 0xBE, 0xEF}
	if !bytes.Equal(raw, want) {
		t.Fatalf("wire % x want % x", raw, want)
	}
}

func TestDatagramConn_ShortBufferDrainsFrame(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	go func() {
		dc := NewDatagramConn(a)
		_, _ = dc.Write(bytes.Repeat([]byte{0xFF}, 100))
		_, _ = dc.Write([]byte("next"))
	}()

	dc := NewDatagramConn(b)
	_ = b.SetReadDeadline(time.Now().Add(2 * time.Second))
	small := make([]byte, 10)
	if _, err := dc.Read(small); err != io.ErrShortBuffer {
		t.Fatalf("err=%v want io.ErrShortBuffer", err)
	}

	// The stream stays aligned: the next datagram reads cleanly.
	n, err := dc.Read(small)
	if err != nil {
		t.Fatalf("read after drain: %v", err)
	}
	if string(small[:n]) != "next" {
		t.Fatalf("got %q want next", small[:n])
	}
}

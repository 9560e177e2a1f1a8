package tunnel

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"tappump/internal/frame"
)

const (
	magicHello   = "TPHL" // tappump hello
	magicChannel = "TPCH" // tappump channel stream
	protocolV1   = byte(1)
)

var (
	ErrBadMagic   = errors.New("tunnel: bad magic")
	ErrBadVersion = errors.New("tunnel: unsupported version")
)

// HelloRequest is the first message on a fresh session, sent by the
// dialing side: the shared token plus the channels it intends to open.
type HelloRequest struct {
	Token    string             `json:"token"`
	Channels []AnnouncedChannel `json:"channels"`
}

type AnnouncedChannel struct {
	Name  string `json:"name"`
	Proto string `json:"proto"`
}

func writeHello(w io.Writer, req HelloRequest) error {
	if _, err := io.WriteString(w, magicHello); err != nil {
		return err
	}
	if _, err := w.Write([]byte{protocolV1}); err != nil {
		return err
	}

	b, err := json.Marshal(req)
	if err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// readHello reads with exact-size io.ReadFull calls, never buffering
// ahead: the stream position after the hello is the first payload byte.
func readHello(r io.Reader) (HelloRequest, error) {
	if err := expectHeader(r, magicHello); err != nil {
		return HelloRequest{}, err
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return HelloRequest{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > 1<<20 { // 1 MiB cap
		return HelloRequest{}, fmt.Errorf("tunnel: hello payload too large: %d", n)
	}
	buf := make([]byte, int(n))
	if _, err := io.ReadFull(r, buf); err != nil {
		return HelloRequest{}, err
	}
	var req HelloRequest
	if err := json.Unmarshal(buf, &req); err != nil {
		return HelloRequest{}, err
	}
	for i := range req.Channels {
		req.Channels[i].Name = strings.TrimSpace(req.Channels[i].Name)
	}
	return req, nil
}

// writeChannelHeader opens a channel stream: magic, version, then the
// channel name with the same 2-byte little-endian length prefix the data
// plane uses.
func writeChannelHeader(w io.Writer, name string) error {
	if name == "" {
		return fmt.Errorf("tunnel: empty channel name")
	}
	if len(name) > 255 {
		return fmt.Errorf("tunnel: channel name too long: %d", len(name))
	}
	if _, err := io.WriteString(w, magicChannel); err != nil {
		return err
	}
	if _, err := w.Write([]byte{protocolV1}); err != nil {
		return err
	}
	var hdr [frame.HeaderSize]byte
	frame.PutLength(hdr[:], len(name))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := io.WriteString(w, name)
	return err
}

func readChannelHeader(r io.Reader) (string, error) {
	if err := expectHeader(r, magicChannel); err != nil {
		return "", err
	}
	var hdr [frame.HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return "", err
	}
	n := frame.Length(hdr[:])
	if n == 0 || n > 255 {
		return "", fmt.Errorf("tunnel: bad channel name length %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	name := strings.TrimSpace(string(buf))
	if name == "" {
		return "", fmt.Errorf("tunnel: empty channel name")
	}
	return name, nil
}

func expectHeader(r io.Reader, magic string) error {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return err
	}
	if string(hdr[:]) != magic {
		return ErrBadMagic
	}
	var ver [1]byte
	if _, err := io.ReadFull(r, ver[:]); err != nil {
		return err
	}
	if ver[0] != protocolV1 {
		return ErrBadVersion
	}
	return nil
}

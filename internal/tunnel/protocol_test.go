package tunnel

import (
	"bytes"
	"errors"
	"testing"
)

func TestHello_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	req := HelloRequest{
		Token: "secret",
		Channels: []AnnouncedChannel{
			{Name: "ctl", Proto: "stream"},
			{Name: " events ", Proto: "datagram"},
		},
	}
	if err := writeHello(&buf, req); err != nil {
		t.Fatalf("writeHello: %v", err)
	}

	got, err := readHello(&buf)
	if err != nil {
		t.Fatalf("readHello: %v", err)
	}
	if got.Token != "secret" || len(got.Channels) != 2 {
		t.Fatalf("hello=%+v", got)
	}
	if got.Channels[1].Name != "events" {
		t.Fatalf("name=%q want trimmed", got.Channels[1].Name)
	}
}

func TestHello_BadMagic(t *testing.T) {
	if _, err := readHello(bytes.NewReader([]byte("XXXX\x01\x00\x00\x00\x00"))); !errors.Is(err, ErrBadMagic) {
		t.Fatalf("err=%v want ErrBadMagic", err)
	}
}

func TestHello_BadVersion(t *testing.T) {
	if _, err := readHello(bytes.NewReader([]byte("TPHL\x07"))); !errors.Is(err, ErrBadVersion) {
		t.Fatalf("err=%v want ErrBadVersion", err)
	}
}

func TestChannelHeader_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := writeChannelHeader(&buf, "events"); err != nil {
		t.Fatalf("writeChannelHeader: %v", err)
	}

	// The name length prefix uses the wire's little-endian framing.
	raw := buf.Bytes()
	if raw[5] != 0x06 || raw[6] != 0x00 {
		t.Fatalf("length prefix % x want 06 00", raw[5:7])
	}

	// Payload bytes after the header must not be consumed.
	buf.WriteString("payload")
	name, err := readChannelHeader(&buf)
	if err != nil {
		t.Fatalf("readChannelHeader: %v", err)
	}
	if name != "events" {
		t.Fatalf("name=%q want events", name)
	}
	if buf.String() != "payload" {
		t.Fatalf("header read consumed payload bytes: %q left", buf.String())
	}
}

func TestChannelHeader_Validation(t *testing.T) {
	var buf bytes.Buffer
	if err := writeChannelHeader(&buf, ""); err == nil {
		t.Fatalf("writeChannelHeader accepted empty name")
	}
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	if err := writeChannelHeader(&buf, string(long)); err == nil {
		t.Fatalf("writeChannelHeader accepted oversized name")
	}
}

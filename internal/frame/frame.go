package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the size of the length prefix carried in front of every
// frame on the wire.
const HeaderSize = 2

const (
	// MinMTU is the smallest usable frame payload: a 576-byte IP packet
	// plus the 14-byte Ethernet header.
	MinMTU = 576 + 14

	// MaxMTU is the advisory upper bound: carrier MTU 1500 minus the
	// overhead of the encapsulating link.
	MaxMTU = 1486
)

var ErrTooLarge = errors.New("frame: length exceeds mtu")

// PutLength stores n as a little-endian uint16 into the first two bytes
// of b. The byte order is explicit so the wire format is identical on
// big-endian hosts.
func PutLength(b []byte, n int) {
	binary.LittleEndian.PutUint16(b, uint16(n))
}

// Length decodes the little-endian length prefix from the first two
// bytes of b. Decoding itself never fails; callers validate the result
// against their MTU with CheckLength.
func Length(b []byte) int {
	return int(binary.LittleEndian.Uint16(b))
}

// EncodeLength validates n against mtu and stores it into b.
func EncodeLength(b []byte, n, mtu int) error {
	if err := CheckLength(n, mtu); err != nil {
		return err
	}
	PutLength(b, n)
	return nil
}

// CheckLength reports ErrTooLarge when a frame of n payload bytes does
// not fit the configured mtu.
func CheckLength(n, mtu int) error {
	if n < 0 || n > mtu {
		return fmt.Errorf("%w: %d > %d", ErrTooLarge, n, mtu)
	}
	return nil
}

// ValidateMTU enforces the hard minimum on a configured MTU value.
func ValidateMTU(mtu int) error {
	if mtu < MinMTU {
		return fmt.Errorf("frame: invalid mtu %d (< %d)", mtu, MinMTU)
	}
	return nil
}

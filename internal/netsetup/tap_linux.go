// Package netsetup prepares the descriptors and interface state the
// pump core consumes: it opens the TAP device, creates the AF_UNIX
// datagram endpoints, and applies address/MTU/route configuration to the
// interface. The pump itself never touches any of this.
package netsetup

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

const tunDevicePath = "/dev/net/tun"

// CreateTAP opens the TAP character device and attaches it to the named
// interface with IFF_TAP|IFF_NO_PI, so reads and writes carry raw
// Ethernet frames. An empty name lets the kernel pick one; the actual
// interface name is returned alongside the open device.
func CreateTAP(name string) (*os.File, string, error) {
	f, err := os.OpenFile(tunDevicePath, os.O_RDWR, 0)
	if err != nil {
		return nil, "", fmt.Errorf("netsetup: open %s: %w", tunDevicePath, err)
	}

	ifr, err := unix.NewIfreq(name)
	if err != nil {
		_ = f.Close()
		return nil, "", fmt.Errorf("netsetup: interface name %q: %w", name, err)
	}
	ifr.SetUint16(unix.IFF_TAP | unix.IFF_NO_PI)

	if err := unix.IoctlIfreq(int(f.Fd()), unix.TUNSETIFF, ifr); err != nil {
		_ = f.Close()
		return nil, "", fmt.Errorf("netsetup: TUNSETIFF %q: %w", name, err)
	}
	return f, ifr.Name(), nil
}

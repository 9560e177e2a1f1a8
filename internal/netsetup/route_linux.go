package netsetup

import (
	"fmt"
	"net"
	"unsafe"

	"golang.org/x/sys/unix"
)

func inet4RawSockaddr(ip net.IP) (unix.RawSockaddr, error) {
	v4 := ip.To4()
	if v4 == nil {
		return unix.RawSockaddr{}, fmt.Errorf("netsetup: not an ipv4 address: %s", ip)
	}
	var sa unix.RawSockaddrInet4
	sa.Family = unix.AF_INET
	copy(sa.Addr[:], v4)
	return *(*unix.RawSockaddr)(unsafe.Pointer(&sa)), nil
}

// AddRoute installs an IPv4 route through the given gateway on the named
// interface. Empty dst and mask install the default route with metric 0;
// a specific destination gets metric 101 so it yields to more specific
// local routes.
func AddRoute(name, dst, mask, gateway string) error {
	gw := net.ParseIP(gateway)
	if gw == nil {
		return fmt.Errorf("netsetup: invalid gateway %q", gateway)
	}

	var rt unix.RtEntry
	rt.Flags = unix.RTF_UP | unix.RTF_GATEWAY

	var err error
	if rt.Gateway, err = inet4RawSockaddr(gw); err != nil {
		return err
	}

	if dst == "" {
		if rt.Dst, err = inet4RawSockaddr(net.IPv4zero); err != nil {
			return err
		}
		rt.Metric = 0
	} else {
		ip := net.ParseIP(dst)
		if ip == nil {
			return fmt.Errorf("netsetup: invalid route destination %q", dst)
		}
		if rt.Dst, err = inet4RawSockaddr(ip); err != nil {
			return err
		}
		rt.Metric = 101
	}

	maskIP := net.IPv4zero
	if mask != "" {
		if maskIP = net.ParseIP(mask); maskIP == nil {
			return fmt.Errorf("netsetup: invalid route mask %q", mask)
		}
	}
	if rt.Genmask, err = inet4RawSockaddr(maskIP); err != nil {
		return err
	}

	dev := make([]byte, len(name)+1)
	copy(dev, name)
	rt.Dev = &dev[0]

	fd, err := controlSocket()
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), unix.SIOCADDRT, uintptr(unsafe.Pointer(&rt))); errno != 0 {
		return fmt.Errorf("netsetup: SIOCADDRT via %s on %s: %w", gateway, name, errno)
	}
	return nil
}

// AddDefaultRoute installs the default route through gateway on name.
func AddDefaultRoute(name, gateway string) error {
	return AddRoute(name, "", "", gateway)
}

package netsetup

import (
	"fmt"
	"net"
	"unsafe"

	"golang.org/x/sys/unix"
)

func controlSocket() (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, unix.IPPROTO_IP)
	if err != nil {
		return -1, fmt.Errorf("netsetup: control socket: %w", err)
	}
	return fd, nil
}

// SetInterfaceUp toggles IFF_UP on the named interface.
func SetInterfaceUp(name string, up bool) error {
	fd, err := controlSocket()
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	ifr, err := unix.NewIfreq(name)
	if err != nil {
		return fmt.Errorf("netsetup: interface name %q: %w", name, err)
	}
	if err := unix.IoctlIfreq(fd, unix.SIOCGIFFLAGS, ifr); err != nil {
		return fmt.Errorf("netsetup: SIOCGIFFLAGS %s: %w", name, err)
	}
	flags := ifr.Uint16()
	if up {
		flags |= unix.IFF_UP
	} else {
		flags &^= unix.IFF_UP
	}
	ifr.SetUint16(flags)
	if err := unix.IoctlIfreq(fd, unix.SIOCSIFFLAGS, ifr); err != nil {
		return fmt.Errorf("netsetup: SIOCSIFFLAGS %s: %w", name, err)
	}
	return nil
}

// SetInterfaceMTU sets the interface MTU.
func SetInterfaceMTU(name string, mtu int) error {
	fd, err := controlSocket()
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	ifr, err := unix.NewIfreq(name)
	if err != nil {
		return fmt.Errorf("netsetup: interface name %q: %w", name, err)
	}
	ifr.SetUint32(uint32(mtu))
	if err := unix.IoctlIfreq(fd, unix.SIOCSIFMTU, ifr); err != nil {
		return fmt.Errorf("netsetup: SIOCSIFMTU %s: %w", name, err)
	}
	return nil
}

// SetInterfaceAddr assigns an IPv4 address and netmask and brings the
// interface up.
func SetInterfaceAddr(name, ip, mask string) error {
	addr := net.ParseIP(ip).To4()
	if addr == nil {
		return fmt.Errorf("netsetup: invalid ipv4 address %q", ip)
	}
	nm := net.ParseIP(mask).To4()
	if nm == nil {
		return fmt.Errorf("netsetup: invalid netmask %q", mask)
	}

	fd, err := controlSocket()
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	ifr, err := unix.NewIfreq(name)
	if err != nil {
		return fmt.Errorf("netsetup: interface name %q: %w", name, err)
	}
	if err := ifr.SetInet4Addr(addr); err != nil {
		return err
	}
	if err := unix.IoctlIfreq(fd, unix.SIOCSIFADDR, ifr); err != nil {
		return fmt.Errorf("netsetup: SIOCSIFADDR %s: %w", name, err)
	}
	if err := ifr.SetInet4Addr(nm); err != nil {
		return err
	}
	if err := unix.IoctlIfreq(fd, unix.SIOCSIFNETMASK, ifr); err != nil {
		return fmt.Errorf("netsetup: SIOCSIFNETMASK %s: %w", name, err)
	}
	return SetInterfaceUp(name, true)
}

type ifreqHwaddr struct {
	name   [unix.IFNAMSIZ]byte
	hwaddr unix.RawSockaddr
}

// SetInterfaceHardwareAddr sets the interface's Ethernet MAC address.
func SetInterfaceHardwareAddr(name string, mac net.HardwareAddr) error {
	if len(mac) != 6 {
		return fmt.Errorf("netsetup: invalid hardware address %q", mac)
	}
	if len(name) >= unix.IFNAMSIZ {
		return fmt.Errorf("netsetup: interface name %q too long", name)
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("netsetup: packet socket: %w", err)
	}
	defer unix.Close(fd)

	var ifr ifreqHwaddr
	copy(ifr.name[:], name)
	ifr.hwaddr.Family = unix.ARPHRD_ETHER
	for i, b := range mac {
		ifr.hwaddr.Data[i] = int8(b)
	}

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), unix.SIOCSIFHWADDR, uintptr(unsafe.Pointer(&ifr))); errno != 0 {
		return fmt.Errorf("netsetup: SIOCSIFHWADDR %s: %w", name, errno)
	}
	return nil
}

// CreateLoopbackAlias marks the named interface as a loopback and brings
// it up. The flag read is load-bearing: a missing interface surfaces
// here instead of being swallowed.
func CreateLoopbackAlias(name string) error {
	fd, err := controlSocket()
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	ifr, err := unix.NewIfreq(name)
	if err != nil {
		return fmt.Errorf("netsetup: interface name %q: %w", name, err)
	}
	if err := unix.IoctlIfreq(fd, unix.SIOCGIFFLAGS, ifr); err != nil {
		return fmt.Errorf("netsetup: SIOCGIFFLAGS %s: %w", name, err)
	}
	ifr.SetUint16(ifr.Uint16() | unix.IFF_LOOPBACK | unix.IFF_UP)
	if err := unix.IoctlIfreq(fd, unix.SIOCSIFFLAGS, ifr); err != nil {
		return fmt.Errorf("netsetup: SIOCSIFFLAGS %s: %w", name, err)
	}
	return nil
}

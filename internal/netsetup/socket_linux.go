package netsetup

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// BindDatagramSocket creates a non-blocking AF_UNIX datagram socket
// bound at path. A stale socket file at the same path is removed first;
// the fresh one is made world-writable so the host-side counterpart can
// send into it regardless of its uid.
func BindDatagramSocket(path string) (int, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_DGRAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("netsetup: socket: %w", err)
	}

	_ = unix.Unlink(path)
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("netsetup: bind %s: %w", path, err)
	}
	if err := os.Chmod(path, os.ModeSticky|os.ModeSetuid|os.ModeSetgid|0o777); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("netsetup: chmod %s: %w", path, err)
	}
	return fd, nil
}

// DialDatagramSocket creates an AF_UNIX datagram socket connected to the
// peer at path. The connect pins the default destination; the pump still
// addresses each send explicitly.
func DialDatagramSocket(path string) (int, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_DGRAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("netsetup: socket: %w", err)
	}
	if err := unix.Connect(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("netsetup: connect %s: %w", path, err)
	}
	return fd, nil
}

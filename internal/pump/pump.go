// Package pump implements the bidirectional datagram pump between a TAP
// descriptor and a pair of AF_UNIX datagram sockets.
//
// One pump instance is one goroutine: a readiness loop multiplexes the
// two descriptors and interleaves the TAP-to-socket and socket-to-TAP
// directions without letting either starve the other. Frames cross the
// socket boundary with a 2-byte little-endian length prefix; the TAP
// side carries raw Ethernet frames, one per read or write.
package pump

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"tappump/internal/control"
	"tappump/internal/frame"
	"tappump/internal/telemetry"
)

const pollTimeoutMs = 500

type Options struct {
	// TapFD is the descriptor of an opened TAP device (IFF_TAP|IFF_NO_PI).
	TapFD int
	// ReadFD is a bound AF_UNIX datagram socket the peer sends into.
	ReadFD int
	// WriteFD is an AF_UNIX datagram socket used to reach the peer.
	WriteFD int
	// WriteSocketPath is the peer address passed to sendmsg.
	WriteSocketPath string
	MTU             int

	Stop    *control.Flag
	Logger  *slog.Logger
	Metrics *telemetry.MetricsCollector
}

// direction holds the staging state for one half of the pump.
//
// Invariants: 0 <= off <= total <= mtu+2; total == 0 means idle and
// implies off == 0.
type direction struct {
	buf   []byte
	off   int
	total int
}

func (d *direction) idle() bool { return d.total == 0 }

func (d *direction) reset() {
	d.off = 0
	d.total = 0
}

type Pump struct {
	opts Options
	peer unix.Sockaddr

	// egress stages TAP frames on their way to the write socket; the
	// first two buffer bytes are reserved for the length prefix.
	egress direction
	// ingress stages received datagrams on their way into the TAP.
	ingress direction

	// Mirrors of the loop-owned state above, readable from other
	// goroutines for the admin health endpoint.
	running        atomic.Bool
	egressPending  atomic.Int64
	ingressPending atomic.Int64
}

// Status snapshots the pump's externally visible progress state.
func (p *Pump) Status() telemetry.PumpStatus {
	e := p.egressPending.Load()
	i := p.ingressPending.Load()
	return telemetry.PumpStatus{
		Running:             p.running.Load(),
		EgressBusy:          e > 0,
		EgressPendingBytes:  e,
		IngressBusy:         i > 0,
		IngressPendingBytes: i,
	}
}

func New(opts Options) (*Pump, error) {
	if err := frame.ValidateMTU(opts.MTU); err != nil {
		return nil, err
	}
	if opts.Stop == nil {
		return nil, fmt.Errorf("pump: shutdown flag is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.WriteSocketPath == "" {
		return nil, fmt.Errorf("pump: write socket path is required")
	}

	for _, fd := range []int{opts.TapFD, opts.ReadFD, opts.WriteFD} {
		if err := unix.SetNonblock(fd, true); err != nil {
			return nil, fmt.Errorf("pump: set nonblock fd %d: %w", fd, err)
		}
	}

	size := opts.MTU + frame.HeaderSize
	return &Pump{
		opts:    opts,
		peer:    &unix.SockaddrUnix{Name: opts.WriteSocketPath},
		egress:  direction{buf: make([]byte, size)},
		ingress: direction{buf: make([]byte, size)},
	}, nil
}

// Run drives both directions until the shutdown flag is set or a fatal
// descriptor error occurs. It returns nil on clean shutdown.
func (p *Pump) Run() error {
	p.running.Store(true)
	defer p.running.Store(false)

	fds := make([]unix.PollFd, 2)

	for !p.opts.Stop.Stopped() {
		// Each direction waits either for its source to become
		// readable (idle) or for its sink to drain (mid-frame).
		if p.egress.idle() {
			fds[0] = unix.PollFd{Fd: int32(p.opts.TapFD), Events: unix.POLLIN}
		} else {
			fds[0] = unix.PollFd{Fd: int32(p.opts.WriteFD), Events: unix.POLLOUT}
		}
		if p.ingress.idle() {
			fds[1] = unix.PollFd{Fd: int32(p.opts.ReadFD), Events: unix.POLLIN}
		} else {
			fds[1] = unix.PollFd{Fd: int32(p.opts.TapFD), Events: unix.POLLOUT}
		}

		n, err := unix.Poll(fds, pollTimeoutMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("pump: poll: %w", err)
		}
		if n == 0 {
			continue
		}

		if fds[0].Revents != 0 {
			err := p.stepEgress()
			p.egressPending.Store(int64(p.egress.total - p.egress.off))
			if err != nil {
				p.opts.Logger.Error("pump: fatal", "direction", "tap_to_sock", "err", err)
				return err
			}
		}
		if fds[1].Revents != 0 {
			err := p.stepIngress()
			p.ingressPending.Store(int64(p.ingress.total - p.ingress.off))
			if err != nil {
				p.opts.Logger.Error("pump: fatal", "direction", "sock_to_tap", "err", err)
				return err
			}
		}
	}

	p.opts.Logger.Info("pump: stopped")
	return nil
}

// stepEgress makes one step of TAP-to-socket progress: read one frame
// from the TAP when idle, otherwise push staged bytes to the peer.
func (p *Pump) stepEgress() error {
	d := &p.egress

	if d.idle() {
		n, err := unix.Read(p.opts.TapFD, d.buf[frame.HeaderSize:])
		if err != nil {
			if transient(err) {
				return nil
			}
			return fmt.Errorf("read tap: %w", err)
		}
		if n == 0 {
			return nil
		}
		frame.PutLength(d.buf, n)
		d.total = n + frame.HeaderSize
		d.off = 0
	}

	n, err := unix.SendmsgN(p.opts.WriteFD, d.buf[d.off:d.total], nil, p.peer, 0)
	if err != nil {
		if transient(err) {
			return nil
		}
		return fmt.Errorf("sendmsg %s: %w", p.opts.WriteSocketPath, err)
	}
	d.off += n

	if d.off >= d.total {
		if p.opts.Metrics != nil {
			p.opts.Metrics.AddTapToSock(1, int64(d.total-frame.HeaderSize))
		}
		d.reset()
	}
	return nil
}

// stepIngress makes one step of socket-to-TAP progress: receive and
// decode one datagram when idle, otherwise drain staged payload bytes
// into the TAP.
func (p *Pump) stepIngress() error {
	d := &p.ingress

	if d.idle() {
		n, _, err := unix.Recvfrom(p.opts.ReadFD, d.buf, 0)
		if err != nil {
			if transient(err) {
				return nil
			}
			return fmt.Errorf("recvfrom: %w", err)
		}
		if n == 0 {
			return nil
		}
		if n < frame.HeaderSize {
			p.drop("short datagram", n, 0)
			return nil
		}
		length := frame.Length(d.buf)
		if err := frame.CheckLength(length, p.opts.MTU); err != nil {
			p.drop("oversize frame", n, length)
			return nil
		}
		if length > n-frame.HeaderSize {
			p.drop("truncated frame", n, length)
			return nil
		}
		if length == 0 {
			return nil
		}
		d.total = length
		d.off = 0
	}

	n, err := unix.Write(p.opts.TapFD, d.buf[frame.HeaderSize+d.off:frame.HeaderSize+d.total])
	if err != nil {
		if transient(err) {
			return nil
		}
		return fmt.Errorf("write tap: %w", err)
	}
	d.off += n

	if d.off >= d.total {
		if p.opts.Metrics != nil {
			p.opts.Metrics.AddSockToTap(1, int64(d.total))
		}
		d.reset()
	}
	return nil
}

// drop discards the current ingress datagram and leaves the direction
// idle; the next datagram proceeds normally.
func (p *Pump) drop(reason string, got, decoded int) {
	if p.opts.Metrics != nil {
		p.opts.Metrics.IncOversizeDrop()
	}
	p.opts.Logger.Warn("pump: dropped datagram", "reason", reason, "received", got, "decoded_len", decoded, "mtu", p.opts.MTU)
}

func transient(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR
}

package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"

	"golang.org/x/sync/errgroup"

	"tappump/internal/control"
	"tappump/internal/forward"
)

// ChannelSpec describes one tunneled channel: the local endpoint it is
// coupled to and the per-direction framing applied on the stream side.
type ChannelSpec struct {
	Name string
	// Proto is stream or datagram.
	Proto string
	// LocalAddr is host:port, unix:/path or unixgram:/path.
	LocalAddr string
	// BindAddr is the local unixgram address to bind for replies;
	// datagram channels only.
	BindAddr string
	// ReadHeader strips a length prefix from stream-side data headed to
	// the local endpoint.
	ReadHeader bool
	// WriteHeader prepends a length prefix to data sent onto the stream.
	WriteHeader bool
	ReadSize    int
}

// ChannelMetrics is the slice of the metrics collector the bridge
// reports into.
type ChannelMetrics interface {
	AddChannelBytes(name string, n int64)
}

// Bridge couples a channel stream to its local endpoint with a pair of
// forwarders, one per direction. The pair shares no buffer.
type Bridge struct {
	stop    *control.Flag
	logger  *slog.Logger
	metrics ChannelMetrics
}

func NewBridge(stop *control.Flag, logger *slog.Logger, metrics ChannelMetrics) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{stop: stop, logger: logger, metrics: metrics}
}

// Run bridges the stream to the channel's local endpoint until either
// side closes or the shutdown flag is observed. It dials the local
// endpoint itself and owns both connections.
func (b *Bridge) Run(ctx context.Context, spec ChannelSpec, stream net.Conn) error {
	local, err := dialLocal(spec)
	if err != nil {
		_ = stream.Close()
		return fmt.Errorf("tunnel: channel %s: %w", spec.Name, err)
	}

	b.logger.Info("tunnel: channel up", "channel", spec.Name, "proto", spec.Proto, "local", spec.LocalAddr)
	defer b.logger.Info("tunnel: channel down", "channel", spec.Name)

	if spec.Proto == "datagram" {
		return b.runDatagram(ctx, spec, local, stream)
	}
	return b.runStream(ctx, spec, local, stream)
}

func (b *Bridge) runStream(ctx context.Context, spec ChannelSpec, local, stream net.Conn) error {
	g, _ := errgroup.WithContext(ctx)

	out, err := forward.New(forward.Args{
		R:           local,
		W:           stream,
		ReadSize:    spec.ReadSize,
		WriteHeader: spec.WriteHeader,
	}, b.stop, b.logger)
	if err == nil {
		var in *forward.Forwarder
		in, err = forward.New(forward.Args{
			R:          stream,
			W:          local,
			ReadSize:   spec.ReadSize,
			ReadHeader: spec.ReadHeader,
		}, b.stop, b.logger)
		if err == nil {
			if b.metrics != nil {
				out.SetCounter(func(n int64) { b.metrics.AddChannelBytes(spec.Name, n) })
				in.SetCounter(func(n int64) { b.metrics.AddChannelBytes(spec.Name, n) })
			}
			g.Go(func() error {
				defer closeBoth(local, stream)
				return out.Run()
			})
			g.Go(func() error {
				defer closeBoth(local, stream)
				return in.Run()
			})
			err = g.Wait()
		}
	}
	closeBoth(local, stream)
	return ignoreClosed(err)
}

func (b *Bridge) runDatagram(ctx context.Context, spec ChannelSpec, local, stream net.Conn) error {
	dc := NewDatagramConn(stream)
	g, _ := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer closeBoth(local, dc)
		return b.copyDatagrams(spec.Name, dc, local)
	})
	g.Go(func() error {
		defer closeBoth(local, dc)
		return b.copyDatagrams(spec.Name, local, dc)
	})

	err := g.Wait()
	closeBoth(local, dc)
	return ignoreClosed(err)
}

// copyDatagrams moves one datagram per iteration; both endpoints
// preserve boundaries, so a plain read/write pair per packet suffices.
func (b *Bridge) copyDatagrams(name string, dst, src net.Conn) error {
	buf := make([]byte, 65535)
	for {
		if b.stop.Stopped() {
			return nil
		}
		n, err := src.Read(buf)
		if err != nil {
			if err == io.ErrShortBuffer {
				// Oversize datagram was drained; skip it.
				continue
			}
			if err == io.EOF {
				return nil
			}
			return err
		}
		if n == 0 {
			continue
		}
		if _, err := dst.Write(buf[:n]); err != nil {
			return err
		}
		if b.metrics != nil {
			b.metrics.AddChannelBytes(name, int64(n))
		}
	}
}

func dialLocal(spec ChannelSpec) (net.Conn, error) {
	addr := spec.LocalAddr
	switch {
	case strings.HasPrefix(addr, "unixgram:"):
		raddr := &net.UnixAddr{Net: "unixgram", Name: strings.TrimPrefix(addr, "unixgram:")}
		var laddr *net.UnixAddr
		if spec.BindAddr != "" {
			laddr = &net.UnixAddr{Net: "unixgram", Name: spec.BindAddr}
		}
		return net.DialUnix("unixgram", laddr, raddr)
	case strings.HasPrefix(addr, "unix:"):
		return net.Dial("unix", strings.TrimPrefix(addr, "unix:"))
	default:
		return net.Dial("tcp", addr)
	}
}

func closeBoth(a, b net.Conn) {
	_ = a.Close()
	_ = b.Close()
}

func ignoreClosed(err error) error {
	if err == nil || errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

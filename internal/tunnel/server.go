package tunnel

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"time"

	"tappump/internal/control"
)

type ServerOptions struct {
	AuthToken string
	Channels  []ChannelSpec

	Stop    *control.Flag
	Logger  *slog.Logger
	Metrics ChannelMetrics
}

// Server is the host-side acceptor for the channel carrier. It plugs
// into a TCP accept loop as a connection handler: each accepted
// connection becomes a multiplexed session whose streams are matched to
// configured channels by name and bridged to their local endpoints.
type Server struct {
	opts   ServerOptions
	bridge *Bridge
	byName map[string]ChannelSpec
}

func NewServer(opts ServerOptions) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	byName := make(map[string]ChannelSpec, len(opts.Channels))
	for _, ch := range opts.Channels {
		byName[ch.Name] = ch
	}
	return &Server{
		opts:   opts,
		bridge: NewBridge(opts.Stop, opts.Logger, opts.Metrics),
		byName: byName,
	}
}

// Handle implements server.ConnectionHandler.
func (s *Server) Handle(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()

	sess, err := AcceptSession(conn)
	if err != nil {
		s.opts.Logger.Warn("tunnel: session setup failed", "remote", remote, "err", err)
		return
	}
	defer sess.Close()

	// First stream carries the hello.
	st, err := sess.AcceptStream(ctx)
	if err != nil {
		s.opts.Logger.Warn("tunnel: no hello stream", "remote", remote, "err", err)
		return
	}
	_ = st.SetReadDeadline(time.Now().Add(10 * time.Second))
	hello, err := readHello(st)
	_ = st.Close()
	if err != nil {
		s.opts.Logger.Warn("tunnel: bad hello", "remote", remote, "err", err)
		return
	}
	if subtle.ConstantTimeCompare([]byte(hello.Token), []byte(s.opts.AuthToken)) != 1 {
		s.opts.Logger.Warn("tunnel: rejected session: bad token", "remote", remote)
		return
	}
	s.opts.Logger.Info("tunnel: session established", "remote", remote, "channels", len(hello.Channels))

	for {
		if s.opts.Stop != nil && s.opts.Stop.Stopped() {
			return
		}
		stream, err := sess.AcceptStream(ctx)
		if err != nil {
			s.opts.Logger.Info("tunnel: session closed", "remote", remote, "err", err)
			return
		}
		go s.handleStream(ctx, remote, stream)
	}
}

func (s *Server) handleStream(ctx context.Context, remote string, stream net.Conn) {
	_ = stream.SetReadDeadline(time.Now().Add(10 * time.Second))
	name, err := readChannelHeader(stream)
	_ = stream.SetReadDeadline(time.Time{})
	if err != nil {
		s.opts.Logger.Warn("tunnel: bad channel header", "remote", remote, "err", err)
		_ = stream.Close()
		return
	}

	spec, ok := s.byName[name]
	if !ok {
		s.opts.Logger.Warn("tunnel: unknown channel", "remote", remote, "channel", name)
		_ = stream.Close()
		return
	}

	if err := s.bridge.Run(ctx, spec, stream); err != nil {
		s.opts.Logger.Warn("tunnel: channel failed", "remote", remote, "channel", name, "err", err)
	}
}

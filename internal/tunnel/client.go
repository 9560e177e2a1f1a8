package tunnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"tappump/internal/control"
)

type ClientOptions struct {
	ServerAddr string
	AuthToken  string
	Channels   []ChannelSpec

	DialTimeout time.Duration

	Stop    *control.Flag
	Logger  *slog.Logger
	Metrics ChannelMetrics
}

// Client runs the dial-out side of the channel carrier: it connects to
// the host-side counterpart, announces its channels, then opens one
// stream per channel and bridges each to its local endpoint. Lost
// sessions are redialed with backoff until shutdown.
type Client struct {
	opts   ClientOptions
	bridge *Bridge
}

func NewClient(opts ClientOptions) (*Client, error) {
	if opts.ServerAddr == "" {
		return nil, errors.New("tunnel: client server addr is required")
	}
	if opts.Stop == nil {
		return nil, errors.New("tunnel: shutdown flag is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	return &Client{
		opts:   opts,
		bridge: NewBridge(opts.Stop, opts.Logger, opts.Metrics),
	}, nil
}

func (c *Client) Run(ctx context.Context) error {
	backoff := 1 * time.Second
	for {
		if c.opts.Stop.Stopped() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return nil
		}

		err := c.runOnce(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		c.opts.Logger.Warn("tunnel: disconnected; retrying", "server", c.opts.ServerAddr, "err", err, "backoff", backoff.String())
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		if backoff < 10*time.Second {
			backoff *= 2
			if backoff > 10*time.Second {
				backoff = 10 * time.Second
			}
		}
	}
}

func (c *Client) runOnce(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()

	sess, err := DialSession(dialCtx, c.opts.ServerAddr)
	if err != nil {
		return err
	}
	defer sess.Close()

	// Announce.
	st, err := sess.OpenStream(ctx)
	if err != nil {
		return err
	}
	hello := HelloRequest{Token: c.opts.AuthToken}
	for _, ch := range c.opts.Channels {
		hello.Channels = append(hello.Channels, AnnouncedChannel{Name: ch.Name, Proto: ch.Proto})
	}
	if err := writeHello(st, hello); err != nil {
		_ = st.Close()
		return err
	}
	_ = st.Close()
	c.opts.Logger.Info("tunnel: connected", "server", c.opts.ServerAddr, "channels", len(c.opts.Channels))

	g, gctx := errgroup.WithContext(ctx)
	for _, ch := range c.opts.Channels {
		g.Go(func() error {
			stream, err := sess.OpenStream(gctx)
			if err != nil {
				return fmt.Errorf("tunnel: open channel %s: %w", ch.Name, err)
			}
			if err := writeChannelHeader(stream, ch.Name); err != nil {
				_ = stream.Close()
				return fmt.Errorf("tunnel: channel %s header: %w", ch.Name, err)
			}
			return c.bridge.Run(gctx, ch, stream)
		})
	}

	// Close the session when shutdown is requested so the bridges
	// unblock promptly.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-gctx.Done():
		case <-done:
		}
		_ = sess.Close()
	}()

	if err := g.Wait(); err != nil {
		return err
	}
	if c.opts.Stop.Stopped() {
		return nil
	}
	return errors.New("tunnel: session ended")
}

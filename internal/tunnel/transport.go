// Package tunnel carries the extra forwarder channels between the
// sandboxed pump and its host-side counterpart over one multiplexed TCP
// connection. Each channel is a yamux stream bridged to a local endpoint
// by a pair of forwarders; the tunnel never inspects or rewrites the
// bytes it carries.
package tunnel

import (
	"context"
	"errors"
	"net"

	"github.com/hashicorp/yamux"
)

// Session is a multiplexed connection to the counterpart: a long-lived
// net.Conn plus the ability to open and accept independent streams on it.
type Session interface {
	OpenStream(ctx context.Context) (net.Conn, error)
	AcceptStream(ctx context.Context) (net.Conn, error)
	Close() error
	RemoteAddr() net.Addr
	LocalAddr() net.Addr
}

// DialSession dials the counterpart and layers a yamux client session on
// the connection.
func DialSession(ctx context.Context, addr string) (Session, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	sess, err := yamux.Client(c, nil)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return &yamuxSession{sess: sess, raw: c}, nil
}

// AcceptSession layers a yamux server session on an already-accepted
// connection.
func AcceptSession(c net.Conn) (Session, error) {
	sess, err := yamux.Server(c, nil)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return &yamuxSession{sess: sess, raw: c}, nil
}

type yamuxSession struct {
	sess *yamux.Session
	raw  net.Conn
}

func (s *yamuxSession) OpenStream(ctx context.Context) (net.Conn, error) {
	type res struct {
		st  *yamux.Stream
		err error
	}
	ch := make(chan res, 1)
	go func() {
		st, err := s.sess.OpenStream()
		ch <- res{st: st, err: err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.st, r.err
	}
}

func (s *yamuxSession) AcceptStream(ctx context.Context) (net.Conn, error) {
	type res struct {
		st  *yamux.Stream
		err error
	}
	ch := make(chan res, 1)
	go func() {
		st, err := s.sess.AcceptStream()
		ch <- res{st: st, err: err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.st, r.err
	}
}

func (s *yamuxSession) Close() error {
	// Close session first to unblock Open/Accept.
	err := s.sess.Close()
	if s.raw != nil {
		err2 := s.raw.Close()
		if err == nil {
			err = err2
		}
	}
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *yamuxSession) RemoteAddr() net.Addr { return s.raw.RemoteAddr() }
func (s *yamuxSession) LocalAddr() net.Addr  { return s.raw.LocalAddr() }

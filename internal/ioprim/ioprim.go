// Package ioprim provides the low-level read/write primitives shared by
// the forwarder workers: single-shot reads, exact reads, full writes and
// vectored writes, all of which observe the cooperative shutdown flag
// between retries.
//
// Cancellation is bounded by deadline polling: when a descriptor supports
// deadlines (net.Conn, os.File), each blocking call wakes at least once
// per poll interval to re-check the flag.
package ioprim

import (
	"errors"
	"io"
	"net"
	"os"
	"time"

	"tappump/internal/control"
)

// ErrCancelled is returned when the shutdown flag is observed between
// retries of a primitive. Callers treat it as a clean exit.
var ErrCancelled = errors.New("ioprim: cancelled")

const pollInterval = 500 * time.Millisecond

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func stopped(stop *control.Flag) bool {
	return stop != nil && stop.Stopped()
}

// ReadOnce performs a single read of up to len(buf) bytes. It returns
// the number of bytes read, which may be less than len(buf). EOF is
// reported as (0, io.EOF); deadline expiries are absorbed and retried
// after re-checking the shutdown flag.
func ReadOnce(stop *control.Flag, r io.Reader, buf []byte) (int, error) {
	for {
		if stopped(stop) {
			return 0, ErrCancelled
		}
		if d, ok := r.(readDeadliner); ok {
			_ = d.SetReadDeadline(time.Now().Add(pollInterval))
		}
		n, err := r.Read(buf)
		if n > 0 {
			return n, nil
		}
		if err == nil {
			continue
		}
		if isTimeout(err) {
			continue
		}
		return 0, err
	}
}

// ReadFull reads exactly len(buf) bytes, looping over partial reads.
// EOF before the buffer is full is reported as io.ErrUnexpectedEOF,
// except at offset 0 where plain io.EOF is returned so callers can
// distinguish a clean close from a truncated frame.
func ReadFull(stop *control.Flag, r io.Reader, buf []byte) error {
	off := 0
	for off < len(buf) {
		n, err := ReadOnce(stop, r, buf[off:])
		off += n
		if err != nil {
			if err == io.EOF && off > 0 {
				return io.ErrUnexpectedEOF
			}
			return err
		}
	}
	return nil
}

// WriteAll writes the whole of buf, looping over partial writes.
func WriteAll(stop *control.Flag, w io.Writer, buf []byte) error {
	off := 0
	for off < len(buf) {
		if stopped(stop) {
			return ErrCancelled
		}
		if d, ok := w.(writeDeadliner); ok {
			_ = d.SetWriteDeadline(time.Now().Add(pollInterval))
		}
		n, err := w.Write(buf[off:])
		off += n
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return err
		}
	}
	return nil
}

// WriteVectored emits the given byte ranges as one logical write. When w
// is a net.Conn the ranges go out in a single writev, so a length prefix
// and its payload are never split by a competing writer. Partial
// progress advances through the range list until every byte is drained.
func WriteVectored(stop *control.Flag, w io.Writer, bufs ...[]byte) error {
	var total int64
	v := make(net.Buffers, 0, len(bufs))
	for _, b := range bufs {
		// The total is accumulated across every range, not assigned.
		total += int64(len(b))
		if len(b) > 0 {
			v = append(v, b)
		}
	}

	var written int64
	for written < total {
		if stopped(stop) {
			return ErrCancelled
		}
		if d, ok := w.(writeDeadliner); ok {
			_ = d.SetWriteDeadline(time.Now().Add(pollInterval))
		}
		n, err := v.WriteTo(w)
		written += n
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return err
		}
	}
	return nil
}

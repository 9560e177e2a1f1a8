// Package forward implements the generic framed forwarder: a
// one-directional worker coupling a read endpoint to a write endpoint
// with independently configurable framing on each side. Two instances
// running in opposite directions form a bidirectional bridge; paired
// instances never share a buffer.
package forward

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"syscall"

	"tappump/internal/control"
	"tappump/internal/frame"
	"tappump/internal/ioprim"
)

// Args describes one forwarder instance.
type Args struct {
	R io.Reader
	W io.Writer

	// ReadSize is the preferred chunk size when ReadHeader is false.
	ReadSize int
	// ReadHeader makes the forwarder consume a 2-byte little-endian
	// length prefix from R before each payload.
	ReadHeader bool
	// WriteHeader makes the forwarder emit a 2-byte little-endian
	// length prefix in front of each payload written to W, as a single
	// logical write with the payload.
	WriteHeader bool
}

type Forwarder struct {
	args   Args
	stop   *control.Flag
	logger *slog.Logger

	hdr [frame.HeaderSize]byte
	buf []byte

	// Sink for per-chunk accounting; nil disables it.
	count func(n int64)
}

func New(args Args, stop *control.Flag, logger *slog.Logger) (*Forwarder, error) {
	if args.R == nil || args.W == nil {
		return nil, fmt.Errorf("forward: both endpoints are required")
	}
	if !args.ReadHeader && (args.ReadSize < 1 || args.ReadSize > 65535) {
		return nil, fmt.Errorf("forward: invalid read size %d", args.ReadSize)
	}
	if stop == nil {
		return nil, fmt.Errorf("forward: shutdown flag is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	// With read framing, the peer decides the chunk size; the buffer
	// must hold the largest encodable length.
	size := args.ReadSize
	if args.ReadHeader {
		size = 65535
	}
	return &Forwarder{args: args, stop: stop, logger: logger, buf: make([]byte, size)}, nil
}

// SetCounter installs a per-chunk byte counter invoked after each
// completed write.
func (f *Forwarder) SetCounter(count func(n int64)) { f.count = count }

// Run moves chunks from R to W until EOF, shutdown, or an error. A clean
// close of R (EOF on a chunk boundary) and a shutdown-flag observation
// both return nil; EOF mid-frame returns io.ErrUnexpectedEOF, and a
// closed write side surfaces as the underlying error (EPIPE on pipes).
func (f *Forwarder) Run() error {
	for {
		if f.stop.Stopped() {
			return nil
		}

		n, err := f.readChunk()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if errors.Is(err, ioprim.ErrCancelled) {
				return nil
			}
			return err
		}
		if n == 0 {
			continue
		}

		if err := f.writeChunk(n); err != nil {
			if errors.Is(err, ioprim.ErrCancelled) {
				return nil
			}
			if errors.Is(err, syscall.EPIPE) {
				return fmt.Errorf("forward: write side closed: %w", err)
			}
			return err
		}
		if f.count != nil {
			f.count(int64(n))
		}
	}
}

// readChunk gathers the next payload into f.buf and returns its length.
// EOF on a chunk boundary is reported as io.EOF; EOF inside a framed
// chunk as io.ErrUnexpectedEOF.
func (f *Forwarder) readChunk() (int, error) {
	if !f.args.ReadHeader {
		return ioprim.ReadOnce(f.stop, f.args.R, f.buf[:f.args.ReadSize])
	}

	if err := ioprim.ReadFull(f.stop, f.args.R, f.hdr[:]); err != nil {
		return 0, err
	}
	length := frame.Length(f.hdr[:])
	if length == 0 {
		return 0, nil
	}
	if err := ioprim.ReadFull(f.stop, f.args.R, f.buf[:length]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return 0, err
	}
	return length, nil
}

// writeChunk emits one payload, with the length prefix and payload as a
// single logical write when write framing is on.
func (f *Forwarder) writeChunk(n int) error {
	if !f.args.WriteHeader {
		return ioprim.WriteAll(f.stop, f.args.W, f.buf[:n])
	}
	frame.PutLength(f.hdr[:], n)
	return ioprim.WriteVectored(f.stop, f.args.W, f.hdr[:], f.buf[:n])
}

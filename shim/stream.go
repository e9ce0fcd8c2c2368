package shim

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Stream is what Runtime.Open hands out. Operations a stream cannot
// perform fail with ErrNotSupported.
type Stream interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer
}

var (
	ErrInputConsumed = errors.New("php://input was already consumed")
	ErrNotSupported  = errors.New("operation not supported on this stream")
	ErrUnknownStream = errors.New("unknown php:// stream")
)

// inputSource is the raw request body shared by every php://input handle.
// The first read through any handle marks it consumed; handles opened
// after that see an empty stream.
type inputSource struct {
	data     []byte
	consumed bool
}

func (s *inputSource) open() *inputStream {
	return &inputStream{src: s, stale: s.consumed}
}

type inputStream struct {
	src    *inputSource
	pos    int64
	stale  bool
	closed bool
}

func (s *inputStream) Read(p []byte) (int, error) {
	if s.closed {
		return 0, os.ErrClosed
	}
	if s.stale {
		return 0, io.EOF
	}
	s.src.consumed = true
	if s.pos >= int64(len(s.src.data)) {
		return 0, io.EOF
	}
	n := copy(p, s.src.data[s.pos:])
	s.pos += int64(n)
	return n, nil
}

func (s *inputStream) Write([]byte) (int, error) { return 0, ErrNotSupported }

func (s *inputStream) Seek(offset int64, whence int) (int64, error) {
	if s.closed {
		return 0, os.ErrClosed
	}
	if s.stale {
		return 0, ErrInputConsumed
	}
	size := int64(len(s.src.data))
	pos, err := seekTarget(s.pos, size, offset, whence)
	if err != nil {
		return s.pos, err
	}
	if pos > size {
		return s.pos, fmt.Errorf("seek to %d beyond end of input (%d bytes)", pos, size)
	}
	s.pos = pos
	return pos, nil
}

func (s *inputStream) Close() error {
	s.closed = true
	return nil
}

// memStream backs php://memory and php://temp.
type memStream struct {
	buf    []byte
	pos    int64
	closed bool
}

func (m *memStream) Read(p []byte) (int, error) {
	if m.closed {
		return 0, os.ErrClosed
	}
	if m.pos >= int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[m.pos:])
	m.pos += int64(n)
	return n, nil
}

func (m *memStream) Write(p []byte) (int, error) {
	if m.closed {
		return 0, os.ErrClosed
	}
	end := m.pos + int64(len(p))
	if end > int64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[m.pos:], p)
	m.pos = end
	return len(p), nil
}

func (m *memStream) Seek(offset int64, whence int) (int64, error) {
	pos, err := seekTarget(m.pos, int64(len(m.buf)), offset, whence)
	if err != nil {
		return m.pos, err
	}
	m.pos = pos
	return pos, nil
}

func (m *memStream) Close() error {
	m.closed = true
	return nil
}

// passthroughStream forwards to a real reader or writer.
type passthroughStream struct {
	r io.Reader
	w io.Writer
}

func (p *passthroughStream) Read(b []byte) (int, error) {
	if p.r == nil {
		return 0, ErrNotSupported
	}
	return p.r.Read(b)
}

func (p *passthroughStream) Write(b []byte) (int, error) {
	if p.w == nil {
		return 0, ErrNotSupported
	}
	return p.w.Write(b)
}

func (p *passthroughStream) Seek(int64, int) (int64, error) { return 0, ErrNotSupported }

func (p *passthroughStream) Close() error { return nil }

func seekTarget(cur, size, offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = cur + offset
	case io.SeekEnd:
		pos = size + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if pos < 0 {
		return 0, fmt.Errorf("negative seek position %d", pos)
	}
	return pos, nil
}

// Open returns a stream for name. php://input is the read-once request
// body; the other php:// names delegate to real implementations; anything
// else is opened from the filesystem read-only.
func (rt *Runtime) Open(name string) (Stream, error) {
	if !strings.HasPrefix(strings.ToLower(name), "php://") {
		f, err := os.Open(name)
		if err != nil {
			return nil, err
		}
		return f, nil
	}

	target := strings.ToLower(name[len("php://"):])
	switch {
	case target == "input":
		return rt.input.open(), nil
	case target == "output":
		return &passthroughStream{w: rt.out}, nil
	case target == "stdout":
		return &passthroughStream{w: &flushingWriter{rt: rt}}, nil
	case target == "stderr":
		return &passthroughStream{w: rt.stderr}, nil
	case target == "stdin":
		// the payload already drained stdin
		return &passthroughStream{r: strings.NewReader("")}, nil
	case target == "memory", target == "temp", strings.HasPrefix(target, "temp/"):
		return &memStream{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownStream, name)
	}
}

// flushingWriter writes straight to stdout after draining buffered output,
// so bytes keep their order.
type flushingWriter struct {
	rt *Runtime
}

func (f *flushingWriter) Write(p []byte) (int, error) {
	if err := f.rt.out.Flush(); err != nil {
		return 0, err
	}
	return f.rt.stdout.Write(p)
}

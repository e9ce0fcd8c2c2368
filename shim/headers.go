package shim

import (
	"errors"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

var (
	// ErrHeadersSent is returned by every mutation once headers are sent.
	ErrHeadersSent = errors.New("cannot modify header information - headers already sent")
	// ErrInvalidHeader is returned for malformed header lines.
	ErrInvalidHeader = errors.New("invalid header")
)

// HeaderManager accumulates the response status and headers for one child
// process. It starts Open and moves to Sent exactly once, on the first
// explicit flush or when the script ends. After that every mutation is a
// logged no-op.
type HeaderManager struct {
	log       *zap.SugaredLogger
	headers   []string
	status    int
	statusSet bool
	sent      bool
}

// NewHeaderManager returns an Open manager with status 200.
func NewHeaderManager(log *zap.SugaredLogger) *HeaderManager {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &HeaderManager{log: log, status: 200, headers: []string{}}
}

// Header records a raw header line. With replace, earlier headers of the
// same name (case-insensitive) are dropped first; otherwise the line is
// appended. A status line ("HTTP/1.1 404 Not Found") sets the status and is
// not stored. A Location header promotes a default 200 to 302. A non-zero
// code forces the status.
func (m *HeaderManager) Header(line string, replace bool, code int) error {
	if m.sent {
		m.log.Warnw("Cannot modify header information - headers already sent", "header", line)
		return ErrHeadersSent
	}
	if strings.ContainsAny(line, "\r\n\x00") {
		m.log.Warnw("Header may not contain NUL bytes or more than a single header", "header", line)
		return ErrInvalidHeader
	}

	if len(line) >= 5 && strings.EqualFold(line[:5], "HTTP/") {
		status, ok := parseStatusLine(line)
		if !ok {
			m.log.Warnw("Invalid status line", "header", line)
			return ErrInvalidHeader
		}
		m.setStatus(status)
		if code > 0 {
			return m.applyCode(code)
		}
		return nil
	}

	idx := strings.IndexByte(line, ':')
	if idx <= 0 {
		m.log.Warnw("Header without a name", "header", line)
		return ErrInvalidHeader
	}
	name := line[:idx]
	if strings.ContainsAny(name, " \t\v\f") {
		m.log.Warnw("Header name may not contain whitespace", "header", line)
		return ErrInvalidHeader
	}
	value := strings.TrimSpace(line[idx+1:])

	if replace {
		m.remove(name)
	}
	m.headers = append(m.headers, name+": "+value)

	if strings.EqualFold(name, "Location") && !m.statusSet && code == 0 {
		m.status = 302
	}
	if code > 0 {
		return m.applyCode(code)
	}
	return nil
}

func (m *HeaderManager) applyCode(code int) error {
	if code < 100 || code > 599 {
		m.log.Warnw("Invalid response code", "code", code)
		return ErrInvalidHeader
	}
	m.setStatus(code)
	return nil
}

func (m *HeaderManager) setStatus(code int) {
	m.status = code
	m.statusSet = true
}

// ResponseCode returns the pending status. A non-zero code replaces it and
// the previous value is returned.
func (m *HeaderManager) ResponseCode(code int) (int, error) {
	prev := m.status
	if code == 0 {
		return prev, nil
	}
	if m.sent {
		m.log.Warnw("Cannot set response code - headers already sent", "code", code)
		return prev, ErrHeadersSent
	}
	if code < 100 || code > 599 {
		m.log.Warnw("Invalid response code", "code", code)
		return prev, ErrInvalidHeader
	}
	m.setStatus(code)
	return prev, nil
}

// Remove drops every header named name. An empty name removes all headers.
func (m *HeaderManager) Remove(name string) error {
	if m.sent {
		m.log.Warnw("Cannot remove header - headers already sent", "name", name)
		return ErrHeadersSent
	}
	if name == "" {
		m.headers = m.headers[:0]
		return nil
	}
	m.remove(name)
	return nil
}

func (m *HeaderManager) remove(name string) {
	kept := m.headers[:0]
	for _, h := range m.headers {
		if !strings.EqualFold(headerName(h), name) {
			kept = append(kept, h)
		}
	}
	m.headers = kept
}

// List returns the pending header lines in order.
func (m *HeaderManager) List() []string {
	return append([]string{}, m.headers...)
}

// Get returns the first value for name.
func (m *HeaderManager) Get(name string) (string, bool) {
	for _, h := range m.headers {
		if strings.EqualFold(headerName(h), name) {
			return strings.TrimSpace(h[len(headerName(h))+1:]), true
		}
	}
	return "", false
}

func (m *HeaderManager) Status() int { return m.status }

// StatusSet reports whether the status was set explicitly.
func (m *HeaderManager) StatusSet() bool { return m.statusSet }

func (m *HeaderManager) Sent() bool { return m.sent }

// MarkSent moves the manager to Sent. It is idempotent.
func (m *HeaderManager) MarkSent() { m.sent = true }

// force overrides status and content type regardless of state. Only the
// error hook uses it.
func (m *HeaderManager) force(status int, contentType string) {
	m.status = status
	m.statusSet = true
	m.remove("Content-Type")
	m.headers = append(m.headers, "Content-Type: "+contentType)
}

func headerName(line string) string {
	if idx := strings.IndexByte(line, ':'); idx >= 0 {
		return line[:idx]
	}
	return line
}

func parseStatusLine(line string) (int, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, false
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil || code < 100 || code > 599 {
		return 0, false
	}
	return code, true
}

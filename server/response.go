package server

import (
	"os"
	"strings"
	"time"

	"go-php-cli/protocol"
)

// Response is what the child produced. It is never mutated after it is
// returned; accessors hand out copies.
type Response struct {
	id           string
	status       int
	headers      []string
	content      []byte
	session      map[string]any
	trailerFound bool
	exitCode     int
	duration     time.Duration
	state        *os.ProcessState
	stderr       []byte
}

// parseResponse extracts the trailer from output. A missing or malformed
// trailer yields status 200, no headers and the raw output as content.
func parseResponse(id string, output []byte) *Response {
	trailer, content, ok := protocol.ExtractTrailer(output)
	return &Response{
		id:           id,
		status:       trailer.Status,
		headers:      trailer.Headers,
		content:      content,
		session:      trailer.Session,
		trailerFound: ok,
	}
}

// NewResponse builds a Response that did not come from a child process,
// for stub requesters.
func NewResponse(status int, headers []string, content []byte, session map[string]any) *Response {
	r := &Response{
		status:       status,
		headers:      append([]string(nil), headers...),
		content:      append([]byte(nil), content...),
		session:      map[string]any{},
		trailerFound: true,
	}
	for k, v := range session {
		r.session[k] = v
	}
	return r
}

func (r *Response) RequestID() string { return r.id }

func (r *Response) StatusCode() int { return r.status }

// Headers returns the raw header lines in the order the script set them.
func (r *Response) Headers() []string { return append([]string(nil), r.headers...) }

// Header returns the first value for name, matched case-insensitively.
func (r *Response) Header(name string) string {
	values := r.HeaderValues(name)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// HeaderValues returns every value for name in order.
func (r *Response) HeaderValues(name string) []string {
	var out []string
	for _, line := range r.headers {
		n, v, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(n), name) {
			continue
		}
		out = append(out, strings.TrimSpace(v))
	}
	return out
}

// Content is stdout with the trailer removed.
func (r *Response) Content() []byte { return append([]byte(nil), r.content...) }

func (r *Response) Session() map[string]any {
	out := make(map[string]any, len(r.session))
	for k, v := range r.session {
		out[k] = v
	}
	return out
}

// TrailerFound reports whether the child emitted a valid trailer.
func (r *Response) TrailerFound() bool { return r.trailerFound }

func (r *Response) ExitCode() int { return r.exitCode }

func (r *Response) Duration() time.Duration { return r.duration }

// Process is the child's final state, nil if it was never waited on.
func (r *Response) Process() *os.ProcessState { return r.state }

// Stderr is everything the child wrote to stderr.
func (r *Response) Stderr() []byte { return append([]byte(nil), r.stderr...) }

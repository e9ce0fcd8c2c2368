// Package protocol defines the two messages that cross the process boundary:
// the request payload the parent writes to the child's stdin, and the
// response trailer the child appends to its stdout.
package protocol

import "net/url"

// PayloadVersion is bumped on any incompatible change to RequestPayload.
const PayloadVersion = 1

// DefaultRequestOrder populates the combined request view from cookies,
// then query, then body.
const DefaultRequestOrder = "CGP"

// RequestPayload is everything the child needs to rebuild server-side
// request state. The raw body travels in its own frame.
type RequestPayload struct {
	Version      int                     `json:"version"`
	ID           string                  `json:"id"`
	Get          url.Values              `json:"get"`
	Post         url.Values              `json:"post"`
	Cookie       map[string]string       `json:"cookie"`
	Files        map[string]UploadedFile `json:"files"`
	Session      map[string]any          `json:"session"`
	Server       map[string]string       `json:"server"`
	RequestOrder string                  `json:"request_order"`
}

// UploadedFile describes one multipart upload materialized as a temp file.
type UploadedFile struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	TmpName string `json:"tmp_name"`
	Error   int    `json:"error"`
	Size    int64  `json:"size"`
}

// Request returns the combined parameter view for p.
func (p *RequestPayload) Request() url.Values {
	cookies := make(url.Values, len(p.Cookie))
	for k, v := range p.Cookie {
		cookies.Set(k, v)
	}
	return CombineParams(p.RequestOrder, p.Get, p.Post, cookies)
}

// CombineParams merges query, body and cookie parameters in the order given
// by order ('G', 'P', 'C', case-insensitive; other letters are ignored).
// A later source replaces keys set by an earlier one. An order with no
// recognised letters falls back to DefaultRequestOrder.
func CombineParams(order string, get, post, cookie url.Values) url.Values {
	sources := make([]url.Values, 0, 3)
	for _, c := range order {
		switch c {
		case 'G', 'g':
			sources = append(sources, get)
		case 'P', 'p':
			sources = append(sources, post)
		case 'C', 'c':
			sources = append(sources, cookie)
		}
	}
	if len(sources) == 0 && order != DefaultRequestOrder {
		return CombineParams(DefaultRequestOrder, get, post, cookie)
	}

	out := make(url.Values)
	for _, src := range sources {
		for k, vals := range src {
			out[k] = append([]string(nil), vals...)
		}
	}
	return out
}

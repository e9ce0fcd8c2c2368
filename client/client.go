// Package client implements the request and response shapes of three HTTP
// client libraries on top of a Requester: a curl handle, a PSR-style client
// with promises and a legacy blocking client.
//
// Every facade rejects protocol versions other than HTTP/1.0 and 1.1 before
// a child is spawned, strips Expect, sends an explicit zero Content-Length
// for empty PUT and POST bodies. Redirects are never followed: a 3xx
// response is handed back as the script produced it, and the translated
// limit only travels in the options.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"go-php-cli/failure"
	"go-php-cli/options"
	"go-php-cli/server"
)

// Requester executes one request. *server.Server satisfies it.
type Requester interface {
	Request(ctx context.Context, method, rawURL string, opts *options.Options) (*server.Response, error)
}

var _ Requester = (*server.Server)(nil)

// RequesterFunc adapts a function to Requester.
type RequesterFunc func(ctx context.Context, method, rawURL string, opts *options.Options) (*server.Response, error)

func (f RequesterFunc) Request(ctx context.Context, method, rawURL string, opts *options.Options) (*server.Response, error) {
	return f(ctx, method, rawURL, opts)
}

// exchange is the outcome of send: the response and the request that
// produced it.
type exchange struct {
	resp    *server.Response
	url     string
	version string
}

// CheckProtocolVersion accepts "", "1.0", "1.1" and their "HTTP/" forms.
func CheckProtocolVersion(v any) (string, error) {
	if v == nil {
		return "1.1", nil
	}
	s := strings.TrimPrefix(strings.TrimSpace(fmt.Sprint(v)), "HTTP/")
	switch s {
	case "", "1.1":
		return "1.1", nil
	case "1.0":
		return "1.0", nil
	default:
		return "", &failure.ProtocolVersionError{Version: s}
	}
}

// normalize strips Expect and adds Content-Length: 0 to bodiless PUT and
// POST requests.
func normalize(method string, o *options.Options) (*options.Options, error) {
	f := o.Fields()

	headers := f.Headers[:0]
	hasLength := false
	for _, h := range f.Headers {
		if strings.EqualFold(h.Name, "Expect") {
			continue
		}
		if strings.EqualFold(h.Name, "Content-Length") {
			hasLength = true
		}
		headers = append(headers, h)
	}
	f.Headers = headers

	if (method == http.MethodPut || method == http.MethodPost) && !hasLength && emptyBody(o) {
		f.Headers = append(f.Headers, options.Header{Name: "Content-Length", Value: "0"})
	}
	return options.New(f)
}

func emptyBody(o *options.Options) bool {
	switch o.BodyKind() {
	case options.BodyNone:
		return true
	case options.BodyRaw:
		return len(o.RawBody()) == 0
	default:
		return false
	}
}

// send checks the protocol version, normalizes the options and runs the
// request once. A redirect response is returned as is.
func send(ctx context.Context, r Requester, method, rawURL string, o *options.Options) (*exchange, error) {
	if o == nil {
		o = options.Empty()
	}
	pv, _ := o.Extra("protocol_version")
	version, err := CheckProtocolVersion(pv)
	if err != nil {
		return nil, err
	}

	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}

	o, err = normalize(method, o)
	if err != nil {
		return nil, err
	}

	resp, err := r.Request(ctx, method, rawURL, o)
	if err != nil {
		return nil, err
	}
	return &exchange{resp: resp, url: rawURL, version: version}, nil
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// redirectTarget resolves the Location of a redirect response against the
// request URL, or returns "" when resp is not a redirect.
func redirectTarget(ex *exchange) string {
	loc := ex.resp.Header("Location")
	if !isRedirect(ex.resp.StatusCode()) || loc == "" {
		return ""
	}
	b, err := url.Parse(ex.url)
	if err != nil {
		return ""
	}
	l, err := url.Parse(loc)
	if err != nil {
		return ""
	}
	return b.ResolveReference(l).String()
}

// headerFromLines parses "Name: value" lines into an http.Header, keeping
// repeated names in order.
func headerFromLines(lines []string) http.Header {
	h := make(http.Header, len(lines))
	for _, line := range lines {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		h.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	return h
}

// statusLine renders "HTTP/1.1 200 OK".
func statusLine(version string, status int) string {
	line := fmt.Sprintf("HTTP/%s %d", version, status)
	if text := http.StatusText(status); text != "" {
		line += " " + text
	}
	return line
}

// responseOf returns the degraded response carried by a process failure,
// if any.
func responseOf(err error) *server.Response {
	var pe *failure.ProcessError
	if !errors.As(err, &pe) {
		return nil
	}
	resp, _ := pe.Response.(*server.Response)
	return resp
}

func sortedNames(m map[string]any) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

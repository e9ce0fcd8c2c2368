package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go-php-cli/adapter"
	"go-php-cli/adapter/curl"
	"go-php-cli/failure"
)

// CURLE_* codes reported by Errno.
const (
	CurlOK                  = 0
	CurlUnsupportedProtocol = 1
	CurlURLMalformat        = 3
	CurlCouldntConnect      = 7
	CurlHTTPReturnedError   = 22
	CurlWriteError          = 23
	CurlOperationTimedOut   = 28
	CurlRecvError           = 56
	CurlBadContentEncoding  = 61
)

// CurlError is returned by Exec and mirrors what Errno and Error report.
type CurlError struct {
	Errno   int
	Message string
	Cause   error
}

func (e *CurlError) Error() string { return fmt.Sprintf("curl error %d: %s", e.Errno, e.Message) }

func (e *CurlError) Unwrap() error { return e.Cause }

// CurlInfo is what GetInfo reports after Exec.
type CurlInfo struct {
	EffectiveURL  string
	HTTPCode      int
	ContentType   string
	HeaderSize    int
	SizeDownload  int
	RedirectCount int
	RedirectURL   string
	TotalTime     time.Duration
	RequestID     string
	Session       map[string]any
}

// CurlHandle is a curl easy handle. Options accumulate with SetOpt until
// Exec runs the request.
type CurlHandle struct {
	req     Requester
	adapter *curl.Adapter
	url     string
	opts    map[string]any
	info    CurlInfo
	errno   int
	errmsg  string

	// Stdout receives the body when CURLOPT_RETURNTRANSFER is off and no
	// CURLOPT_FILE or CURLOPT_WRITEFUNCTION is set.
	Stdout io.Writer
}

// NewCurl returns a handle for rawURL, which may be empty and set later
// with CURLOPT_URL.
func NewCurl(req Requester, rawURL string) *CurlHandle {
	return &CurlHandle{
		req:     req,
		adapter: curl.New(),
		url:     rawURL,
		opts:    map[string]any{},
		Stdout:  os.Stdout,
	}
}

// SetOpt records one option. Names the adapter does not know fail at once.
func (h *CurlHandle) SetOpt(name string, value any) error {
	if !h.adapter.SupportsOption(name) {
		return &failure.UnsupportedFeatureError{Option: name, Adapter: h.adapter.Name()}
	}
	if name == "CURLOPT_URL" {
		s, ok := value.(string)
		if !ok {
			return failure.Construction("CURLOPT_URL", "must be a string, got %T", value)
		}
		h.url = s
	}
	h.opts[name] = value
	return nil
}

// SetOptArray sets options in order of name and stops at the first
// failure.
func (h *CurlHandle) SetOptArray(opts map[string]any) error {
	for _, name := range sortedNames(opts) {
		if err := h.SetOpt(name, opts[name]); err != nil {
			return err
		}
	}
	return nil
}

// Exec performs the request. With CURLOPT_RETURNTRANSFER the transfer is
// returned; otherwise it is written out and Exec returns nil, nil.
func (h *CurlHandle) Exec(ctx context.Context) ([]byte, error) {
	h.errno, h.errmsg = CurlOK, ""
	h.info = CurlInfo{}

	if h.url == "" {
		return nil, h.fail(CurlURLMalformat, "No URL set", nil)
	}

	o, err := h.adapter.Transform(h.opts)
	if err != nil {
		var pve *failure.ProtocolVersionError
		if errors.As(err, &pve) {
			return nil, h.fail(CurlUnsupportedProtocol, err.Error(), err)
		}
		return nil, err
	}

	method := curl.Method(h.opts)
	start := time.Now()
	ex, err := send(ctx, h.req, method, h.url, o)
	h.info.TotalTime = time.Since(start)
	if err != nil {
		return nil, h.processFailure(err)
	}

	resp := ex.resp
	headers, body := resp.Headers(), resp.Content()
	if decode, _ := o.Extra("decode_content"); adapter.ToBool(decode) {
		if headers, body, err = decodeResponse(headers, body); err != nil {
			return nil, h.fail(CurlBadContentEncoding, err.Error(), err)
		}
	}

	head := h.headerBlock(ex.version, resp.StatusCode(), headers)
	h.info = CurlInfo{
		EffectiveURL:  ex.url,
		HTTPCode:      resp.StatusCode(),
		ContentType:   headerValue(headers, "Content-Type"),
		HeaderSize:    len(head),
		SizeDownload:  len(body),
		RedirectURL:   redirectTarget(ex),
		TotalTime:     h.info.TotalTime,
		RequestID:     resp.RequestID(),
		Session:       resp.Session(),
	}

	if adapter.ToBool(h.opts["CURLOPT_FAILONERROR"]) && resp.StatusCode() >= 400 {
		return nil, h.fail(CurlHTTPReturnedError, fmt.Sprintf("The requested URL returned error: %d", resp.StatusCode()), nil)
	}

	if fn, ok := h.opts["CURLOPT_HEADERFUNCTION"].(func(line string) int); ok {
		for _, line := range strings.SplitAfter(head, "\r\n") {
			if line == "" {
				continue
			}
			if fn(line) != len(line) {
				return nil, h.fail(CurlWriteError, "Failed writing header", nil)
			}
		}
	}

	out := body
	if adapter.ToBool(h.opts["CURLOPT_HEADER"]) {
		out = append([]byte(head), body...)
	}

	if adapter.ToBool(h.opts["CURLOPT_RETURNTRANSFER"]) {
		return out, nil
	}

	sink := any(h.Stdout)
	if fn, ok := h.opts["CURLOPT_WRITEFUNCTION"]; ok && fn != nil {
		sink = fn
	} else if w, ok := h.opts["CURLOPT_FILE"]; ok && w != nil {
		sink = w
	}
	if err := drain(sink, out); err != nil {
		return nil, h.fail(CurlWriteError, "Failed writing body", err)
	}
	return nil, nil
}

// headerBlock renders the status line and header lines as curl hands them
// to CURLOPT_HEADER and CURLOPT_HEADERFUNCTION.
func (h *CurlHandle) headerBlock(version string, status int, headers []string) string {
	var b strings.Builder
	b.WriteString(statusLine(version, status))
	b.WriteString("\r\n")
	for _, line := range headers {
		b.WriteString(line)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return b.String()
}

func (h *CurlHandle) processFailure(err error) error {
	var pe *failure.ProcessError
	if !errors.As(err, &pe) {
		var pve *failure.ProtocolVersionError
		if errors.As(err, &pve) {
			return h.fail(CurlUnsupportedProtocol, err.Error(), err)
		}
		return err
	}
	if resp := responseOf(err); resp != nil {
		h.info.HTTPCode = resp.StatusCode()
		h.info.RequestID = resp.RequestID()
	}
	switch pe.Kind {
	case failure.KindSpawn:
		return h.fail(CurlCouldntConnect, err.Error(), err)
	case failure.KindTimeout, failure.KindIdleTimeout:
		return h.fail(CurlOperationTimedOut, fmt.Sprintf("Operation timed out after %d milliseconds", h.info.TotalTime.Milliseconds()), err)
	default:
		return h.fail(CurlRecvError, err.Error(), err)
	}
}

func (h *CurlHandle) fail(errno int, msg string, cause error) error {
	h.errno, h.errmsg = errno, msg
	return &CurlError{Errno: errno, Message: msg, Cause: cause}
}

// GetInfo reports on the last Exec.
func (h *CurlHandle) GetInfo() CurlInfo {
	info := h.info
	if info.Session != nil {
		info.Session = copySession(info.Session)
	}
	return info
}

// Error is the last error message, "" after a successful Exec.
func (h *CurlHandle) Error() string { return h.errmsg }

// Errno is the last CURLE_* code.
func (h *CurlHandle) Errno() int { return h.errno }

// Reset clears every option, the URL and the last result.
func (h *CurlHandle) Reset() {
	h.url = ""
	h.opts = map[string]any{}
	h.info = CurlInfo{}
	h.errno, h.errmsg = CurlOK, ""
}

func headerValue(lines []string, name string) string {
	for _, line := range lines {
		n, v, ok := strings.Cut(line, ":")
		if ok && strings.EqualFold(strings.TrimSpace(n), name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func copySession(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

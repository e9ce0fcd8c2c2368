package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go-php-cli/adapter"
	"go-php-cli/adapter/psr"
	"go-php-cli/failure"
	"go-php-cli/options"
)

// PSRResponse is an http.Response plus what the script left behind.
type PSRResponse struct {
	*http.Response

	RequestID string
	Session   map[string]any
}

// BadResponseError is returned for 4xx and 5xx responses while
// http_errors is on.
type BadResponseError struct {
	Request  *http.Request
	Response *PSRResponse
}

func (e *BadResponseError) Error() string {
	kind := "Server"
	if e.Response.StatusCode < 500 {
		kind = "Client"
	}
	return fmt.Sprintf("%s error: `%s %s` resulted in a `%s` response",
		kind, e.Request.Method, e.Request.URL, e.Response.Status)
}

// TransferStats is passed to an on_stats callback.
type TransferStats struct {
	Request  *http.Request
	Response *PSRResponse
	Duration time.Duration
	Err      error
}

// PSRClient sends *http.Request values through a Requester, honouring
// Guzzle-style request options.
type PSRClient struct {
	req      Requester
	adapter  *psr.Adapter
	defaults map[string]any
}

// NewPSRClient returns a client whose defaults are merged under every
// request's options.
func NewPSRClient(req Requester, defaults map[string]any) *PSRClient {
	d := make(map[string]any, len(defaults))
	for k, v := range defaults {
		d[k] = v
	}
	return &PSRClient{req: req, adapter: psr.New(), defaults: d}
}

// Request builds a request from method and uri and sends it.
func (c *PSRClient) Request(ctx context.Context, method, uri string, opts map[string]any) (*PSRResponse, error) {
	r, err := http.NewRequestWithContext(ctx, method, uri, nil)
	if err != nil {
		return nil, failure.Construction("uri", "%v", err)
	}
	return c.Send(r, opts)
}

// Send transfers r synchronously.
func (c *PSRClient) Send(r *http.Request, opts map[string]any) (*PSRResponse, error) {
	return c.SendAsync(r, opts).Wait()
}

// SendAsync returns a Promise for r. Nothing runs until the promise, or
// one chained from it, is waited on.
func (c *PSRClient) SendAsync(r *http.Request, opts map[string]any) *Promise {
	return newPromise(func() (*PSRResponse, error) {
		return c.transfer(r, opts)
	})
}

func (c *PSRClient) transfer(r *http.Request, opts map[string]any) (*PSRResponse, error) {
	merged := make(map[string]any, len(c.defaults)+len(opts))
	for k, v := range c.defaults {
		merged[k] = v
	}
	for k, v := range opts {
		merged[k] = v
	}

	if _, ok := merged["version"]; !ok && r.ProtoMajor != 0 {
		merged["version"] = fmt.Sprintf("%d.%d", r.ProtoMajor, r.ProtoMinor)
	}

	o, err := c.adapter.Transform(merged)
	if err != nil {
		return nil, err
	}
	if o, err = mergeRequest(r, o); err != nil {
		return nil, err
	}

	target, err := resolveBase(merged["base_uri"], r.URL)
	if err != nil {
		return nil, err
	}

	ctx := r.Context()
	if d, ok := merged["delay"]; ok && d != nil {
		if err := sleep(ctx, d); err != nil {
			return nil, err
		}
	}

	req := c.req
	if h, ok := merged["handler"].(Requester); ok {
		req = h
	}

	start := time.Now()
	ex, err := send(ctx, req, r.Method, target, o)
	if err != nil {
		report(merged["on_stats"], TransferStats{Request: r, Duration: time.Since(start), Err: err})
		return nil, err
	}

	headers, body := ex.resp.Headers(), ex.resp.Content()
	if decodeRequested(merged["decode_content"]) {
		if headers, body, err = decodeResponse(headers, body); err != nil {
			return nil, err
		}
	}

	if sink, ok := merged["sink"]; ok && sink != nil {
		if err := drain(sink, body); err != nil {
			return nil, fmt.Errorf("writing to sink: %w", err)
		}
	}

	resp := c.response(r, ex, headers, body)
	report(merged["on_stats"], TransferStats{Request: r, Response: resp, Duration: time.Since(start)})

	httpErrors := true
	if v, ok := merged["http_errors"]; ok {
		httpErrors = adapter.ToBool(v)
	}
	if httpErrors && resp.StatusCode >= 400 {
		return nil, &BadResponseError{Request: r, Response: resp}
	}
	return resp, nil
}

func (c *PSRClient) response(r *http.Request, ex *exchange, headers []string, body []byte) *PSRResponse {
	status := ex.resp.StatusCode()
	major, minor := 1, 1
	if ex.version == "1.0" {
		minor = 0
	}
	return &PSRResponse{
		Response: &http.Response{
			Status:        strconv.Itoa(status) + " " + http.StatusText(status),
			StatusCode:    status,
			Proto:         "HTTP/" + ex.version,
			ProtoMajor:    major,
			ProtoMinor:    minor,
			Header:        headerFromLines(headers),
			Body:          io.NopCloser(bytes.NewReader(body)),
			ContentLength: int64(len(body)),
			Request:       r,
		},
		RequestID: ex.resp.RequestID(),
		Session:   ex.resp.Session(),
	}
}

// mergeRequest folds r's headers and body into o. Option headers win over
// request headers of the same name; an option body wins over r.Body.
func mergeRequest(r *http.Request, o *options.Options) (*options.Options, error) {
	f := o.Fields()

	var fromRequest adapter.HeaderSet
	for _, name := range sortedHeaderNames(r.Header) {
		if _, ok := o.Header(name); ok {
			continue
		}
		for _, v := range r.Header[name] {
			fromRequest.Add(name, v)
		}
	}
	f.Headers = append(fromRequest.Headers, f.Headers...)
	for k, v := range fromRequest.Cookies {
		if f.Cookies == nil {
			f.Cookies = map[string]string{}
		}
		if _, ok := f.Cookies[k]; !ok {
			f.Cookies[k] = v
		}
	}

	if o.BodyKind() == options.BodyNone && r.Body != nil && r.Body != http.NoBody {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, fmt.Errorf("reading request body: %w", err)
		}
		_ = r.Body.Close()
		f.RawBody = data
	}
	return options.New(f)
}

func resolveBase(base any, u *url.URL) (string, error) {
	if base == nil || u.IsAbs() {
		return u.String(), nil
	}
	s, err := adapter.Stringify(base)
	if err != nil {
		return "", failure.Construction("base_uri", "%v", err)
	}
	b, err := url.Parse(s)
	if err != nil {
		return "", failure.Construction("base_uri", "%v", err)
	}
	return b.ResolveReference(u).String(), nil
}

// sleep waits for a delay given in milliseconds.
func sleep(ctx context.Context, v any) error {
	ms, err := adapter.ToInt(v)
	if err != nil {
		return failure.Construction("delay", "%v", err)
	}
	if ms <= 0 {
		return nil
	}
	t := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func decodeRequested(v any) bool {
	if s, ok := v.(string); ok {
		return s != ""
	}
	return adapter.ToBool(v)
}

func report(cb any, stats TransferStats) {
	if fn, ok := cb.(func(TransferStats)); ok {
		fn(stats)
	}
}

func sortedHeaderNames(h http.Header) []string {
	m := make(map[string]any, len(h))
	for k := range h {
		m[k] = nil
	}
	return sortedNames(m)
}

// Promise is a lazily settled result. Wait runs the work once; Then chains
// further work that runs when the chained promise is waited on.
type Promise struct {
	mu      sync.Mutex
	run     func() (*PSRResponse, error)
	settled bool
	resp    *PSRResponse
	err     error
}

func newPromise(run func() (*PSRResponse, error)) *Promise {
	return &Promise{run: run}
}

// Wait settles the promise if needed and returns its result.
func (p *Promise) Wait() (*PSRResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.settled {
		p.resp, p.err = p.run()
		p.settled = true
	}
	return p.resp, p.err
}

// State is "pending", "fulfilled" or "rejected".
func (p *Promise) State() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case !p.settled:
		return "pending"
	case p.err != nil:
		return "rejected"
	default:
		return "fulfilled"
	}
}

// Then returns a promise that settles with onFulfilled or onRejected
// applied to p's result. A nil callback passes the result through.
func (p *Promise) Then(onFulfilled func(*PSRResponse) (*PSRResponse, error), onRejected func(error) (*PSRResponse, error)) *Promise {
	return newPromise(func() (*PSRResponse, error) {
		resp, err := p.Wait()
		if err != nil {
			if onRejected == nil {
				return nil, err
			}
			return onRejected(err)
		}
		if onFulfilled == nil {
			return resp, nil
		}
		return onFulfilled(resp)
	})
}

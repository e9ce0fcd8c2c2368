package client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-php-cli/failure"
	"go-php-cli/server"
)

func readBody(t *testing.T, resp *PSRResponse) string {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

func TestPSRSend(t *testing.T) {
	s := &stub{respond: func(call) (*server.Response, error) {
		return server.NewResponse(200, []string{"Content-Type: application/json", "Set-Cookie: a=1", "Set-Cookie: b=2"}, []byte(`{"ok":true}`), map[string]any{"n": 1.0}), nil
	}}
	c := NewPSRClient(s, map[string]any{"headers": map[string]string{"X-Default": "d"}})

	r, err := http.NewRequest(http.MethodPost, "http://example.com/api", strings.NewReader("payload"))
	require.NoError(t, err)
	r.Header.Set("X-Request", "r")

	resp, err := c.Send(r, map[string]any{"query": "a=1"})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "200 OK", resp.Status)
	assert.Equal(t, "HTTP/1.1", resp.Proto)
	assert.Equal(t, []string{"a=1", "b=2"}, resp.Header.Values("Set-Cookie"))
	assert.Equal(t, `{"ok":true}`, readBody(t, resp))
	assert.Equal(t, 1.0, resp.Session["n"])

	require.Len(t, s.calls, 1)
	sent := s.calls[0].opts
	assert.Equal(t, "payload", string(sent.RawBody()))
	assert.Equal(t, "1", sent.Query().Get("a"))
	v, _ := sent.Header("X-Request")
	assert.Equal(t, "r", v)
	v, _ = sent.Header("X-Default")
	assert.Equal(t, "d", v)
}

func TestPSRHTTPErrors(t *testing.T) {
	c := NewPSRClient(respondWith(404, nil, "missing"), nil)

	_, err := c.Request(context.Background(), "GET", "http://example.com/x", nil)
	var bre *BadResponseError
	require.True(t, errors.As(err, &bre))
	assert.Equal(t, 404, bre.Response.StatusCode)
	assert.Contains(t, bre.Error(), "Client error")

	resp, err := c.Request(context.Background(), "GET", "http://example.com/x", map[string]any{"http_errors": false})
	require.NoError(t, err)
	assert.Equal(t, "missing", readBody(t, resp))
}

func TestPSRSendAsyncIsLazy(t *testing.T) {
	s := &stub{}
	c := NewPSRClient(s, nil)
	r, err := http.NewRequest(http.MethodGet, "http://example.com/", nil)
	require.NoError(t, err)

	p := c.SendAsync(r, nil)
	chained := p.Then(func(resp *PSRResponse) (*PSRResponse, error) {
		resp.Header.Set("X-Seen", "yes")
		return resp, nil
	}, nil)

	assert.Empty(t, s.calls)
	assert.Equal(t, "pending", p.State())

	resp, err := chained.Wait()
	require.NoError(t, err)
	assert.Equal(t, "yes", resp.Header.Get("X-Seen"))
	assert.Equal(t, "fulfilled", p.State())
	assert.Len(t, s.calls, 1)

	_, _ = p.Wait()
	assert.Len(t, s.calls, 1)
}

func TestPSRPromiseRejection(t *testing.T) {
	c := NewPSRClient(respondWith(500, nil, ""), nil)
	r, err := http.NewRequest(http.MethodGet, "http://example.com/", nil)
	require.NoError(t, err)

	p := c.SendAsync(r, nil)
	recovered := p.Then(nil, func(err error) (*PSRResponse, error) {
		var bre *BadResponseError
		if errors.As(err, &bre) {
			return bre.Response, nil
		}
		return nil, err
	})

	resp, err := recovered.Wait()
	require.NoError(t, err)
	assert.Equal(t, 500, resp.StatusCode)
	assert.Equal(t, "rejected", p.State())
}

func TestPSRDelayRunsBeforeRequest(t *testing.T) {
	c := NewPSRClient(&stub{}, nil)
	start := time.Now()
	_, err := c.Request(context.Background(), "GET", "http://example.com/", map[string]any{"delay": 30})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestPSRBaseURI(t *testing.T) {
	s := &stub{}
	c := NewPSRClient(s, map[string]any{"base_uri": "http://example.com/api/"})
	_, err := c.Request(context.Background(), "GET", "users?id=1", nil)
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/api/users?id=1", s.calls[0].url)
}

func TestPSRDecodeAndSink(t *testing.T) {
	body := zlibbed(t, "inflated")
	c := NewPSRClient(respondWith(200, []string{"Content-Encoding: deflate"}, body), nil)

	var sink bytes.Buffer
	resp, err := c.Request(context.Background(), "GET", "http://example.com/", map[string]any{
		"decode_content": true,
		"sink":           &sink,
	})
	require.NoError(t, err)
	assert.Equal(t, "inflated", readBody(t, resp))
	assert.Equal(t, "inflated", sink.String())
	assert.Empty(t, resp.Header.Get("Content-Encoding"))

	resp, err = c.Request(context.Background(), "GET", "http://example.com/", nil)
	require.NoError(t, err)
	assert.Equal(t, body, readBody(t, resp))
	assert.Equal(t, "deflate", resp.Header.Get("Content-Encoding"))
}

func TestPSRUnsupportedEncodingPassesThrough(t *testing.T) {
	c := NewPSRClient(respondWith(200, []string{"Content-Encoding: br"}, "brotli"), nil)
	resp, err := c.Request(context.Background(), "GET", "http://example.com/", map[string]any{"decode_content": true})
	require.NoError(t, err)
	assert.Equal(t, "brotli", readBody(t, resp))
	assert.Equal(t, "br", resp.Header.Get("Content-Encoding"))
}

func TestPSRRejectsHTTP2(t *testing.T) {
	s := &stub{}
	c := NewPSRClient(s, nil)
	r, err := http.NewRequest(http.MethodGet, "http://example.com/", nil)
	require.NoError(t, err)
	r.ProtoMajor, r.ProtoMinor = 2, 0

	_, err = c.Send(r, nil)
	assert.ErrorIs(t, err, failure.ErrProtocolVersion)
	assert.Empty(t, s.calls)

	_, err = c.Request(context.Background(), "GET", "http://example.com/", map[string]any{"version": "1.0"})
	require.NoError(t, err)
	assert.Len(t, s.calls, 1)
}

func TestPSRHandlerAndStats(t *testing.T) {
	fallback := &stub{}
	handler := respondWith(202, nil, "from handler")
	c := NewPSRClient(fallback, nil)

	var stats TransferStats
	resp, err := c.Request(context.Background(), "GET", "http://example.com/", map[string]any{
		"handler":  handler,
		"on_stats": func(s TransferStats) { stats = s },
	})
	require.NoError(t, err)
	assert.Equal(t, 202, resp.StatusCode)
	assert.Empty(t, fallback.calls)
	assert.Len(t, handler.calls, 1)
	require.NotNil(t, stats.Response)
	assert.Equal(t, 202, stats.Response.StatusCode)
}

func TestPSRUnknownOption(t *testing.T) {
	c := NewPSRClient(&stub{}, nil)
	_, err := c.Request(context.Background(), "GET", "http://example.com/", map[string]any{"retries": 3})
	assert.ErrorIs(t, err, failure.ErrUnsupportedFeature)
}

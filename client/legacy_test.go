package client

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-php-cli/failure"
)

func TestLegacyRequest(t *testing.T) {
	s := respondWith(200, []string{"Content-Type: text/html", "Set-Cookie: sid=abc; Path=/"}, "<p>hi</p>")
	c := NewLegacyClient(s)

	resp, err := c.Request(context.Background(), "http://example.com/page", map[string]string{"Accept": "text/html"}, map[string]any{"q": "go"}, "get", nil)
	require.NoError(t, err)

	assert.Equal(t, "<p>hi</p>", resp.Body)
	assert.Equal(t, 200, resp.StatusCode)
	assert.True(t, resp.Success)
	assert.Equal(t, 1.1, resp.ProtocolVersion)
	assert.Equal(t, "text/html", resp.Headers.Get("content-type"))
	assert.Equal(t, "HTTP/1.1 200 OK\r\nContent-Type: text/html\r\nSet-Cookie: sid=abc; Path=/", resp.RawHeaders)
	assert.Equal(t, map[string]string{"sid": "abc"}, resp.Cookies)
	assert.Equal(t, "http://example.com/page", resp.URL)
	assert.NoError(t, resp.ThrowForStatus(true))

	require.Len(t, s.calls, 1)
	assert.Equal(t, "GET", s.calls[0].method)
	assert.Equal(t, "go", s.calls[0].opts.Query().Get("q"))
}

func TestLegacyPostEmptyBodyGetsContentLength(t *testing.T) {
	s := &stub{}
	c := NewLegacyClient(s)
	_, err := c.Request(context.Background(), "http://example.com/", nil, nil, "POST", nil)
	require.NoError(t, err)

	v, ok := s.calls[0].opts.Header("Content-Length")
	require.True(t, ok)
	assert.Equal(t, "0", v)
}

func TestLegacyThrowForStatus(t *testing.T) {
	c := NewLegacyClient(respondWith(503, nil, ""))
	resp, err := c.Request(context.Background(), "http://example.com/", nil, nil, "GET", nil)
	require.NoError(t, err)
	assert.False(t, resp.Success)

	var se *HTTPStatusError
	require.True(t, errors.As(resp.ThrowForStatus(true), &se))
	assert.Equal(t, 503, se.StatusCode)
	assert.Equal(t, "503 Service Unavailable", se.Error())

	c = NewLegacyClient(respondWith(302, []string{"Location: /elsewhere"}, ""))
	resp, err = c.Request(context.Background(), "http://example.com/", nil, nil, "GET", map[string]any{"follow_redirects": false})
	require.NoError(t, err)
	assert.True(t, resp.IsRedirect())
	assert.NoError(t, resp.ThrowForStatus(true))
	assert.Error(t, resp.ThrowForStatus(false))
}

func TestLegacyMaxBytesAndFilename(t *testing.T) {
	c := NewLegacyClient(respondWith(200, nil, "0123456789"))
	resp, err := c.Request(context.Background(), "http://example.com/", nil, nil, "GET", map[string]any{"max_bytes": 4})
	require.NoError(t, err)
	assert.Equal(t, "0123", resp.Body)

	path := filepath.Join(t.TempDir(), "download.bin")
	resp, err = c.Request(context.Background(), "http://example.com/", nil, nil, "GET", map[string]any{"filename": path})
	require.NoError(t, err)
	assert.Empty(t, resp.Body)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))
}

func TestLegacyProtocolVersion(t *testing.T) {
	s := &stub{}
	c := NewLegacyClient(s)

	resp, err := c.Request(context.Background(), "http://example.com/", nil, nil, "GET", map[string]any{"protocol_version": 1.0})
	require.NoError(t, err)
	assert.Equal(t, 1.0, resp.ProtocolVersion)
	pv, _ := s.calls[0].opts.Extra("protocol_version")
	assert.Equal(t, "1.0", pv)

	_, err = c.Request(context.Background(), "http://example.com/", nil, nil, "GET", map[string]any{"protocol_version": 2.0})
	assert.ErrorIs(t, err, failure.ErrProtocolVersion)
	assert.Len(t, s.calls, 1)
}

func TestLegacyDecodesWhenAcceptEncodingSent(t *testing.T) {
	body := gzipped(t, "unzipped")
	c := NewLegacyClient(respondWith(200, []string{"Content-Encoding: gzip"}, body))

	resp, err := c.Request(context.Background(), "http://example.com/", map[string]string{"Accept-Encoding": "gzip"}, nil, "GET", nil)
	require.NoError(t, err)
	assert.Equal(t, "unzipped", resp.Body)

	resp, err = c.Request(context.Background(), "http://example.com/", nil, nil, "GET", nil)
	require.NoError(t, err)
	assert.Equal(t, body, resp.Body)
}

func TestLegacyAfterRequestHook(t *testing.T) {
	c := NewLegacyClient(&stub{})
	var seen *LegacyResponse
	hooks := map[string]AfterRequestHook{"requests.after_request": func(r *LegacyResponse) { seen = r }}

	resp, err := c.Request(context.Background(), "http://example.com/", nil, nil, "GET", map[string]any{"hooks": hooks})
	require.NoError(t, err)
	assert.Same(t, resp, seen)
}

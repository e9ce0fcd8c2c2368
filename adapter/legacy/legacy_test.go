package legacy

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-php-cli/adapter"
	"go-php-cli/failure"
	"go-php-cli/options"
)

var _ adapter.Adapter = (*Adapter)(nil)

func TestClosedWorld(t *testing.T) {
	a := New()
	for _, name := range a.SupportedOptions() {
		assert.True(t, a.SupportsOption(name), name)
	}

	_, err := a.Transform(map[string]any{"max_retries": 2})
	var ufe *failure.UnsupportedFeatureError
	require.True(t, errors.As(err, &ufe))
	assert.Equal(t, "max_retries", ufe.Option)
	assert.Equal(t, "legacy", ufe.Adapter)
}

func TestDataPlacement(t *testing.T) {
	tests := []struct {
		name      string
		opts      map[string]any
		wantKind  options.BodyKind
		wantQuery string
	}{
		{"get mapping goes to query", map[string]any{"type": "GET", "data": map[string]any{"a": "1"}}, options.BodyNone, "1"},
		{"default method is get", map[string]any{"data": map[string]any{"a": "1"}}, options.BodyNone, "1"},
		{"post mapping is a form", map[string]any{"type": "POST", "data": map[string]any{"a": "1"}}, options.BodyForm, ""},
		{"data_format wins", map[string]any{"type": "POST", "data_format": "query", "data": map[string]any{"a": "1"}}, options.BodyNone, "1"},
		{"delete string is a query", map[string]any{"type": "delete", "data": "a=1"}, options.BodyNone, "1"},
		{"put string is raw", map[string]any{"type": "PUT", "data": "a=1"}, options.BodyRaw, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			o, err := New().Transform(tc.opts)
			require.NoError(t, err)
			assert.Equal(t, tc.wantKind, o.BodyKind())
			assert.Equal(t, tc.wantQuery, o.Query().Get("a"))
		})
	}
}

func TestRedirects(t *testing.T) {
	tests := []struct {
		name string
		opts map[string]any
		want int
	}{
		{"follow", map[string]any{"follow_redirects": true}, DefaultMaxRedirects},
		{"no follow", map[string]any{"follow_redirects": false, "redirects": 4}, 0},
		{"count", map[string]any{"redirects": 4}, 4},
		{"structured", map[string]any{"follow_redirects": true, "redirects": map[string]any{"max": 2}}, 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			o, err := New().Transform(tc.opts)
			require.NoError(t, err)
			n, ok := o.MaxRedirects()
			require.True(t, ok)
			assert.Equal(t, tc.want, n)
		})
	}
}

func TestScalarOptions(t *testing.T) {
	o, err := New().Transform(map[string]any{
		"timeout":          2.5,
		"useragent":        "legacy/1.0",
		"auth":             []any{"user", "pass"},
		"headers":          map[string]string{"Cookie": "a=1", "Accept": "*/*"},
		"cookies":          map[string]any{"b": 2},
		"protocol_version": 1.0,
		"filename":         "/tmp/out",
		"verify":           false,
	})
	require.NoError(t, err)

	d, _ := o.Timeout()
	assert.Equal(t, 2500*time.Millisecond, d)
	assert.Equal(t, "legacy/1.0", o.UserAgent())
	a, ok := o.BasicAuth()
	require.True(t, ok)
	assert.Equal(t, "user", a.Username)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, o.Cookies())
	v, _ := o.Extra("protocol_version")
	assert.Equal(t, "1.0", v)
	v, _ = o.Extra("filename")
	assert.Equal(t, "/tmp/out", v)
	_, ok = o.Extra("verify")
	assert.False(t, ok)
}

func TestStreamDataMarker(t *testing.T) {
	fn := func() []byte { return nil }
	o, err := New().Transform(map[string]any{"type": "POST", "data": fn})
	require.NoError(t, err)
	assert.JSONEq(t, `{"stream_body":"func() []uint8"}`, string(o.RawBody()))
	_, ok := o.Extra("data")
	assert.True(t, ok)
}

package shim

import (
	"bytes"
	"errors"
	"io"
	"net/url"
	"strings"
	"testing"

	"go-php-cli/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runResult struct {
	code    int
	trailer *protocol.Trailer
	body    string
	found   bool
	stderr  string
}

func runScript(t *testing.T, p *protocol.RequestPayload, body string, args []string, script Script) runResult {
	t.Helper()
	stdin, err := protocol.MarshalPayload(p, []byte(body))
	require.NoError(t, err)

	var stdout, stderr bytes.Buffer
	code := Run(args, bytes.NewReader(stdin), &stdout, &stderr, script)
	tr, content, ok := protocol.ExtractTrailer(stdout.Bytes())
	return runResult{code: code, trailer: tr, body: string(content), found: ok, stderr: stderr.String()}
}

func TestRunEchoQuery(t *testing.T) {
	res := runScript(t, &protocol.RequestPayload{Get: url.Values{"x": {"hello"}}}, "", nil, func(rt *Runtime) error {
		rt.Echo(rt.Get.Get("x"))
		return nil
	})

	assert.Equal(t, 0, res.code)
	require.True(t, res.found)
	assert.Equal(t, "hello", res.body)
	assert.Equal(t, 200, res.trailer.Status)
	assert.Empty(t, res.trailer.Headers)
}

func TestRunStatusAndHeaders(t *testing.T) {
	res := runScript(t, &protocol.RequestPayload{}, "", nil, func(rt *Runtime) error {
		_, _ = rt.ResponseCode(404)
		_ = rt.Header("Set-Cookie: a=1", false, 0)
		_ = rt.Header("Set-Cookie: b=2", false, 0)
		rt.Echo("nope")
		return nil
	})

	require.True(t, res.found)
	assert.Equal(t, 404, res.trailer.Status)
	assert.Equal(t, "nope", res.body)
	assert.Equal(t, []string{"Set-Cookie: a=1", "Set-Cookie: b=2"}, res.trailer.Headers)
}

func TestRunEmptyStdinIsFatal(t *testing.T) {
	var stdout, stderr bytes.Buffer
	ran := false
	code := Run(nil, strings.NewReader(""), &stdout, &stderr, func(rt *Runtime) error {
		ran = true
		return nil
	})
	assert.Equal(t, 1, code)
	assert.False(t, ran)
	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "no request payload")
}

func TestRunMalformedPayloadIsFatal(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run(nil, strings.NewReader("\x00\x00\x00\x03abc"), &stdout, &stderr, func(rt *Runtime) error {
		t.Fatal("script must not run")
		return nil
	})
	assert.Equal(t, 1, code)
	assert.Empty(t, stdout.String())
}

func TestRunErrorBecomes500(t *testing.T) {
	res := runScript(t, &protocol.RequestPayload{}, "", nil, func(rt *Runtime) error {
		rt.Echo("partial ")
		_ = rt.Header("Content-Type: text/html", true, 0)
		return errors.New("database is down")
	})

	assert.Equal(t, 255, res.code)
	require.True(t, res.found)
	assert.Equal(t, 500, res.trailer.Status)
	assert.Equal(t, []string{"Content-Type: text/plain; charset=UTF-8"}, res.trailer.Headers)
	assert.True(t, strings.HasPrefix(res.body, "partial "))
	assert.Contains(t, res.body, "database is down")
}

func TestRunPanicBecomes500(t *testing.T) {
	res := runScript(t, &protocol.RequestPayload{}, "", nil, func(rt *Runtime) error {
		panic("boom")
	})
	require.True(t, res.found)
	assert.Equal(t, 500, res.trailer.Status)
	assert.Contains(t, res.body, "boom")
}

func TestRunErrorKeepsExplicitStatus(t *testing.T) {
	res := runScript(t, &protocol.RequestPayload{}, "", nil, func(rt *Runtime) error {
		_, _ = rt.ResponseCode(418)
		return errors.New("teapot")
	})
	require.True(t, res.found)
	assert.Equal(t, 418, res.trailer.Status)
}

func TestRunExitStillWritesTrailer(t *testing.T) {
	res := runScript(t, &protocol.RequestPayload{}, "", nil, func(rt *Runtime) error {
		rt.Echo("bye")
		_, _ = rt.ResponseCode(403)
		rt.Exit(3)
		rt.Echo("unreachable")
		return nil
	})
	assert.Equal(t, 3, res.code)
	require.True(t, res.found)
	assert.Equal(t, "bye", res.body)
	assert.Equal(t, 403, res.trailer.Status)
}

func TestRunHeadersAfterFlushAreRejected(t *testing.T) {
	res := runScript(t, &protocol.RequestPayload{}, "", nil, func(rt *Runtime) error {
		_ = rt.Header("X-Early: 1", true, 0)
		rt.Echo("flushed")
		require.NoError(t, rt.Flush())
		assert.ErrorIs(t, rt.Header("X-Late: 1", true, 0), ErrHeadersSent)
		assert.True(t, rt.HeadersSent())
		return nil
	})
	require.True(t, res.found)
	assert.Equal(t, []string{"X-Early: 1"}, res.trailer.Headers)
	assert.Equal(t, "flushed", res.body)
	assert.Contains(t, res.stderr, "headers already sent")
}

func TestRunSession(t *testing.T) {
	p := &protocol.RequestPayload{Session: map[string]any{"count": "1"}}
	res := runScript(t, p, "", []string{"-d", "session.name=SID", "index.php"}, func(rt *Runtime) error {
		assert.Nil(t, rt.Session())
		data, err := rt.SessionStart()
		require.NoError(t, err)
		assert.Equal(t, "1", data["count"])
		data["count"] = "2"
		data["user"] = "bob"
		return nil
	})

	require.True(t, res.found)
	assert.Equal(t, map[string]any{"count": "2", "user": "bob"}, res.trailer.Session)
	require.Len(t, res.trailer.Headers, 1)
	assert.True(t, strings.HasPrefix(res.trailer.Headers[0], "Set-Cookie: SID="))
}

func TestRunSessionReusesCookieID(t *testing.T) {
	p := &protocol.RequestPayload{Cookie: map[string]string{DefaultSessionName: "abc123"}}
	res := runScript(t, p, "", nil, func(rt *Runtime) error {
		_, err := rt.SessionStart()
		require.NoError(t, err)
		assert.Equal(t, "abc123", rt.SessionID())
		return nil
	})
	assert.Equal(t, []string{"Set-Cookie: PHPSESSID=abc123; path=/"}, res.trailer.Headers)
}

func TestRunUntouchedSessionIsReturned(t *testing.T) {
	p := &protocol.RequestPayload{Session: map[string]any{"keep": "me"}}
	res := runScript(t, p, "", nil, func(rt *Runtime) error { return nil })
	assert.Equal(t, map[string]any{"keep": "me"}, res.trailer.Session)
}

func TestRunSessionDestroy(t *testing.T) {
	p := &protocol.RequestPayload{Session: map[string]any{"keep": "me"}}
	res := runScript(t, p, "", nil, func(rt *Runtime) error {
		_, err := rt.SessionStart()
		require.NoError(t, err)
		rt.SessionDestroy()
		return nil
	})
	assert.Empty(t, res.trailer.Session)
}

func TestRunSessionAfterFlushFails(t *testing.T) {
	res := runScript(t, &protocol.RequestPayload{}, "", nil, func(rt *Runtime) error {
		require.NoError(t, rt.Flush())
		_, err := rt.SessionStart()
		assert.ErrorIs(t, err, ErrSessionHeadersSent)
		return nil
	})
	assert.Empty(t, res.trailer.Headers)
}

func TestRunRawBodyAndSuperglobals(t *testing.T) {
	p := &protocol.RequestPayload{
		Get:          url.Values{"a": {"get"}},
		Post:         url.Values{"a": {"post"}},
		Cookie:       map[string]string{"a": "cookie"},
		Server:       map[string]string{"REQUEST_METHOD": "PUT", "HTTP_X_TEST": "yes"},
		RequestOrder: "GPC",
	}
	res := runScript(t, p, `{"k":"v"}`, []string{"-d", "disable_functions=header,getenv", "index.php"}, func(rt *Runtime) error {
		in, err := rt.Open("php://input")
		require.NoError(t, err)
		data, err := io.ReadAll(in)
		require.NoError(t, err)
		rt.Echo(string(data))

		assert.Equal(t, "cookie", rt.Request.Get("a"))
		assert.Equal(t, "PUT", rt.Getenv("REQUEST_METHOD"))
		assert.Equal(t, "yes", rt.Server["HTTP_X_TEST"])
		assert.True(t, rt.Disabled("getenv"))
		assert.False(t, rt.Disabled("echo"))
		assert.Equal(t, "index.php", rt.ScriptPath())
		return nil
	})
	assert.Equal(t, `{"k":"v"}`, res.body)
}

func TestRunUnserializableSessionIsDropped(t *testing.T) {
	res := runScript(t, &protocol.RequestPayload{}, "", nil, func(rt *Runtime) error {
		data, err := rt.SessionStart()
		require.NoError(t, err)
		data["ch"] = make(chan int)
		return nil
	})
	require.True(t, res.found)
	assert.Empty(t, res.trailer.Session)
}

func TestParseArgs(t *testing.T) {
	ini, script := ParseArgs([]string{"-d", "auto_prepend_file=/tmp/prelude.php", "-ddisable_functions=header,getenv", "/srv/www/index.php"})
	assert.Equal(t, "/tmp/prelude.php", ini["auto_prepend_file"])
	assert.Equal(t, "header,getenv", ini["disable_functions"])
	assert.Equal(t, "/srv/www/index.php", script)
}

func TestScriptsLookup(t *testing.T) {
	noop := func(rt *Runtime) error { return nil }
	scripts := Scripts{"/srv/www/a.php": noop, "admin/b.php": noop, "c.php": noop}

	_, ok := scripts.Lookup("/srv/www/a.php", "/srv/www")
	assert.True(t, ok)
	_, ok = scripts.Lookup("/srv/www/admin/b.php", "/srv/www")
	assert.True(t, ok)
	_, ok = scripts.Lookup("/srv/www/deep/c.php", "/srv/www")
	assert.True(t, ok)
	_, ok = scripts.Lookup("/srv/www/missing.php", "/srv/www")
	assert.False(t, ok)
}

func TestDispatchMissingScriptIs404(t *testing.T) {
	p := &protocol.RequestPayload{Server: map[string]string{"DOCUMENT_ROOT": "/srv/www"}}
	res := runScript(t, p, "", []string{"/srv/www/missing.php"}, Scripts{}.Dispatch)
	require.True(t, res.found)
	assert.Equal(t, 404, res.trailer.Status)
	assert.Equal(t, "No input file specified.\n", res.body)
}

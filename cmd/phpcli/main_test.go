package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"

	"go-php-cli/failure"
	"go-php-cli/server"
	"go-php-cli/shim"
)

const helperEnv = "GO_PHP_CLI_HELPER"

func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		shim.Main(shim.Scripts{
			"echo.php": func(rt *shim.Runtime) error {
				return json.NewEncoder(rt).Encode(map[string]string{
					"method": rt.Server["REQUEST_METHOD"],
					"auth":   rt.Server["HTTP_AUTHORIZATION"],
					"test":   rt.Server["HTTP_X_TEST"],
					"x":      rt.Get.Get("x"),
					"name":   rt.Post.Get("name"),
				})
			},
			"crash.php": func(rt *shim.Runtime) error {
				rt.Echo("partial")
				_ = rt.Flush()
				os.Exit(3)
				return nil
			},
		})
	}
	os.Exit(m.Run())
}

// writeConfig points the interpreter at this test binary.
func writeConfig(t *testing.T) string {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)

	cfg := map[string]any{
		"interpreter":   exe,
		"document_root": t.TempDir(),
		"timeout_ms":    20000,
		"env":           map[string]string{helperEnv: "1"},
	}
	data, err := yaml.Marshal(cfg)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "phpcli.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(io.Discard)
	err := root.Execute()
	return out.String(), err
}

func body(t *testing.T, out string) string {
	t.Helper()
	_, b, ok := strings.Cut(out, "\n\n")
	require.True(t, ok, "no blank line in %q", out)
	return b
}

func TestRequestCommand(t *testing.T) {
	cfg := writeConfig(t)
	out, err := execute(t, "request", "--config", cfg, "-H", "X-Test: yes", "--form", "name=gopher", "http://localhost/echo.php?x=1")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "200 OK\n"), out)
	b := body(t, out)
	assert.Equal(t, "POST", gjson.Get(b, "method").String())
	assert.Equal(t, "yes", gjson.Get(b, "test").String())
	assert.Equal(t, "1", gjson.Get(b, "x").String())
	assert.Equal(t, "gopher", gjson.Get(b, "name").String())
}

func TestRequestExplicitMethod(t *testing.T) {
	cfg := writeConfig(t)
	out, err := execute(t, "request", "--config", cfg, "-X", "put", "--data", "raw", "/echo.php")
	require.NoError(t, err)
	assert.Equal(t, "PUT", gjson.Get(body(t, out), "method").String())
}

func TestRequestJWTSubject(t *testing.T) {
	cfg := writeConfig(t)
	t.Setenv(jwtSecretEnv, "s3cret")

	out, err := execute(t, "request", "--config", cfg, "--jwt-sub", "user42", "/echo.php")
	require.NoError(t, err)

	auth := gjson.Get(body(t, out), "auth").String()
	require.True(t, strings.HasPrefix(auth, "Bearer "), auth)

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(strings.TrimPrefix(auth, "Bearer "), claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte("s3cret"), nil
	})
	require.NoError(t, err)
	assert.True(t, token.Valid)
	assert.Equal(t, "user42", claims.Subject)
}

func TestRequestJWTNeedsSecret(t *testing.T) {
	t.Setenv(jwtSecretEnv, "")
	_, err := execute(t, "request", "--config", writeConfig(t), "--jwt-sub", "user42", "/echo.php")
	assert.ErrorContains(t, err, jwtSecretEnv)
}

func TestRequestRejectsBadFlags(t *testing.T) {
	cfg := writeConfig(t)

	_, err := execute(t, "request", "--config", cfg, "--data", "a", "--json", "{}", "/echo.php")
	assert.Error(t, err)

	_, err = execute(t, "request", "--config", cfg, "-H", "no-colon", "/echo.php")
	var ce *failure.ConstructionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "header", ce.Field)

	_, err = execute(t, "request", "--config", cfg, "--json", "{broken", "/echo.php")
	assert.ErrorIs(t, err, failure.ErrConstruction)
}

func TestRequestPrintsDegradedResponse(t *testing.T) {
	out, err := execute(t, "request", "--config", writeConfig(t), "/crash.php")

	var pe *failure.ProcessError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 3, pe.ExitCode)
	assert.Equal(t, "partial", body(t, out))
}

func TestStatsCommand(t *testing.T) {
	out, err := execute(t, "stats", "--config", writeConfig(t), "-n", "2", "/echo.php")
	require.NoError(t, err)
	assert.Equal(t, int64(2), gjson.Get(out, "total_requests").Int())
	assert.Equal(t, int64(0), gjson.Get(out, "total_errors").Int())

	_, err = execute(t, "stats", "--config", writeConfig(t), "-n", "0", "/echo.php")
	assert.Error(t, err)
}

func TestConfigCommand(t *testing.T) {
	path := writeConfig(t)
	out, err := execute(t, "config", "--config", path)
	require.NoError(t, err)

	var cfg server.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &cfg))
	exe, _ := os.Executable()
	assert.Equal(t, exe, cfg.Interpreter)
	assert.Equal(t, 20000, cfg.TimeoutMs)
	assert.Equal(t, "1", cfg.Env[helperEnv])
}

func TestPrintResponseWithoutColor(t *testing.T) {
	var buf bytes.Buffer
	resp := server.NewResponse(404, []string{"X-A: 1", "Content-Type: text/plain"}, []byte("missing"), nil)
	printResponse(&buf, schemeFor(&buf, false), resp, false)
	assert.Equal(t, "404 Not Found\nX-A: 1\nContent-Type: text/plain\n\nmissing", buf.String())
}

func TestMintToken(t *testing.T) {
	now := time.Now()
	signed, err := mintToken([]byte("k"), "alice", now)
	require.NoError(t, err)

	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(signed, claims, func(*jwt.Token) (interface{}, error) { return []byte("k"), nil })
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, "phpcli", claims.Issuer)
	assert.NotEmpty(t, claims.ID)
	assert.Equal(t, now.Add(tokenTTL).Unix(), claims.ExpiresAt.Unix())

	_, err = jwt.ParseWithClaims(signed, &jwt.RegisteredClaims{}, func(*jwt.Token) (interface{}, error) { return []byte("other"), nil })
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
}

func TestProjectRoot(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "composer.json"), []byte("{}"), 0o644))
	sub := filepath.Join(dir, "src", "app")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(sub))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	assert.Equal(t, dir, projectRoot())
}

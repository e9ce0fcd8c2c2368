// Package shim is the runtime that runs inside the child process before the
// target script. It decodes the request payload from stdin, rebuilds the
// request state a web server would have provided, supplies replacements for
// the header and status primitives, and appends the response trailer to
// stdout when the script ends.
//
// A child program hands its scripts to Main:
//
//	func main() {
//		shim.Main(shim.Scripts{
//			"index.php": func(rt *shim.Runtime) error {
//				fmt.Fprint(rt, rt.Get.Get("x"))
//				return nil
//			},
//		})
//	}
package shim

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"go-php-cli/protocol"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Script is a target script. Returning an error (or panicking) is an
// uncaught error: the response becomes a 500 unless a status was set.
type Script func(rt *Runtime) error

// Runtime is the request state and primitive replacements for one child
// process. It is created once per invocation and never shared.
type Runtime struct {
	Get     url.Values
	Post    url.Values
	Cookie  map[string]string
	Files   map[string]protocol.UploadedFile
	Request url.Values
	Server  map[string]string

	id      string
	script  string
	ini     map[string]string
	headers *HeaderManager
	session *Session
	input   *inputSource
	out     *bufio.Writer
	stdout  io.Writer
	stderr  io.Writer
	log     *zap.SugaredLogger
}

type exitSignal struct{ code int }

// NewDiagnosticLogger returns the logger the shim uses for warnings. It
// writes human-readable lines to w (the child's stderr).
func NewDiagnosticLogger(w io.Writer) *zap.SugaredLogger {
	enc := zap.NewDevelopmentEncoderConfig()
	enc.TimeKey = ""
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(w), zapcore.DebugLevel)
	return zap.New(core).Named("shim").Sugar()
}

// ParseArgs splits the child's command line into ini settings
// ("-d name=value" or "-dname=value") and the script path.
func ParseArgs(args []string) (ini map[string]string, script string) {
	ini = make(map[string]string)
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "-d" && i+1 < len(args):
			i++
			setINI(ini, args[i])
		case strings.HasPrefix(arg, "-d") && len(arg) > 2:
			setINI(ini, arg[2:])
		case script == "":
			script = arg
		}
	}
	return ini, script
}

func setINI(ini map[string]string, kv string) {
	name, value, _ := strings.Cut(kv, "=")
	ini[strings.TrimSpace(name)] = value
}

// Run handles one request: it reads the payload from stdin, runs script and
// writes the body plus trailer to stdout. The return value is the process
// exit code. A missing or malformed payload is fatal and the script never
// runs.
func Run(args []string, stdin io.Reader, stdout, stderr io.Writer, script Script) int {
	log := NewDiagnosticLogger(stderr)
	defer func() { _ = log.Sync() }()

	ini, scriptPath := ParseArgs(args)

	data, err := io.ReadAll(stdin)
	if err != nil {
		log.Errorf("reading request payload: %v", err)
		return 1
	}
	if len(data) == 0 {
		log.Error("no request payload on stdin")
		return 1
	}

	payload, body, err := protocol.DecodePayload(bytes.NewReader(data))
	if err != nil {
		log.Errorf("decoding request payload: %v", err)
		return 1
	}

	rt := newRuntime(payload, body, ini, scriptPath, stdout, stderr, log)
	code := rt.execute(script)
	if err := rt.finish(); err != nil {
		log.Errorf("writing response trailer: %v", err)
		if code == 0 {
			code = 1
		}
	}
	return code
}

// Main runs the script registered for the command-line script path and
// exits.
func Main(scripts Scripts) {
	os.Exit(Run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr, scripts.Dispatch))
}

func newRuntime(p *protocol.RequestPayload, body []byte, ini map[string]string, script string, stdout, stderr io.Writer, log *zap.SugaredLogger) *Runtime {
	rt := &Runtime{
		Get:     nonNilValues(p.Get),
		Post:    nonNilValues(p.Post),
		Cookie:  p.Cookie,
		Files:   p.Files,
		Request: p.Request(),
		Server:  p.Server,
		id:      p.ID,
		script:  script,
		ini:     ini,
		headers: NewHeaderManager(log),
		input:   &inputSource{data: body},
		out:     bufio.NewWriterSize(stdout, 32*1024),
		stdout:  stdout,
		stderr:  stderr,
		log:     log,
	}
	if rt.Cookie == nil {
		rt.Cookie = map[string]string{}
	}
	if rt.Files == nil {
		rt.Files = map[string]protocol.UploadedFile{}
	}
	if rt.Server == nil {
		rt.Server = map[string]string{}
	}
	rt.session = newSession(ini["session.name"], p.Session)
	return rt
}

func nonNilValues(v url.Values) url.Values {
	if v == nil {
		return url.Values{}
	}
	return v
}

func (rt *Runtime) execute(script Script) (code int) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if ex, ok := r.(exitSignal); ok {
			code = ex.code
			return
		}
		rt.fail(fmt.Errorf("panic: %v", r))
		code = 255
	}()

	if err := script(rt); err != nil {
		rt.fail(err)
		return 255
	}
	return 0
}

// fail is the uncaught-error hook.
func (rt *Runtime) fail(err error) {
	rt.log.Errorf("Uncaught error: %v", err)
	if !rt.headers.Sent() && !rt.headers.StatusSet() {
		rt.headers.force(500, "text/plain; charset=UTF-8")
	}
	fmt.Fprintf(rt.out, "\nFatal error: Uncaught %v\n", err)
}

// finish is the end-of-script hook. The trailer is the last thing written.
func (rt *Runtime) finish() error {
	if err := rt.out.Flush(); err != nil {
		return err
	}
	rt.headers.MarkSent()

	trailer := &protocol.Trailer{
		Status:  rt.headers.Status(),
		Headers: rt.headers.List(),
		Session: rt.session.snapshot(),
		Version: protocol.TrailerVersion,
	}
	token, err := protocol.EncodeTrailer(trailer)
	if err != nil {
		rt.log.Errorf("session is not serializable, dropping it: %v", err)
		trailer.Session = map[string]any{}
		if token, err = protocol.EncodeTrailer(trailer); err != nil {
			return err
		}
	}
	_, err = rt.stdout.Write(token)
	return err
}

// Write appends to the response body.
func (rt *Runtime) Write(p []byte) (int, error) {
	return rt.out.Write(p)
}

// Echo writes its operands to the body like fmt.Print.
func (rt *Runtime) Echo(a ...any) {
	fmt.Fprint(rt.out, a...)
}

// Flush sends buffered output and marks headers as sent.
func (rt *Runtime) Flush() error {
	rt.headers.MarkSent()
	return rt.out.Flush()
}

// Exit stops the script. The end-of-script hook still runs.
func (rt *Runtime) Exit(code int) {
	panic(exitSignal{code: code})
}

// Header is the replacement for the header primitive.
func (rt *Runtime) Header(line string, replace bool, code int) error {
	return rt.headers.Header(line, replace, code)
}

// ResponseCode is the replacement for the status primitive.
func (rt *Runtime) ResponseCode(code int) (int, error) {
	return rt.headers.ResponseCode(code)
}

// HeaderRemove drops headers by name; an empty name drops all.
func (rt *Runtime) HeaderRemove(name string) error {
	return rt.headers.Remove(name)
}

func (rt *Runtime) HeadersList() []string { return rt.headers.List() }

func (rt *Runtime) HeadersSent() bool { return rt.headers.Sent() }

// Headers exposes the header manager.
func (rt *Runtime) Headers() *HeaderManager { return rt.headers }

// Getenv is the replacement for the environment primitive. Server context
// wins over the real environment.
func (rt *Runtime) Getenv(name string) string {
	if v, ok := rt.Server[name]; ok {
		return v
	}
	return os.Getenv(name)
}

// INI returns an ini setting passed on the command line.
func (rt *Runtime) INI(name string) string { return rt.ini[name] }

// Disabled reports whether fn is on the disable_functions list.
func (rt *Runtime) Disabled(fn string) bool {
	for _, name := range strings.Split(rt.ini["disable_functions"], ",") {
		if strings.EqualFold(strings.TrimSpace(name), fn) {
			return true
		}
	}
	return false
}

// RequestID is the id the parent assigned to this request.
func (rt *Runtime) RequestID() string { return rt.id }

// ScriptPath is the script path from the command line.
func (rt *Runtime) ScriptPath() string { return rt.script }

// Logger is the diagnostic logger (child stderr).
func (rt *Runtime) Logger() *zap.SugaredLogger { return rt.log }

// Scripts maps script paths to Go scripts. Keys may be absolute paths,
// paths relative to the document root, or bare file names.
type Scripts map[string]Script

// Lookup finds the script for path.
func (s Scripts) Lookup(path, docRoot string) (Script, bool) {
	if fn, ok := s[path]; ok {
		return fn, true
	}
	if docRoot != "" {
		if rel, err := filepath.Rel(docRoot, path); err == nil && !strings.HasPrefix(rel, "..") {
			rel = filepath.ToSlash(rel)
			if fn, ok := s[rel]; ok {
				return fn, true
			}
			if fn, ok := s["/"+rel]; ok {
				return fn, true
			}
		}
	}
	fn, ok := s[filepath.Base(path)]
	return fn, ok
}

// Dispatch runs the script for the runtime's script path, answering 404
// like a FastCGI front end would when there is none.
func (s Scripts) Dispatch(rt *Runtime) error {
	fn, ok := s.Lookup(rt.script, rt.Server["DOCUMENT_ROOT"])
	if !ok {
		rt.log.Warnw("no script registered", "path", rt.script)
		_, _ = rt.ResponseCode(404)
		_ = rt.Header("Content-Type: text/plain; charset=UTF-8", true, 0)
		rt.Echo("No input file specified.\n")
		return nil
	}
	return fn(rt)
}

// Package curl translates CURLOPT_* options.
package curl

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go-php-cli/adapter"
	"go-php-cli/failure"
	"go-php-cli/options"
)

// DefaultMaxRedirects is used when CURLOPT_FOLLOWLOCATION is true and
// CURLOPT_MAXREDIRS is unset.
const DefaultMaxRedirects = 20

// CURL_HTTP_VERSION_* values accepted by CURLOPT_HTTP_VERSION.
const (
	HTTPVersionNone    = 0
	HTTPVersion1_0     = 1
	HTTPVersion1_1     = 2
	HTTPVersion2_0     = 3
	HTTPVersion2TLS    = 4
	HTTPVersion2Prior  = 5
	HTTPVersion3       = 30
	protocolVersionKey = "protocol_version"
)

// File is an upload read from disk, the CURLFile equivalent.
type File struct {
	Path     string
	MimeType string
	PostName string
}

// StringFile is an upload whose contents are held in memory.
type StringFile struct {
	Data     []byte
	PostName string
	MimeType string
}

var table = adapter.Table{
	"CURLOPT_HTTPHEADER":      adapter.Translated,
	"CURLOPT_POSTFIELDS":      adapter.Translated,
	"CURLOPT_TIMEOUT":         adapter.Translated,
	"CURLOPT_TIMEOUT_MS":      adapter.Translated,
	"CURLOPT_USERPWD":         adapter.Translated,
	"CURLOPT_USERAGENT":       adapter.Translated,
	"CURLOPT_COOKIE":          adapter.Translated,
	"CURLOPT_FOLLOWLOCATION":  adapter.Translated,
	"CURLOPT_MAXREDIRS":       adapter.Translated,
	"CURLOPT_XOAUTH2_BEARER":  adapter.Translated,
	"CURLOPT_INFILE":          adapter.Translated,
	"CURLOPT_REFERER":         adapter.Translated,
	"CURLOPT_ENCODING":        adapter.Translated,
	"CURLOPT_ACCEPT_ENCODING": adapter.Translated,

	"CURLOPT_URL":            adapter.Internal,
	"CURLOPT_CUSTOMREQUEST":  adapter.Internal,
	"CURLOPT_POST":           adapter.Internal,
	"CURLOPT_PUT":            adapter.Internal,
	"CURLOPT_NOBODY":         adapter.Internal,
	"CURLOPT_HTTPGET":        adapter.Internal,
	"CURLOPT_RETURNTRANSFER": adapter.Internal,
	"CURLOPT_HEADER":         adapter.Internal,
	"CURLOPT_FILE":           adapter.Internal,
	"CURLOPT_WRITEFUNCTION":  adapter.Internal,
	"CURLOPT_HEADERFUNCTION": adapter.Internal,
	"CURLOPT_HTTP_VERSION":   adapter.Internal,
	"CURLOPT_FAILONERROR":    adapter.Internal,
	"CURLOPT_PRIVATE":        adapter.Internal,

	"CURLOPT_SSL_VERIFYPEER":    adapter.Ignored,
	"CURLOPT_SSL_VERIFYHOST":    adapter.Ignored,
	"CURLOPT_CAINFO":            adapter.Ignored,
	"CURLOPT_CAPATH":            adapter.Ignored,
	"CURLOPT_SSLCERT":           adapter.Ignored,
	"CURLOPT_SSLKEY":            adapter.Ignored,
	"CURLOPT_SSLVERSION":        adapter.Ignored,
	"CURLOPT_PROXY":             adapter.Ignored,
	"CURLOPT_PROXYPORT":         adapter.Ignored,
	"CURLOPT_PROXYUSERPWD":      adapter.Ignored,
	"CURLOPT_PROXYTYPE":         adapter.Ignored,
	"CURLOPT_NOPROXY":           adapter.Ignored,
	"CURLOPT_CONNECTTIMEOUT":    adapter.Ignored,
	"CURLOPT_CONNECTTIMEOUT_MS": adapter.Ignored,
	"CURLOPT_DNS_CACHE_TIMEOUT": adapter.Ignored,
	"CURLOPT_IPRESOLVE":         adapter.Ignored,
	"CURLOPT_RESOLVE":           adapter.Ignored,
	"CURLOPT_TCP_KEEPALIVE":     adapter.Ignored,
	"CURLOPT_TCP_NODELAY":       adapter.Ignored,
	"CURLOPT_FORBID_REUSE":      adapter.Ignored,
	"CURLOPT_FRESH_CONNECT":     adapter.Ignored,
	"CURLOPT_VERBOSE":           adapter.Ignored,
	"CURLOPT_STDERR":            adapter.Ignored,
	"CURLOPT_NOSIGNAL":          adapter.Ignored,
	"CURLOPT_NOPROGRESS":        adapter.Ignored,
	"CURLOPT_PROGRESSFUNCTION":  adapter.Ignored,
	"CURLOPT_HTTPAUTH":          adapter.Ignored,
}

// Adapter is the curl adapter. The zero value is ready to use.
type Adapter struct{}

// New returns a curl Adapter.
func New() *Adapter { return &Adapter{} }

func (a *Adapter) Name() string { return "curl" }

func (a *Adapter) SupportsOption(name string) bool { return table.Supports(name) }

func (a *Adapter) SupportedOptions() []string { return table.Names() }

// Disposition returns how name is handled, and whether it is known.
func (a *Adapter) Disposition(name string) (adapter.Disposition, bool) {
	d, ok := table[name]
	return d, ok
}

// Transform converts a CURLOPT_* mapping.
func (a *Adapter) Transform(opts map[string]any) (*options.Options, error) {
	if err := adapter.CheckBodyConflict(opts, "CURLOPT_POSTFIELDS", "CURLOPT_INFILE"); err != nil {
		return nil, err
	}
	if err := table.Check(a.Name(), opts); err != nil {
		return nil, err
	}

	var (
		f       options.Fields
		headers adapter.HeaderSet
		extras  = map[string]any{}
	)

	if v, ok := opts["CURLOPT_HTTPHEADER"]; ok {
		if err := headers.AddMap(v); err != nil {
			return nil, failure.Construction("CURLOPT_HTTPHEADER", "%v", err)
		}
	}
	if v, ok := opts["CURLOPT_REFERER"]; ok {
		s, err := adapter.Stringify(v)
		if err != nil {
			return nil, failure.Construction("CURLOPT_REFERER", "%v", err)
		}
		headers.Add("Referer", s)
	}
	for _, name := range []string{"CURLOPT_ENCODING", "CURLOPT_ACCEPT_ENCODING"} {
		v, ok := opts[name]
		if !ok || v == nil {
			continue
		}
		s, err := adapter.Stringify(v)
		if err != nil {
			return nil, failure.Construction(name, "%v", err)
		}
		if s == "" {
			s = "gzip, deflate"
		}
		headers.Add("Accept-Encoding", s)
		extras["decode_content"] = true
	}

	if v, ok := opts["CURLOPT_POSTFIELDS"]; ok && v != nil {
		if err := postFields(&f, v); err != nil {
			return nil, err
		}
		// String fields go out as an urlencoded form, as curl sends them.
		if f.RawBody != nil && !headers.Has("Content-Type") {
			headers.Add("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if v, ok := opts["CURLOPT_INFILE"]; ok && v != nil {
		body, streamed, err := adapter.Body(v)
		if err != nil {
			return nil, failure.Construction("CURLOPT_INFILE", "%v", err)
		}
		f.RawBody = body
		if streamed {
			extras["CURLOPT_INFILE"] = v
		}
	}

	if err := timeout(&f, opts); err != nil {
		return nil, err
	}

	if v, ok := opts["CURLOPT_USERPWD"]; ok && v != nil {
		auth, err := adapter.ParseAuth(v)
		if err != nil {
			return nil, failure.Construction("CURLOPT_USERPWD", "%v", err)
		}
		f.BasicAuth = &auth
	}
	if v, ok := opts["CURLOPT_XOAUTH2_BEARER"]; ok && v != nil {
		s, err := adapter.Stringify(v)
		if err != nil {
			return nil, failure.Construction("CURLOPT_XOAUTH2_BEARER", "%v", err)
		}
		f.BearerToken = s
	}
	if v, ok := opts["CURLOPT_USERAGENT"]; ok {
		s, err := adapter.Stringify(v)
		if err != nil {
			return nil, failure.Construction("CURLOPT_USERAGENT", "%v", err)
		}
		f.UserAgent = s
	}
	if v, ok := opts["CURLOPT_COOKIE"]; ok && v != nil {
		s, err := adapter.Stringify(v)
		if err != nil {
			return nil, failure.Construction("CURLOPT_COOKIE", "%v", err)
		}
		if headers.Cookies == nil {
			headers.Cookies = map[string]string{}
		}
		for k, val := range adapter.ParseCookieHeader(s) {
			headers.Cookies[k] = val
		}
	}

	if err := redirects(&f, opts); err != nil {
		return nil, err
	}

	for name, v := range opts {
		if table[name] != adapter.Internal {
			continue
		}
		extras[name] = v
	}
	if v, ok := opts["CURLOPT_HTTP_VERSION"]; ok {
		version, err := ProtocolVersion(v)
		if err != nil {
			return nil, err
		}
		if version != "" {
			extras[protocolVersionKey] = version
		}
	}

	f.Headers = headers.Headers
	f.Cookies = headers.Cookies
	if len(extras) > 0 {
		f.Extras = extras
	}
	return options.New(f)
}

func postFields(f *options.Fields, v any) error {
	switch body := v.(type) {
	case string:
		f.RawBody = []byte(body)
	case []byte:
		f.RawBody = append([]byte{}, body...)
	case map[string]any:
		if hasUpload(body) {
			parts, err := multipart(body)
			if err != nil {
				return err
			}
			f.Multipart = parts
			return nil
		}
		form, err := adapter.ParseForm(body)
		if err != nil {
			return failure.Construction("CURLOPT_POSTFIELDS", "%v", err)
		}
		f.FormParams = form
	case map[string]string:
		form, err := adapter.ParseForm(body)
		if err != nil {
			return failure.Construction("CURLOPT_POSTFIELDS", "%v", err)
		}
		f.FormParams = form
	default:
		return failure.Construction("CURLOPT_POSTFIELDS", "unsupported value of type %T", v)
	}
	return nil
}

func hasUpload(m map[string]any) bool {
	for _, v := range m {
		switch v.(type) {
		case File, *File, StringFile, *StringFile:
			return true
		}
	}
	return false
}

func multipart(m map[string]any) ([]options.Part, error) {
	parts := make([]options.Part, 0, len(m))
	for _, name := range sortedNames(m) {
		switch v := m[name].(type) {
		case File:
			p, err := filePart(name, &v)
			if err != nil {
				return nil, err
			}
			parts = append(parts, p)
		case *File:
			p, err := filePart(name, v)
			if err != nil {
				return nil, err
			}
			parts = append(parts, p)
		case StringFile:
			parts = append(parts, stringPart(name, &v))
		case *StringFile:
			parts = append(parts, stringPart(name, v))
		default:
			s, err := adapter.Stringify(v)
			if err != nil {
				return nil, failure.Construction("CURLOPT_POSTFIELDS", "%s: %v", name, err)
			}
			parts = append(parts, options.Part{Name: name, Contents: []byte(s)})
		}
	}
	return parts, nil
}

func filePart(name string, file *File) (options.Part, error) {
	data, err := os.ReadFile(file.Path)
	if err != nil {
		return options.Part{}, failure.Construction("CURLOPT_POSTFIELDS", "reading %s: %v", file.Path, err)
	}
	filename := file.PostName
	if filename == "" {
		filename = filepath.Base(file.Path)
	}
	p := options.Part{Name: name, Contents: data, Filename: filename}
	if file.MimeType != "" {
		p.Headers = map[string]string{"Content-Type": file.MimeType}
	}
	return p, nil
}

func stringPart(name string, file *StringFile) options.Part {
	filename := file.PostName
	if filename == "" {
		filename = name
	}
	p := options.Part{Name: name, Contents: append([]byte{}, file.Data...), Filename: filename}
	if file.MimeType != "" {
		p.Headers = map[string]string{"Content-Type": file.MimeType}
	}
	return p
}

// timeout applies CURLOPT_TIMEOUT (seconds) and CURLOPT_TIMEOUT_MS; the
// millisecond form wins when both are set.
func timeout(f *options.Fields, opts map[string]any) error {
	var d time.Duration
	if v, ok := opts["CURLOPT_TIMEOUT"]; ok && v != nil {
		secs, err := adapter.ToInt(v)
		if err != nil {
			return failure.Construction("CURLOPT_TIMEOUT", "%v", err)
		}
		d = time.Duration(secs) * time.Second
	}
	if v, ok := opts["CURLOPT_TIMEOUT_MS"]; ok && v != nil {
		ms, err := adapter.ToInt(v)
		if err != nil {
			return failure.Construction("CURLOPT_TIMEOUT_MS", "%v", err)
		}
		d = time.Duration(ms) * time.Millisecond
	}
	if d < 0 {
		return failure.Construction("timeout", "must be positive, got %s", d)
	}
	// curl treats 0 as "no timeout".
	if d > 0 {
		f.Timeout = &d
	}
	return nil
}

func redirects(f *options.Fields, opts map[string]any) error {
	follow, hasFollow := opts["CURLOPT_FOLLOWLOCATION"]
	maxRedirs, hasMax := opts["CURLOPT_MAXREDIRS"]
	if !hasFollow && !hasMax {
		return nil
	}

	// CURLOPT_MAXREDIRS only matters once following is on.
	n, _, _ := adapter.RedirectLimit(hasFollow && adapter.ToBool(follow), DefaultMaxRedirects)
	if n > 0 && hasMax {
		m, err := adapter.ToInt(maxRedirs)
		if err != nil {
			return failure.Construction("CURLOPT_MAXREDIRS", "%v", err)
		}
		// -1 is curl's "unlimited".
		if m >= 0 {
			n = m
		}
	}
	f.MaxRedirects = &n
	return nil
}

// ProtocolVersion maps a CURL_HTTP_VERSION_* value to "1.0" or "1.1".
// HTTPVersionNone yields "". Anything newer is a ProtocolVersionError.
func ProtocolVersion(v any) (string, error) {
	n, err := adapter.ToInt(v)
	if err != nil {
		return "", failure.Construction("CURLOPT_HTTP_VERSION", "%v", err)
	}
	switch n {
	case HTTPVersionNone:
		return "", nil
	case HTTPVersion1_0:
		return "1.0", nil
	case HTTPVersion1_1:
		return "1.1", nil
	case HTTPVersion2_0, HTTPVersion2TLS, HTTPVersion2Prior:
		return "", &failure.ProtocolVersionError{Version: "2"}
	case HTTPVersion3:
		return "", &failure.ProtocolVersionError{Version: "3"}
	default:
		return "", &failure.ProtocolVersionError{Version: fmt.Sprint(n)}
	}
}

// Method derives the request method from the internal method options, in
// curl's precedence: CUSTOMREQUEST, NOBODY, PUT, HTTPGET, then POST or
// POSTFIELDS.
func Method(opts map[string]any) string {
	if v, ok := opts["CURLOPT_CUSTOMREQUEST"]; ok && v != nil {
		if s, err := adapter.Stringify(v); err == nil && s != "" {
			return strings.ToUpper(s)
		}
	}
	if adapter.ToBool(opts["CURLOPT_NOBODY"]) {
		return "HEAD"
	}
	if adapter.ToBool(opts["CURLOPT_PUT"]) {
		return "PUT"
	}
	if adapter.ToBool(opts["CURLOPT_HTTPGET"]) {
		return "GET"
	}
	if adapter.ToBool(opts["CURLOPT_POST"]) || opts["CURLOPT_POSTFIELDS"] != nil {
		return "POST"
	}
	return "GET"
}

func sortedNames(m map[string]any) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

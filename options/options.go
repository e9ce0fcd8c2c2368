// Package options holds the unified, immutable description of an outbound
// request: body, headers, auth, cookies, query, redirects and timeout.
//
// Options values are created with New (or a Builder) and are never mutated
// afterwards. Getters return copies.
package options

import (
	"net/url"
	"strings"
	"time"

	"go-php-cli/failure"
)

// BodyKind names the active body representation.
type BodyKind int

const (
	BodyNone BodyKind = iota
	BodyRaw
	BodyJSON
	BodyForm
	BodyMultipart
)

func (k BodyKind) String() string {
	switch k {
	case BodyRaw:
		return "raw"
	case BodyJSON:
		return "json"
	case BodyForm:
		return "form"
	case BodyMultipart:
		return "multipart"
	default:
		return "none"
	}
}

// Header is one request header. Name case is preserved.
type Header struct {
	Name  string
	Value string
}

// Part is one multipart/form-data part. Parts with a Filename are uploads.
type Part struct {
	Name     string
	Contents []byte
	Filename string
	Headers  map[string]string
}

// BasicAuth is a username/password pair.
type BasicAuth struct {
	Username string
	Password string
}

// Fields is the mutable input to New. A body field counts as set when it is
// non-nil.
type Fields struct {
	Timeout      *time.Duration
	Headers      []Header
	Query        url.Values
	RawBody      []byte
	JSON         any
	FormParams   url.Values
	Multipart    []Part
	BasicAuth    *BasicAuth
	BearerToken  string
	MaxRedirects *int
	UserAgent    string
	Cookies      map[string]string
	Session      map[string]any
	Extras       map[string]any
}

// Options is a validated, read-only request description.
type Options struct {
	timeout      time.Duration
	hasTimeout   bool
	headers      []Header
	query        url.Values
	bodyKind     BodyKind
	rawBody      []byte
	json         any
	formParams   url.Values
	multipart    []Part
	basicAuth    *BasicAuth
	bearerToken  string
	maxRedirects int
	hasRedirects bool
	userAgent    string
	cookies      map[string]string
	session      map[string]any
	extras       map[string]any
}

// New validates f and returns the Options it describes.
func New(f Fields) (*Options, error) {
	o := &Options{}

	var kinds []string
	if f.RawBody != nil {
		kinds = append(kinds, "raw body")
		o.bodyKind = BodyRaw
	}
	if f.JSON != nil {
		kinds = append(kinds, "json")
		o.bodyKind = BodyJSON
	}
	if f.FormParams != nil {
		kinds = append(kinds, "form params")
		o.bodyKind = BodyForm
	}
	if f.Multipart != nil {
		kinds = append(kinds, "multipart")
		o.bodyKind = BodyMultipart
	}
	if len(kinds) > 1 {
		return nil, failure.Construction("body", "mutually exclusive body fields set: %s", strings.Join(kinds, ", "))
	}

	if f.Timeout != nil {
		if *f.Timeout <= 0 {
			return nil, failure.Construction("timeout", "must be positive, got %s", *f.Timeout)
		}
		o.timeout, o.hasTimeout = *f.Timeout, true
	}
	if f.MaxRedirects != nil {
		if *f.MaxRedirects < 0 {
			return nil, failure.Construction("max_redirects", "must not be negative, got %d", *f.MaxRedirects)
		}
		o.maxRedirects, o.hasRedirects = *f.MaxRedirects, true
	}
	if f.BasicAuth != nil && f.BearerToken != "" {
		return nil, failure.Construction("auth", "basic auth and bearer token are mutually exclusive")
	}

	for i, h := range f.Headers {
		if h.Name == "" {
			return nil, failure.Construction("headers", "header %d has an empty name", i)
		}
	}

	o.headers = append([]Header(nil), f.Headers...)
	o.query = cloneValues(f.Query)
	o.rawBody = cloneBytes(f.RawBody)
	o.json = f.JSON
	o.formParams = cloneValues(f.FormParams)
	o.multipart = clonePart(f.Multipart)
	if f.BasicAuth != nil {
		a := *f.BasicAuth
		o.basicAuth = &a
	}
	o.bearerToken = f.BearerToken
	o.userAgent = f.UserAgent
	o.cookies = cloneStrings(f.Cookies)
	o.session = cloneAny(f.Session)
	o.extras = cloneAny(f.Extras)

	return o, nil
}

// Empty returns Options with nothing set.
func Empty() *Options {
	return &Options{}
}

func (o *Options) Timeout() (time.Duration, bool) { return o.timeout, o.hasTimeout }

func (o *Options) Headers() []Header { return append([]Header(nil), o.headers...) }

// Header returns the first value for name, compared case-insensitively.
func (o *Options) Header(name string) (string, bool) {
	for _, h := range o.headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

func (o *Options) Query() url.Values { return cloneValues(o.query) }

func (o *Options) BodyKind() BodyKind { return o.bodyKind }

func (o *Options) RawBody() []byte { return cloneBytes(o.rawBody) }

// JSON returns the value to be JSON-encoded as the body. It is not copied.
func (o *Options) JSON() any { return o.json }

func (o *Options) FormParams() url.Values { return cloneValues(o.formParams) }

func (o *Options) Multipart() []Part { return clonePart(o.multipart) }

func (o *Options) BasicAuth() (BasicAuth, bool) {
	if o.basicAuth == nil {
		return BasicAuth{}, false
	}
	return *o.basicAuth, true
}

func (o *Options) BearerToken() string { return o.bearerToken }

func (o *Options) MaxRedirects() (int, bool) { return o.maxRedirects, o.hasRedirects }

func (o *Options) UserAgent() string { return o.userAgent }

func (o *Options) Cookies() map[string]string { return cloneStrings(o.cookies) }

func (o *Options) Session() map[string]any { return cloneAny(o.session) }

func (o *Options) Extras() map[string]any { return cloneAny(o.extras) }

// Extra returns a single passthrough value.
func (o *Options) Extra(key string) (any, bool) {
	v, ok := o.extras[key]
	return v, ok
}

// Fields returns a copy of the inputs o was built from, for callers that
// need to derive a modified Options.
func (o *Options) Fields() Fields {
	f := Fields{
		Headers:     o.Headers(),
		Query:       o.Query(),
		BearerToken: o.bearerToken,
		UserAgent:   o.userAgent,
		Cookies:     o.Cookies(),
		Session:     o.Session(),
		Extras:      o.Extras(),
	}
	if o.hasTimeout {
		d := o.timeout
		f.Timeout = &d
	}
	if o.hasRedirects {
		n := o.maxRedirects
		f.MaxRedirects = &n
	}
	if o.basicAuth != nil {
		a := *o.basicAuth
		f.BasicAuth = &a
	}
	switch o.bodyKind {
	case BodyRaw:
		f.RawBody = o.RawBody()
	case BodyJSON:
		f.JSON = o.json
	case BodyForm:
		f.FormParams = o.FormParams()
	case BodyMultipart:
		f.Multipart = o.Multipart()
	}
	return f
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append(make([]byte, 0, len(b)), b...)
}

func cloneValues(v url.Values) url.Values {
	if v == nil {
		return nil
	}
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}

func cloneStrings(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneAny(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func clonePart(parts []Part) []Part {
	if parts == nil {
		return nil
	}
	out := make([]Part, len(parts))
	for i, p := range parts {
		out[i] = Part{
			Name:     p.Name,
			Contents: cloneBytes(p.Contents),
			Filename: p.Filename,
			Headers:  cloneStrings(p.Headers),
		}
	}
	return out
}

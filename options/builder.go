package options

import (
	"net/url"
	"time"
)

// Builder accumulates request options fluently. Setting one body
// representation clears the others; setting basic auth clears the bearer
// token and vice versa. Build validates.
type Builder struct {
	f Fields
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Timeout sets the request timeout.
func (b *Builder) Timeout(d time.Duration) *Builder {
	b.f.Timeout = &d
	return b
}

// Header appends a header. Repeated names are kept in order.
func (b *Builder) Header(name, value string) *Builder {
	b.f.Headers = append(b.f.Headers, Header{Name: name, Value: value})
	return b
}

// Headers appends every entry of h.
func (b *Builder) Headers(h map[string]string) *Builder {
	for name, value := range h {
		b.Header(name, value)
	}
	return b
}

// QueryParam adds one query value.
func (b *Builder) QueryParam(key, value string) *Builder {
	if b.f.Query == nil {
		b.f.Query = make(url.Values)
	}
	b.f.Query.Add(key, value)
	return b
}

// Query replaces the whole query mapping.
func (b *Builder) Query(q url.Values) *Builder {
	b.f.Query = cloneValues(q)
	return b
}

func (b *Builder) clearBody() {
	b.f.RawBody = nil
	b.f.JSON = nil
	b.f.FormParams = nil
	b.f.Multipart = nil
}

// RawBody sets a raw byte body.
func (b *Builder) RawBody(body []byte) *Builder {
	b.clearBody()
	if body == nil {
		body = []byte{}
	}
	b.f.RawBody = body
	return b
}

// JSON sets a value to be JSON-encoded as the body.
func (b *Builder) JSON(v any) *Builder {
	b.clearBody()
	b.f.JSON = v
	return b
}

// FormParam adds one urlencoded form field, switching the body to a form
// if it was something else.
func (b *Builder) FormParam(key, value string) *Builder {
	if b.f.FormParams == nil {
		b.clearBody()
		b.f.FormParams = make(url.Values)
	}
	b.f.FormParams.Add(key, value)
	return b
}

// FormParams sets the whole form.
func (b *Builder) FormParams(v url.Values) *Builder {
	b.clearBody()
	b.f.FormParams = cloneValues(v)
	if b.f.FormParams == nil {
		b.f.FormParams = make(url.Values)
	}
	return b
}

// Part appends a multipart part, switching the body to multipart if it was
// something else.
func (b *Builder) Part(p Part) *Builder {
	if b.f.Multipart == nil {
		b.clearBody()
		b.f.Multipart = []Part{}
	}
	b.f.Multipart = append(b.f.Multipart, p)
	return b
}

// BasicAuth sets basic credentials and clears any bearer token.
func (b *Builder) BasicAuth(username, password string) *Builder {
	b.f.BasicAuth = &BasicAuth{Username: username, Password: password}
	b.f.BearerToken = ""
	return b
}

// BearerToken sets a bearer token and clears any basic credentials.
func (b *Builder) BearerToken(token string) *Builder {
	b.f.BearerToken = token
	b.f.BasicAuth = nil
	return b
}

// MaxRedirects records the redirect limit. Redirects are never followed;
// the value is informational.
func (b *Builder) MaxRedirects(n int) *Builder {
	b.f.MaxRedirects = &n
	return b
}

func (b *Builder) UserAgent(ua string) *Builder {
	b.f.UserAgent = ua
	return b
}

func (b *Builder) Cookie(name, value string) *Builder {
	if b.f.Cookies == nil {
		b.f.Cookies = make(map[string]string)
	}
	b.f.Cookies[name] = value
	return b
}

// Session seeds the child's session with data, typically the Session() of
// a previous response.
func (b *Builder) Session(data map[string]any) *Builder {
	b.f.Session = cloneAny(data)
	return b
}

// Extra stores an opaque passthrough value.
func (b *Builder) Extra(key string, value any) *Builder {
	if b.f.Extras == nil {
		b.f.Extras = make(map[string]any)
	}
	b.f.Extras[key] = value
	return b
}

// Build validates the accumulated fields.
func (b *Builder) Build() (*Options, error) {
	return New(b.f)
}

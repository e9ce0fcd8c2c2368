// Package psr translates Guzzle-style request options.
package psr

import (
	"fmt"

	"go-php-cli/adapter"
	"go-php-cli/failure"
	"go-php-cli/options"
)

// DefaultMaxRedirects is used for allow_redirects=true.
const DefaultMaxRedirects = 5

var table = adapter.Table{
	"headers":         adapter.Translated,
	"body":            adapter.Translated,
	"json":            adapter.Translated,
	"form_params":     adapter.Translated,
	"multipart":       adapter.Translated,
	"query":           adapter.Translated,
	"auth":            adapter.Translated,
	"timeout":         adapter.Translated,
	"allow_redirects": adapter.Translated,
	"cookies":         adapter.Translated,
	"session":         adapter.Translated,

	"version":        adapter.Internal,
	"decode_content": adapter.Internal,
	"sink":           adapter.Internal,
	"http_errors":    adapter.Internal,
	"delay":          adapter.Internal,
	"base_uri":       adapter.Internal,
	"handler":        adapter.Internal,
	"on_stats":       adapter.Internal,

	"verify":           adapter.Ignored,
	"cert":             adapter.Ignored,
	"ssl_key":          adapter.Ignored,
	"proxy":            adapter.Ignored,
	"connect_timeout":  adapter.Ignored,
	"read_timeout":     adapter.Ignored,
	"debug":            adapter.Ignored,
	"progress":         adapter.Ignored,
	"force_ip_resolve": adapter.Ignored,
	"idn_conversion":   adapter.Ignored,
	"expect":           adapter.Ignored,
	"stream":           adapter.Ignored,
	"synchronous":      adapter.Ignored,
	"crypto_method":    adapter.Ignored,
	"on_headers":       adapter.Ignored,
}

// Adapter is the PSR client adapter.
type Adapter struct{}

func New() *Adapter { return &Adapter{} }

func (a *Adapter) Name() string { return "psr" }

func (a *Adapter) SupportsOption(name string) bool { return table.Supports(name) }

func (a *Adapter) SupportedOptions() []string { return table.Names() }

// Transform converts a request options mapping.
func (a *Adapter) Transform(opts map[string]any) (*options.Options, error) {
	if err := adapter.CheckBodyConflict(opts, "body", "json", "form_params", "multipart"); err != nil {
		return nil, err
	}
	if err := table.Check(a.Name(), opts); err != nil {
		return nil, err
	}

	var (
		f       options.Fields
		headers adapter.HeaderSet
		extras  = map[string]any{}
		err     error
	)

	if err := headers.AddMap(opts["headers"]); err != nil {
		return nil, failure.Construction("headers", "%v", err)
	}

	if v := opts["body"]; v != nil {
		body, streamed, err := adapter.Body(v)
		if err != nil {
			return nil, failure.Construction("body", "%v", err)
		}
		f.RawBody = body
		if streamed {
			extras["body"] = v
		}
	}
	if v := opts["json"]; v != nil {
		f.JSON = v
	}
	if v := opts["form_params"]; v != nil {
		if f.FormParams, err = adapter.ParseForm(v); err != nil {
			return nil, failure.Construction("form_params", "%v", err)
		}
	}
	if v := opts["multipart"]; v != nil {
		if f.Multipart, err = multipart(v); err != nil {
			return nil, err
		}
	}

	if v := opts["query"]; v != nil {
		if f.Query, err = adapter.ParseQuery(v); err != nil {
			return nil, failure.Construction("query", "%v", err)
		}
	}

	if v := opts["auth"]; v != nil {
		if err := auth(&f, v); err != nil {
			return nil, err
		}
	}

	if v, ok := opts["timeout"]; ok {
		d, set, err := adapter.Seconds(v)
		if err != nil {
			return nil, err
		}
		if set {
			f.Timeout = &d
		}
	}

	if v, ok := opts["allow_redirects"]; ok {
		n, cfg, err := adapter.RedirectLimit(v, DefaultMaxRedirects)
		if err != nil {
			return nil, failure.Construction("allow_redirects", "%v", err)
		}
		f.MaxRedirects = &n
		if cfg != nil {
			extras["allow_redirects"] = cfg
		}
	}

	if v := opts["cookies"]; v != nil {
		jar, err := cookies(v)
		if err != nil {
			return nil, failure.Construction("cookies", "%v", err)
		}
		if headers.Cookies == nil {
			headers.Cookies = map[string]string{}
		}
		// The explicit jar wins over a Cookie header.
		for k, val := range jar {
			headers.Cookies[k] = val
		}
	}

	if v := opts["session"]; v != nil {
		s, ok := v.(map[string]any)
		if !ok {
			return nil, failure.Construction("session", "must be a mapping, got %T", v)
		}
		f.Session = s
	}

	for name, v := range opts {
		if table[name] == adapter.Internal {
			extras[name] = v
		}
	}
	if v, ok := opts["version"]; ok && v != nil {
		version, err := adapter.Version(v)
		if err != nil {
			return nil, failure.Construction("version", "%v", err)
		}
		extras["protocol_version"] = version
	}

	f.Headers = headers.Headers
	f.Cookies = headers.Cookies
	if len(extras) > 0 {
		f.Extras = extras
	}
	return options.New(f)
}

// auth accepts [user, pass], [user, pass, "basic"], [token, "", "bearer"]
// or "user:pass".
func auth(f *options.Fields, v any) error {
	if list, ok := v.([]any); ok && len(list) >= 3 {
		scheme, _ := list[2].(string)
		switch scheme {
		case "", "basic":
		case "bearer":
			token, err := adapter.Stringify(list[0])
			if err != nil {
				return failure.Construction("auth", "%v", err)
			}
			f.BearerToken = token
			return nil
		default:
			return failure.Construction("auth", "unsupported auth scheme %q", scheme)
		}
	}
	if list, ok := v.([]string); ok && len(list) >= 3 && list[2] == "bearer" {
		f.BearerToken = list[0]
		return nil
	}
	ba, err := adapter.ParseAuth(v)
	if err != nil {
		return failure.Construction("auth", "%v", err)
	}
	f.BasicAuth = &ba
	return nil
}

// cookies accepts a plain mapping or a Cookie header string. A jar with
// richer cookie records is reduced to name/value through a "Name"/"Value"
// pair per entry.
func cookies(v any) (map[string]string, error) {
	if list, ok := v.([]map[string]any); ok {
		out := make(map[string]string, len(list))
		for _, c := range list {
			name, _ := c["Name"].(string)
			if name == "" {
				continue
			}
			value, err := adapter.Stringify(c["Value"])
			if err != nil {
				return nil, fmt.Errorf("cookie %s: %w", name, err)
			}
			out[name] = value
		}
		return out, nil
	}
	return adapter.ParseCookies(v)
}

// multipart accepts a list of {name, contents, filename?, headers?} entries.
func multipart(v any) ([]options.Part, error) {
	var entries []map[string]any
	switch list := v.(type) {
	case []map[string]any:
		entries = list
	case []any:
		for i, item := range list {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, failure.Construction("multipart", "entry %d must be a mapping, got %T", i, item)
			}
			entries = append(entries, m)
		}
	default:
		return nil, failure.Construction("multipart", "must be a list of entries, got %T", v)
	}

	parts := make([]options.Part, 0, len(entries))
	for i, e := range entries {
		name, _ := e["name"].(string)
		if name == "" {
			return nil, failure.Construction("multipart", "entry %d has no name", i)
		}
		contents, streamed, err := adapter.Body(e["contents"])
		if err != nil {
			return nil, failure.Construction("multipart", "%s: %v", name, err)
		}
		if streamed {
			return nil, failure.Construction("multipart", "%s: contents of type %T cannot be sent", name, e["contents"])
		}
		p := options.Part{Name: name, Contents: contents}
		if fn, ok := e["filename"].(string); ok {
			p.Filename = fn
		}
		if h, ok := e["headers"]; ok && h != nil {
			var hs adapter.HeaderSet
			if err := hs.AddMap(h); err != nil {
				return nil, failure.Construction("multipart", "%s: %v", name, err)
			}
			p.Headers = make(map[string]string, len(hs.Headers))
			for _, hdr := range hs.Headers {
				p.Headers[hdr.Name] = hdr.Value
			}
		}
		parts = append(parts, p)
	}
	return parts, nil
}

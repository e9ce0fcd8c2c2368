// Package legacy translates the options of a Requests-style blocking
// client, where request data is a single "data" value whose meaning
// depends on the method.
package legacy

import (
	"strings"

	"go-php-cli/adapter"
	"go-php-cli/failure"
	"go-php-cli/options"
)

// DefaultMaxRedirects is used for follow_redirects=true when "redirects" is
// absent.
const DefaultMaxRedirects = 10

var table = adapter.Table{
	"headers":          adapter.Translated,
	"data":             adapter.Translated,
	"timeout":          adapter.Translated,
	"useragent":        adapter.Translated,
	"follow_redirects": adapter.Translated,
	"redirects":        adapter.Translated,
	"auth":             adapter.Translated,
	"cookies":          adapter.Translated,
	"session":          adapter.Translated,

	"type":             adapter.Internal,
	"data_format":      adapter.Internal,
	"filename":         adapter.Internal,
	"max_bytes":        adapter.Internal,
	"protocol_version": adapter.Internal,
	"hooks":            adapter.Internal,
	"redirected":       adapter.Internal,

	"connect_timeout": adapter.Ignored,
	"proxy":           adapter.Ignored,
	"idn":             adapter.Ignored,
	"transport":       adapter.Ignored,
	"blocking":        adapter.Ignored,
	"verify":          adapter.Ignored,
	"verifyname":      adapter.Ignored,
}

// Adapter is the legacy client adapter.
type Adapter struct{}

func New() *Adapter { return &Adapter{} }

func (a *Adapter) Name() string { return "legacy" }

func (a *Adapter) SupportsOption(name string) bool { return table.Supports(name) }

func (a *Adapter) SupportedOptions() []string { return table.Names() }

// Transform converts a legacy options mapping. The "type" option carries
// the request method and decides where mapping data goes.
func (a *Adapter) Transform(opts map[string]any) (*options.Options, error) {
	if err := table.Check(a.Name(), opts); err != nil {
		return nil, err
	}

	var (
		f       options.Fields
		headers adapter.HeaderSet
		extras  = map[string]any{}
	)

	if err := headers.AddMap(opts["headers"]); err != nil {
		return nil, failure.Construction("headers", "%v", err)
	}

	if v := opts["data"]; v != nil {
		if err := data(&f, extras, v, opts); err != nil {
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

	if v, ok := opts["useragent"]; ok && v != nil {
		ua, err := adapter.Stringify(v)
		if err != nil {
			return nil, failure.Construction("useragent", "%v", err)
		}
		f.UserAgent = ua
	}

	if err := redirects(&f, extras, opts); err != nil {
		return nil, err
	}

	if v := opts["auth"]; v != nil {
		ba, err := adapter.ParseAuth(v)
		if err != nil {
			return nil, failure.Construction("auth", "%v", err)
		}
		f.BasicAuth = &ba
	}

	if v := opts["cookies"]; v != nil {
		jar, err := adapter.ParseCookies(v)
		if err != nil {
			return nil, failure.Construction("cookies", "%v", err)
		}
		if headers.Cookies == nil {
			headers.Cookies = map[string]string{}
		}
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
	if v, ok := opts["protocol_version"]; ok && v != nil {
		version, err := adapter.Version(v)
		if err != nil {
			return nil, failure.Construction("protocol_version", "%v", err)
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

// QueryMethods send mapping data in the query string by default.
var QueryMethods = map[string]bool{"GET": true, "HEAD": true, "DELETE": true}

func data(f *options.Fields, extras map[string]any, v any, opts map[string]any) error {
	method, _ := opts["type"].(string)
	method = strings.ToUpper(method)
	if method == "" {
		method = "GET"
	}
	format, _ := opts["data_format"].(string)
	if format == "" {
		format = "body"
		if QueryMethods[method] {
			format = "query"
		}
	}

	switch v.(type) {
	case map[string]any, map[string]string, map[string][]string:
		values, err := adapter.ParseForm(v)
		if err != nil {
			return failure.Construction("data", "%v", err)
		}
		if format == "query" {
			f.Query = values
		} else {
			f.FormParams = values
		}
		return nil
	}

	body, streamed, err := adapter.Body(v)
	if err != nil {
		return failure.Construction("data", "%v", err)
	}
	if format == "query" && !streamed {
		// String data on a GET is a pre-encoded query.
		q, err := adapter.ParseQuery(string(body))
		if err != nil {
			return failure.Construction("data", "%v", err)
		}
		f.Query = q
		return nil
	}
	f.RawBody = body
	if streamed {
		extras["data"] = v
	}
	return nil
}

func redirects(f *options.Fields, extras map[string]any, opts map[string]any) error {
	follow, hasFollow := opts["follow_redirects"]
	limit, hasMax := opts["redirects"]
	if !hasFollow && !hasMax {
		return nil
	}

	def := DefaultMaxRedirects
	if hasMax {
		switch m := limit.(type) {
		case map[string]any:
			n, cfg, err := adapter.RedirectLimit(m, def)
			if err != nil {
				return failure.Construction("redirects", "%v", err)
			}
			def = n
			extras["redirects"] = cfg
		default:
			n, err := adapter.ToInt(m)
			if err != nil {
				return failure.Construction("redirects", "%v", err)
			}
			if n < 0 {
				return failure.Construction("redirects", "must not be negative, got %d", n)
			}
			def = n
		}
	}

	followOn := true
	if hasFollow {
		followOn = adapter.ToBool(follow)
	}
	n, _, err := adapter.RedirectLimit(followOn, def)
	if err != nil {
		return failure.Construction("follow_redirects", "%v", err)
	}
	f.MaxRedirects = &n
	return nil
}

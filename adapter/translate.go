package adapter

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go-php-cli/failure"
	"go-php-cli/options"
)

// CheckBodyConflict fails when more than one of the named body options is
// present with a non-nil value.
func CheckBodyConflict(opts map[string]any, names ...string) error {
	var set []string
	for _, name := range names {
		if v, ok := opts[name]; ok && v != nil {
			set = append(set, name)
		}
	}
	if len(set) > 1 {
		return failure.Construction("body", "conflicting body options: %s", strings.Join(set, ", "))
	}
	return nil
}

// ParseQuery accepts a pre-encoded query string (with or without a leading
// '?') or a mapping.
func ParseQuery(v any) (url.Values, error) {
	switch q := v.(type) {
	case nil:
		return nil, nil
	case string:
		return url.ParseQuery(strings.TrimPrefix(q, "?"))
	case url.Values:
		return cloneValues(q), nil
	case map[string]string:
		out := make(url.Values, len(q))
		for k, val := range q {
			out.Set(k, val)
		}
		return out, nil
	case map[string][]string:
		return cloneValues(q), nil
	case map[string]any:
		return valuesFromMap(q)
	default:
		return nil, fmt.Errorf("query must be a string or a mapping, got %T", v)
	}
}

// ParseForm is ParseQuery for form bodies.
func ParseForm(v any) (url.Values, error) {
	return ParseQuery(v)
}

func valuesFromMap(m map[string]any) (url.Values, error) {
	out := make(url.Values, len(m))
	for k, val := range m {
		switch tv := val.(type) {
		case []string:
			out[k] = append([]string(nil), tv...)
		case []any:
			for _, item := range tv {
				s, err := Stringify(item)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", k, err)
				}
				out.Add(k, s)
			}
		default:
			s, err := Stringify(val)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out.Set(k, s)
		}
	}
	return out, nil
}

// Stringify renders a scalar option value.
func Stringify(v any) (string, error) {
	switch tv := v.(type) {
	case nil:
		return "", nil
	case string:
		return tv, nil
	case []byte:
		return string(tv), nil
	case bool:
		if tv {
			return "1", nil
		}
		return "0", nil
	case int:
		return strconv.Itoa(tv), nil
	case int64:
		return strconv.FormatInt(tv, 10), nil
	case float64:
		return strconv.FormatFloat(tv, 'f', -1, 64), nil
	case fmt.Stringer:
		return tv.String(), nil
	default:
		return "", fmt.Errorf("cannot use %T as a string value", v)
	}
}

// ParseAuth accepts a [username, password] pair (further elements are
// ignored) or a "user:pass" string split on the first colon.
func ParseAuth(v any) (options.BasicAuth, error) {
	switch a := v.(type) {
	case string:
		user, pass, _ := strings.Cut(a, ":")
		return options.BasicAuth{Username: user, Password: pass}, nil
	case []string:
		if len(a) < 2 {
			return options.BasicAuth{}, fmt.Errorf("auth needs a username and a password")
		}
		return options.BasicAuth{Username: a[0], Password: a[1]}, nil
	case []any:
		if len(a) < 2 {
			return options.BasicAuth{}, fmt.Errorf("auth needs a username and a password")
		}
		user, err := Stringify(a[0])
		if err != nil {
			return options.BasicAuth{}, err
		}
		pass, err := Stringify(a[1])
		if err != nil {
			return options.BasicAuth{}, err
		}
		return options.BasicAuth{Username: user, Password: pass}, nil
	case options.BasicAuth:
		return a, nil
	default:
		return options.BasicAuth{}, fmt.Errorf("auth must be a pair or a \"user:pass\" string, got %T", v)
	}
}

// ParseCookieHeader splits "a=b; c=d" on ';' and then on the first '='.
func ParseCookieHeader(header string) map[string]string {
	out := map[string]string{}
	for _, pair := range strings.Split(header, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, _ := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		out[name] = strings.TrimSpace(value)
	}
	return out
}

// ParseCookies accepts a cookie mapping or a Cookie header string.
func ParseCookies(v any) (map[string]string, error) {
	switch c := v.(type) {
	case nil:
		return nil, nil
	case string:
		return ParseCookieHeader(c), nil
	case map[string]string:
		out := make(map[string]string, len(c))
		for k, val := range c {
			out[k] = val
		}
		return out, nil
	case map[string]any:
		out := make(map[string]string, len(c))
		for k, val := range c {
			s, err := Stringify(val)
			if err != nil {
				return nil, fmt.Errorf("cookie %s: %w", k, err)
			}
			out[k] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cookies must be a mapping, got %T", v)
	}
}

// HeaderSet collects translated headers. Cookie headers are diverted into
// Cookies instead of the header list.
type HeaderSet struct {
	Headers []options.Header
	Cookies map[string]string
}

// Add appends one header, routing Cookie to Cookies.
func (h *HeaderSet) Add(name, value string) {
	if strings.EqualFold(strings.TrimSpace(name), "Cookie") {
		if h.Cookies == nil {
			h.Cookies = map[string]string{}
		}
		for k, v := range ParseCookieHeader(value) {
			h.Cookies[k] = v
		}
		return
	}
	h.Headers = append(h.Headers, options.Header{Name: name, Value: value})
}

// Has reports whether a header named name was added, ignoring case.
func (h *HeaderSet) Has(name string) bool {
	for _, hd := range h.Headers {
		if strings.EqualFold(hd.Name, name) {
			return true
		}
	}
	return false
}

// AddLine adds a raw "Name: value" line.
func (h *HeaderSet) AddLine(line string) error {
	name, value, ok := strings.Cut(line, ":")
	if !ok || strings.TrimSpace(name) == "" {
		return fmt.Errorf("malformed header line %q", line)
	}
	h.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	return nil
}

// AddMap adds headers from a mapping whose values are strings or lists of
// strings. Names are added in sorted order.
func (h *HeaderSet) AddMap(v any) error {
	switch m := v.(type) {
	case nil:
		return nil
	case map[string]string:
		for _, name := range sortedStringKeys(m) {
			h.Add(name, m[name])
		}
	case map[string][]string:
		names := make([]string, 0, len(m))
		for name := range m {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			for _, val := range m[name] {
				h.Add(name, val)
			}
		}
	case map[string]any:
		for _, name := range sortedKeys(m) {
			switch val := m[name].(type) {
			case []string:
				for _, s := range val {
					h.Add(name, s)
				}
			case []any:
				for _, item := range val {
					s, err := Stringify(item)
					if err != nil {
						return fmt.Errorf("header %s: %w", name, err)
					}
					h.Add(name, s)
				}
			default:
				s, err := Stringify(val)
				if err != nil {
					return fmt.Errorf("header %s: %w", name, err)
				}
				h.Add(name, s)
			}
		}
	case []string:
		for _, line := range m {
			if err := h.AddLine(line); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("headers must be a mapping or a list of lines, got %T", v)
	}
	return nil
}

// RedirectLimit maps a redirect option to a maximum count. A boolean gives
// 0 or def; a mapping's "max" field wins and the mapping is returned so it
// can be kept in extras.
func RedirectLimit(v any, def int) (max int, config map[string]any, err error) {
	switch r := v.(type) {
	case nil:
		return def, nil, nil
	case bool:
		if !r {
			return 0, nil, nil
		}
		return def, nil, nil
	case int:
		if r < 0 {
			return 0, nil, fmt.Errorf("redirect limit must not be negative, got %d", r)
		}
		return r, nil, nil
	case map[string]any:
		cfg := make(map[string]any, len(r))
		for k, val := range r {
			cfg[k] = val
		}
		max = def
		if m, ok := r["max"]; ok {
			n, err := ToInt(m)
			if err != nil {
				return 0, nil, fmt.Errorf("redirect max: %w", err)
			}
			if n < 0 {
				return 0, nil, fmt.Errorf("redirect max must not be negative, got %d", n)
			}
			max = n
		}
		return max, cfg, nil
	default:
		return 0, nil, fmt.Errorf("redirect option must be a bool or a mapping, got %T", v)
	}
}

// ToInt converts integral option values.
func ToInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%v is not an integer", n)
		}
		return int(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case string:
		return strconv.Atoi(strings.TrimSpace(n))
	default:
		return 0, fmt.Errorf("cannot use %T as an integer", v)
	}
}

// ToBool converts boolean-ish option values.
func ToBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case int:
		return b != 0
	case int64:
		return b != 0
	case float64:
		return b != 0
	case string:
		return b != "" && b != "0" && !strings.EqualFold(b, "false")
	default:
		return v != nil
	}
}

// Seconds converts a timeout given in (possibly fractional) seconds. Zero
// means no timeout and returns ok=false.
func Seconds(v any) (time.Duration, bool, error) {
	var secs float64
	switch n := v.(type) {
	case nil:
		return 0, false, nil
	case time.Duration:
		if n <= 0 {
			return 0, false, nil
		}
		return n, true, nil
	case int:
		secs = float64(n)
	case int64:
		secs = float64(n)
	case float64:
		secs = n
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false, fmt.Errorf("timeout %q: %w", n, err)
		}
		secs = f
	default:
		return 0, false, fmt.Errorf("timeout must be a number of seconds, got %T", v)
	}
	if secs < 0 {
		return 0, false, failure.Construction("timeout", "must be positive, got %v", secs)
	}
	if secs == 0 {
		return 0, false, nil
	}
	return time.Duration(secs * float64(time.Second)), true, nil
}

// StreamMarker is the body sent in place of a value with no known
// serialization.
type StreamMarker struct {
	StreamBody string `json:"stream_body"`
}

// Body renders a body option as bytes. Strings and byte slices pass
// through; readers are drained. Anything else becomes the marker JSON and
// streamed reports true so the caller can keep the raw value in extras.
func Body(v any) (body []byte, streamed bool, err error) {
	switch b := v.(type) {
	case nil:
		return nil, false, nil
	case string:
		return []byte(b), false, nil
	case []byte:
		return append([]byte{}, b...), false, nil
	case io.Reader:
		data, err := io.ReadAll(b)
		if err != nil {
			return nil, false, fmt.Errorf("reading body: %w", err)
		}
		return data, false, nil
	default:
		marker, err := json.Marshal(StreamMarker{StreamBody: fmt.Sprintf("%T", v)})
		if err != nil {
			return nil, false, err
		}
		return marker, true, nil
	}
}

func cloneValues(v map[string][]string) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}

func sortedStringKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Version renders a protocol version option. Numbers always carry one
// decimal so 1.0 stays "1.0".
func Version(v any) (string, error) {
	switch n := v.(type) {
	case float64:
		return strconv.FormatFloat(n, 'f', 1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(n), 'f', 1, 64), nil
	case int:
		return strconv.Itoa(n) + ".0", nil
	default:
		return Stringify(v)
	}
}

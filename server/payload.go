package server

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go-php-cli/failure"
	"go-php-cli/options"
	"go-php-cli/protocol"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// invocation is one request translated for the child process.
type invocation struct {
	id      string
	method  string
	url     *url.URL
	script  script
	headers []options.Header
	payload *protocol.RequestPayload
	body    []byte
	uploads *uploads
}

func (inv *invocation) cleanup() {
	if inv.uploads != nil {
		inv.uploads.cleanup()
	}
}

// buildInvocation turns method, URL and options into the payload and body
// the child reads from stdin. The caller must call cleanup when the child
// has exited.
func buildInvocation(cfg *Config, method, rawURL string, opts *options.Options, log *zap.SugaredLogger) (*invocation, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, failure.Construction("url", "invalid URL %q: %v", rawURL, err)
	}

	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}

	inv := &invocation{
		method:  method,
		url:     u,
		script:  resolveScript(cfg, u.Path),
		uploads: &uploads{log: log},
	}

	// the options' query wins over the URL's on key collision
	get := u.Query()
	for k, v := range opts.Query() {
		get[k] = append([]string(nil), v...)
	}

	post := url.Values{}
	files := map[string]protocol.UploadedFile{}
	var impliedType string
	var contentLength = -1

	switch opts.BodyKind() {
	case options.BodyForm:
		post = opts.FormParams()
		impliedType = "application/x-www-form-urlencoded"
		contentLength = len(post.Encode())
	case options.BodyJSON:
		data, err := json.Marshal(opts.JSON())
		if err != nil {
			return nil, &failure.SerializationError{Op: "encode json body", Cause: err}
		}
		inv.body = data
		impliedType = "application/json"
	case options.BodyRaw:
		inv.body = opts.RawBody()
	case options.BodyMultipart:
		fields, uploaded, err := inv.uploads.materialize(opts.Multipart())
		if err != nil {
			inv.cleanup()
			return nil, err
		}
		post, files = fields, uploaded
		impliedType = "multipart/form-data; boundary=" + multipartBoundary()
	}
	if inv.body != nil {
		contentLength = len(inv.body)
	}

	headers := newHeaderSet(opts.Headers())
	if impliedType != "" {
		headers.addIfAbsent("Content-Type", impliedType)
	}
	// A raw body declared as a form fills Post the way a web server would;
	// php://input still sees the bytes.
	if opts.BodyKind() == options.BodyRaw {
		if ct, ok := headers.get("Content-Type"); ok && isFormType(ct) {
			post, _ = url.ParseQuery(string(inv.body))
		}
	}
	if auth, ok := opts.BasicAuth(); ok {
		token := base64.StdEncoding.EncodeToString([]byte(auth.Username + ":" + auth.Password))
		headers.addIfAbsent("Authorization", "Basic "+token)
	} else if bearer := opts.BearerToken(); bearer != "" {
		headers.addIfAbsent("Authorization", "Bearer "+bearer)
	}
	if ua := opts.UserAgent(); ua != "" {
		headers.addIfAbsent("User-Agent", ua)
	}

	cookies := opts.Cookies()
	if cookies == nil {
		cookies = map[string]string{}
	}
	if raw, ok := headers.get("Cookie"); ok {
		for name, value := range parseCookieHeader(raw) {
			if _, set := cookies[name]; !set {
				cookies[name] = value
			}
		}
	} else if len(cookies) > 0 {
		headers.addIfAbsent("Cookie", cookieHeader(cookies))
	}

	if u.Host != "" {
		headers.addIfAbsent("Host", u.Host)
	}

	if id, ok := headers.get("X-Request-Id"); ok && id != "" {
		inv.id = id
	} else {
		inv.id = uuid.New().String()
		headers.addIfAbsent("X-Request-Id", inv.id)
	}
	inv.headers = headers.list

	inv.payload = &protocol.RequestPayload{
		Version:      protocol.PayloadVersion,
		ID:           inv.id,
		Get:          get,
		Post:         post,
		Cookie:       cookies,
		Files:        files,
		Session:      opts.Session(),
		Server:       serverVars(cfg, inv, contentLength, opts),
		RequestOrder: cfg.RequestOrder,
	}
	if inv.payload.Session == nil {
		inv.payload.Session = map[string]any{}
	}
	return inv, nil
}

// serverVars builds the server context the way a FastCGI front end fills
// its meta params.
func serverVars(cfg *Config, inv *invocation, contentLength int, opts *options.Options) map[string]string {
	now := time.Now()
	u := inv.url

	vars := map[string]string{
		"DOCUMENT_ROOT":      cfg.DocumentRoot,
		"SCRIPT_FILENAME":    inv.script.Filename,
		"SCRIPT_NAME":        inv.script.Name,
		"PHP_SELF":           inv.script.Name,
		"REQUEST_METHOD":     inv.method,
		"QUERY_STRING":       queryString(u.RawQuery, opts.Query()),
		"SERVER_NAME":        cfg.ServerName,
		"SERVER_PORT":        "80",
		"SERVER_PROTOCOL":    serverProtocol(opts),
		"SERVER_SOFTWARE":    cfg.ServerSoftware,
		"GATEWAY_INTERFACE":  "CGI/1.1",
		"REMOTE_ADDR":        cfg.RemoteAddr,
		"REQUEST_TIME":       strconv.FormatInt(now.Unix(), 10),
		"REQUEST_TIME_FLOAT": strconv.FormatFloat(float64(now.UnixMicro())/1e6, 'f', 6, 64),
	}

	requestURI := u.EscapedPath()
	if requestURI == "" {
		requestURI = "/"
	}
	if q := vars["QUERY_STRING"]; q != "" {
		requestURI += "?" + q
	}
	vars["REQUEST_URI"] = requestURI

	if host := u.Hostname(); host != "" {
		vars["SERVER_NAME"] = host
	}
	if strings.EqualFold(u.Scheme, "https") {
		vars["HTTPS"] = "on"
		vars["SERVER_PORT"] = "443"
	}
	if port := u.Port(); port != "" {
		vars["SERVER_PORT"] = port
	}

	for _, h := range inv.headers {
		key := serverKey(h.Name)
		if prev, ok := vars[key]; ok && strings.HasPrefix(key, "HTTP_") {
			sep := ", "
			if key == "HTTP_COOKIE" {
				sep = "; "
			}
			vars[key] = prev + sep + h.Value
			continue
		}
		vars[key] = h.Value
	}

	if _, ok := vars["CONTENT_LENGTH"]; !ok && contentLength >= 0 {
		vars["CONTENT_LENGTH"] = strconv.Itoa(contentLength)
	}
	return vars
}

// serverKey maps a header name to its server variable. Content-Type,
// Content-Length and Content-MD5 lose the HTTP_ prefix.
func serverKey(name string) string {
	key := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	switch key {
	case "CONTENT_TYPE", "CONTENT_LENGTH", "CONTENT_MD5":
		return key
	}
	return "HTTP_" + key
}

func serverProtocol(opts *options.Options) string {
	if v, ok := opts.Extra("protocol_version"); ok {
		if s := fmt.Sprint(v); s != "" {
			return "HTTP/" + strings.TrimPrefix(s, "HTTP/")
		}
	}
	return "HTTP/1.1"
}

// queryString keeps the URL's query as sent, dropping the pairs whose key
// the options override, and appends the options' query.
func queryString(raw string, override url.Values) string {
	if len(override) == 0 {
		return raw
	}
	var kept []string
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		key, _, _ := strings.Cut(pair, "=")
		if k, err := url.QueryUnescape(key); err == nil {
			key = k
		}
		if _, ok := override[key]; ok {
			continue
		}
		kept = append(kept, pair)
	}
	return strings.Join(append(kept, override.Encode()), "&")
}

func isFormType(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "application/x-www-form-urlencoded"
}

func multipartBoundary() string {
	return "----phpcli" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// headerSet is an ordered header list with case-insensitive lookup.
type headerSet struct {
	list []options.Header
}

func newHeaderSet(initial []options.Header) *headerSet {
	return &headerSet{list: append([]options.Header(nil), initial...)}
}

func (h *headerSet) get(name string) (string, bool) {
	for _, hdr := range h.list {
		if strings.EqualFold(hdr.Name, name) {
			return hdr.Value, true
		}
	}
	return "", false
}

func (h *headerSet) addIfAbsent(name, value string) {
	if _, ok := h.get(name); ok {
		return
	}
	h.list = append(h.list, options.Header{Name: name, Value: value})
}

func cookieHeader(cookies map[string]string) string {
	names := make([]string, 0, len(cookies))
	for name := range cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+"="+cookies[name])
	}
	return strings.Join(pairs, "; ")
}

func parseCookieHeader(raw string) map[string]string {
	out := map[string]string{}
	for _, pair := range strings.Split(raw, ";") {
		name, value, _ := strings.Cut(strings.TrimSpace(pair), "=")
		if name == "" {
			continue
		}
		out[name] = value
	}
	return out
}

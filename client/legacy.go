package client

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"go-php-cli/adapter"
	"go-php-cli/adapter/legacy"
)

// LegacyResponse is the blocking client's response record.
type LegacyResponse struct {
	Body            string
	RawHeaders      string
	Headers         http.Header
	StatusCode      int
	ProtocolVersion float64
	Success         bool
	URL             string
	Cookies         map[string]string
	RequestID       string
	Session         map[string]any
}

// IsRedirect reports a 3xx status carrying a Location.
func (r *LegacyResponse) IsRedirect() bool {
	return r.StatusCode >= 300 && r.StatusCode < 400 && r.Headers.Get("Location") != ""
}

// HTTPStatusError is returned by ThrowForStatus.
type HTTPStatusError struct {
	StatusCode int
	Reason     string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("%d %s", e.StatusCode, e.Reason)
}

// ThrowForStatus fails for any unsuccessful response. A redirect only
// fails when allowRedirects is false.
func (r *LegacyResponse) ThrowForStatus(allowRedirects bool) error {
	if r.IsRedirect() {
		if !allowRedirects {
			return &HTTPStatusError{StatusCode: r.StatusCode, Reason: "Redirection not allowed"}
		}
		return nil
	}
	if !r.Success {
		return &HTTPStatusError{StatusCode: r.StatusCode, Reason: http.StatusText(r.StatusCode)}
	}
	return nil
}

// AfterRequestHook is called with every response when registered under
// "requests.after_request" in the hooks option.
type AfterRequestHook func(*LegacyResponse)

// LegacyClient is the blocking client.
type LegacyClient struct {
	req     Requester
	adapter *legacy.Adapter
}

func NewLegacyClient(req Requester) *LegacyClient {
	return &LegacyClient{req: req, adapter: legacy.New()}
}

// Request sends one request. headers and data are merged into opts under
// "headers" and "data", and method becomes "type".
func (c *LegacyClient) Request(ctx context.Context, rawURL string, headers map[string]string, data any, method string, opts map[string]any) (*LegacyResponse, error) {
	merged := make(map[string]any, len(opts)+3)
	for k, v := range opts {
		merged[k] = v
	}
	if method == "" {
		method = http.MethodGet
	}
	merged["type"] = strings.ToUpper(method)
	if data != nil {
		merged["data"] = data
	}
	if len(headers) > 0 {
		merged["headers"] = headers
	}
	if _, ok := merged["protocol_version"]; !ok {
		merged["protocol_version"] = 1.1
	}

	o, err := c.adapter.Transform(merged)
	if err != nil {
		return nil, err
	}

	ex, err := send(ctx, c.req, merged["type"].(string), rawURL, o)
	if err != nil {
		return nil, err
	}

	respHeaders, body := ex.resp.Headers(), ex.resp.Content()
	// Decoding is on when the request advertised an encoding.
	if _, ok := o.Header("Accept-Encoding"); ok {
		if respHeaders, body, err = decodeResponse(respHeaders, body); err != nil {
			return nil, err
		}
	}

	if v, ok := merged["max_bytes"]; ok && v != nil {
		n, err := adapter.ToInt(v)
		if err != nil {
			return nil, err
		}
		if n >= 0 && len(body) > n {
			body = body[:n]
		}
	}

	status := ex.resp.StatusCode()
	version, _ := strconv.ParseFloat(ex.version, 64)
	resp := &LegacyResponse{
		RawHeaders:      rawHeaders(ex.version, status, respHeaders),
		Headers:         headerFromLines(respHeaders),
		StatusCode:      status,
		ProtocolVersion: version,
		Success:         status >= 200 && status < 300,
		URL:             ex.url,
		Cookies:         responseCookies(respHeaders),
		RequestID:       ex.resp.RequestID(),
		Session:         ex.resp.Session(),
	}

	if filename, ok := merged["filename"].(string); ok && filename != "" {
		if err := os.WriteFile(filename, body, 0o644); err != nil {
			return nil, fmt.Errorf("writing %s: %w", filename, err)
		}
	} else {
		resp.Body = string(body)
	}

	if hooks, ok := merged["hooks"].(map[string]AfterRequestHook); ok {
		if h := hooks["requests.after_request"]; h != nil {
			h(resp)
		}
	}
	return resp, nil
}

func rawHeaders(version string, status int, headers []string) string {
	var b strings.Builder
	b.WriteString(statusLine(version, status))
	for _, line := range headers {
		b.WriteString("\r\n")
		b.WriteString(line)
	}
	return b.String()
}

func responseCookies(headers []string) map[string]string {
	out := map[string]string{}
	for _, line := range headers {
		name, value, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(name), "Set-Cookie") {
			continue
		}
		c, err := http.ParseSetCookie(strings.TrimSpace(value))
		if err != nil {
			continue
		}
		out[c.Name] = c.Value
	}
	return out
}

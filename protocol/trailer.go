package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"

	"github.com/tidwall/gjson"
)

// Trailer wire markers. Everything between them is standard base64.
const (
	TrailerPrefix = "<!--HTTP_CLI_HEADERS:"
	TrailerSuffix = "-->"
)

// TrailerVersion tags every trailer the shim writes.
const TrailerVersion = "1"

// DefaultStatus is used when no trailer is found.
const DefaultStatus = 200

// Trailer carries response metadata out of the child.
type Trailer struct {
	Status  int            `json:"status"`
	Headers []string       `json:"headers"`
	Session map[string]any `json:"session"`
	Version string         `json:"version"`
}

// EncodeTrailer renders t as a delimited token ready to append to output.
func EncodeTrailer(t *Trailer) ([]byte, error) {
	if t.Headers == nil {
		t.Headers = []string{}
	}
	if t.Session == nil {
		t.Session = map[string]any{}
	}
	if t.Version == "" {
		t.Version = TrailerVersion
	}

	raw, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(TrailerPrefix)+base64.StdEncoding.EncodedLen(len(raw))+len(TrailerSuffix))
	out = append(out, TrailerPrefix...)
	out = base64.StdEncoding.AppendEncode(out, raw)
	out = append(out, TrailerSuffix...)
	return out, nil
}

// ExtractTrailer looks for a trailer at the end of output. On success it
// returns the decoded trailer and the content with exactly that trailing
// occurrence removed. Otherwise it returns a default trailer (status 200, no
// headers, empty session), output unchanged and ok=false: a missing or
// malformed trailer is not an error.
func ExtractTrailer(output []byte) (t *Trailer, content []byte, ok bool) {
	fallback := &Trailer{Status: DefaultStatus, Headers: []string{}, Session: map[string]any{}}

	tail := bytes.TrimRight(output, " \t\r\n")
	if !bytes.HasSuffix(tail, []byte(TrailerSuffix)) {
		return fallback, output, false
	}

	// base64 never contains '<', so the last prefix is the only candidate.
	start := bytes.LastIndex(tail, []byte(TrailerPrefix))
	if start < 0 {
		return fallback, output, false
	}
	encoded := tail[start+len(TrailerPrefix) : len(tail)-len(TrailerSuffix)]

	raw := make([]byte, base64.StdEncoding.DecodedLen(len(encoded)))
	n, err := base64.StdEncoding.Decode(raw, encoded)
	if err != nil {
		return fallback, output, false
	}
	raw = raw[:n]

	if !validTrailer(raw) {
		return fallback, output, false
	}

	var decoded Trailer
	if err := unmarshal(raw, &decoded); err != nil {
		return fallback, output, false
	}
	if decoded.Headers == nil {
		decoded.Headers = []string{}
	}
	if decoded.Session == nil {
		decoded.Session = map[string]any{}
	}
	normalizeNumbers(decoded.Session)

	return &decoded, output[:start], true
}

// validTrailer requires a numeric status within range and a headers field.
func validTrailer(raw []byte) bool {
	if !gjson.ValidBytes(raw) {
		return false
	}
	status := gjson.GetBytes(raw, "status")
	if status.Type != gjson.Number {
		return false
	}
	if code := status.Int(); code < 100 || code > 599 {
		return false
	}
	headers := gjson.GetBytes(raw, "headers")
	return headers.Exists() && (headers.IsArray() || headers.Type == gjson.Null)
}

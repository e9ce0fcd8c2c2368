package client

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"

	"go-php-cli/failure"
)

// decodeBody undoes a gzip or deflate Content-Encoding. Any other encoding
// is returned untouched with decoded=false.
func decodeBody(encoding string, body []byte) (out []byte, decoded bool, err error) {
	var r io.ReadCloser
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "gzip", "x-gzip":
		r, err = gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, false, &failure.SerializationError{Op: "decode gzip body", Cause: err}
		}
	case "deflate":
		// Servers disagree on whether deflate means zlib-wrapped or raw.
		if zr, zerr := zlib.NewReader(bytes.NewReader(body)); zerr == nil {
			r = zr
		} else {
			r = flate.NewReader(bytes.NewReader(body))
		}
	default:
		return body, false, nil
	}
	defer r.Close()

	out, err = io.ReadAll(r)
	if err != nil {
		return nil, false, &failure.SerializationError{Op: "decode " + encoding + " body", Cause: err}
	}
	return out, true, nil
}

// decodeResponse decodes body per its Content-Encoding header and rewrites
// the header lines to match. Unsupported encodings leave both untouched.
func decodeResponse(headers []string, body []byte) ([]string, []byte, error) {
	var encoding string
	for _, line := range headers {
		name, value, ok := strings.Cut(line, ":")
		if ok && strings.EqualFold(strings.TrimSpace(name), "Content-Encoding") {
			encoding = strings.TrimSpace(value)
		}
	}
	if encoding == "" {
		return headers, body, nil
	}

	out, decoded, err := decodeBody(encoding, body)
	if err != nil || !decoded {
		return headers, body, err
	}

	rewritten := make([]string, 0, len(headers)+1)
	for _, line := range headers {
		name, _, _ := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if strings.EqualFold(name, "Content-Encoding") || strings.EqualFold(name, "Content-Length") {
			continue
		}
		rewritten = append(rewritten, line)
	}
	rewritten = append(rewritten, "Content-Length: "+strconv.Itoa(len(out)))
	return rewritten, out, nil
}

// drain writes body to sink: an io.Writer, a func([]byte) int callback or
// a file path.
func drain(sink any, body []byte) error {
	switch s := sink.(type) {
	case nil:
		return nil
	case io.Writer:
		_, err := s.Write(body)
		return err
	case func([]byte) int:
		if n := s(body); n != len(body) {
			return fmt.Errorf("write callback accepted %d of %d bytes", n, len(body))
		}
		return nil
	case string:
		return os.WriteFile(s, body, 0o644)
	default:
		return fmt.Errorf("unsupported sink of type %T", sink)
	}
}

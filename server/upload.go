package server

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"go-php-cli/options"
	"go-php-cli/protocol"

	"go.uber.org/zap"
)

const defaultUploadType = "application/octet-stream"

// uploads owns the temp files created for one request.
type uploads struct {
	log   *zap.SugaredLogger
	paths []string
}

// materialize writes every part with a filename to a temp file and returns
// the file descriptors; the other parts become plain fields.
func (u *uploads) materialize(parts []options.Part) (url.Values, map[string]protocol.UploadedFile, error) {
	fields := url.Values{}
	files := make(map[string]protocol.UploadedFile)

	for _, part := range parts {
		if part.Filename == "" {
			fields.Add(part.Name, string(part.Contents))
			continue
		}

		f, err := os.CreateTemp("", "phpcli-upload-*")
		if err != nil {
			return nil, nil, fmt.Errorf("creating temp file for %q: %w", part.Name, err)
		}
		u.paths = append(u.paths, f.Name())

		if _, err := f.Write(part.Contents); err != nil {
			_ = f.Close()
			return nil, nil, fmt.Errorf("writing temp file for %q: %w", part.Name, err)
		}
		if err := f.Close(); err != nil {
			return nil, nil, fmt.Errorf("closing temp file for %q: %w", part.Name, err)
		}

		files[part.Name] = protocol.UploadedFile{
			Name:    part.Filename,
			Type:    uploadType(part),
			TmpName: f.Name(),
			Error:   0,
			Size:    int64(len(part.Contents)),
		}
	}
	return fields, files, nil
}

// cleanup removes every temp file. Errors are logged, not returned.
func (u *uploads) cleanup() {
	for _, p := range u.paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			u.log.Warnf("removing upload temp file %s: %v", p, err)
		}
	}
	u.paths = nil
}

// uploadType is the part's explicit Content-Type, else a sniffed type.
func uploadType(part options.Part) string {
	for name, value := range part.Headers {
		if strings.EqualFold(name, "Content-Type") && value != "" {
			return value
		}
	}
	if len(part.Contents) == 0 {
		return defaultUploadType
	}
	sniffed := http.DetectContentType(part.Contents)
	if sniffed == "" {
		return defaultUploadType
	}
	return sniffed
}

package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"go-php-cli/failure"
)

// MaxFrameSize bounds a single frame on the request channel.
const MaxFrameSize = 64 * 1024 * 1024

// EncodePayload writes p and body as two length-prefixed frames:
// a JSON payload frame, then the raw body frame.
func EncodePayload(w io.Writer, p *RequestPayload, body []byte) error {
	if p.Version == 0 {
		p.Version = PayloadVersion
	}

	jsonBytes, err := json.Marshal(p)
	if err != nil {
		return &failure.SerializationError{Op: "encode payload", Cause: err}
	}
	if len(jsonBytes) > MaxFrameSize || len(body) > MaxFrameSize {
		return &failure.SerializationError{Op: "encode payload", Cause: fmt.Errorf("frame exceeds %d bytes", MaxFrameSize)}
	}

	if err := writeFrame(w, jsonBytes); err != nil {
		return err
	}
	return writeFrame(w, body)
}

// MarshalPayload is EncodePayload into a fresh buffer.
func MarshalPayload(p *RequestPayload, body []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodePayload(&buf, p, body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodePayload reads the two frames written by EncodePayload.
func DecodePayload(r io.Reader) (*RequestPayload, []byte, error) {
	jsonBytes, err := readFrame(r)
	if err != nil {
		return nil, nil, fmt.Errorf("reading payload frame: %w", err)
	}

	var p RequestPayload
	if err := unmarshal(jsonBytes, &p); err != nil {
		return nil, nil, &failure.SerializationError{Op: "decode payload", Cause: err}
	}
	if p.Version != PayloadVersion {
		return nil, nil, &failure.SerializationError{
			Op:    "decode payload",
			Cause: fmt.Errorf("payload version %d, want %d", p.Version, PayloadVersion),
		}
	}

	normalizeNumbers(p.Session)

	body, err := readFrame(r)
	if err != nil {
		return nil, nil, fmt.Errorf("reading body frame: %w", err)
	}
	return &p, body, nil
}

func writeFrame(w io.Writer, data []byte) error {
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(data)))

	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	_, err := w.Write(data)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	hdr := make([]byte, 4)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(hdr)
	if length > MaxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit", length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

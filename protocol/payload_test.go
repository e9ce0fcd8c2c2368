package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"net/url"
	"testing"

	"go-php-cli/failure"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadRoundTrip(t *testing.T) {
	p := &RequestPayload{
		ID:     "req-1",
		Get:    url.Values{"x": {"hello"}},
		Post:   url.Values{"name": {"bob"}},
		Cookie: map[string]string{"PHPSESSID": "abc"},
		Files: map[string]UploadedFile{
			"upload": {Name: "a.txt", Type: "text/plain", TmpName: "/tmp/a", Size: 3},
		},
		Session:      map[string]any{"count": "1"},
		Server:       map[string]string{"REQUEST_METHOD": "POST"},
		RequestOrder: "GP",
	}
	body := []byte("raw body bytes")

	data, err := MarshalPayload(p, body)
	require.NoError(t, err)

	got, gotBody, err := DecodePayload(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, PayloadVersion, got.Version)
	assert.Equal(t, p.Get, got.Get)
	assert.Equal(t, p.Post, got.Post)
	assert.Equal(t, p.Cookie, got.Cookie)
	assert.Equal(t, p.Files, got.Files)
	assert.Equal(t, p.Session, got.Session)
	assert.Equal(t, p.Server, got.Server)
	assert.Equal(t, body, gotBody)
}

func TestPayloadEmptyBody(t *testing.T) {
	data, err := MarshalPayload(&RequestPayload{}, nil)
	require.NoError(t, err)

	_, body, err := DecodePayload(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Empty(t, body)
}

func TestEncodePayloadUnencodableSession(t *testing.T) {
	_, err := MarshalPayload(&RequestPayload{Session: map[string]any{"ch": make(chan int)}}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, failure.ErrSerialization)
}

func TestDecodePayloadRejectsBadInput(t *testing.T) {
	_, _, err := DecodePayload(bytes.NewReader(nil))
	assert.Error(t, err)

	frame := func(data []byte) []byte {
		hdr := make([]byte, 4)
		binary.BigEndian.PutUint32(hdr, uint32(len(data)))
		return append(hdr, data...)
	}

	_, _, err = DecodePayload(bytes.NewReader(frame([]byte("[1,2,3]"))))
	assert.ErrorIs(t, err, failure.ErrSerialization)

	_, _, err = DecodePayload(bytes.NewReader(append(frame([]byte(`{"version":99}`)), frame(nil)...)))
	assert.ErrorIs(t, err, failure.ErrSerialization)

	// payload frame without the body frame
	_, _, err = DecodePayload(bytes.NewReader(frame([]byte(`{"version":1}`))))
	assert.Error(t, err)
}

func TestCombineParams(t *testing.T) {
	get := url.Values{"a": {"get"}, "g": {"1"}}
	post := url.Values{"a": {"post"}, "p": {"1"}}
	cookie := url.Values{"a": {"cookie"}, "c": {"1"}}

	tests := []struct {
		order string
		want  string
	}{
		{"CGP", "post"},
		{"GPC", "cookie"},
		{"PG", "get"},
		{"egpcs", "cookie"},
		{"", "post"},
		{"XYZ", "post"},
	}
	for _, tt := range tests {
		t.Run(tt.order, func(t *testing.T) {
			got := CombineParams(tt.order, get, post, cookie)
			assert.Equal(t, tt.want, got.Get("a"))
		})
	}

	onlyGet := CombineParams("G", get, post, cookie)
	assert.Equal(t, "", onlyGet.Get("p"))
	assert.Equal(t, "1", onlyGet.Get("g"))
}

func TestPayloadRequestView(t *testing.T) {
	p := &RequestPayload{
		Get:    url.Values{"x": {"q"}},
		Cookie: map[string]string{"x": "c", "y": "c"},
	}
	req := p.Request()
	assert.Equal(t, "q", req.Get("x"))
	assert.Equal(t, "c", req.Get("y"))
}

func TestPayloadSessionKeepsIntegers(t *testing.T) {
	session := map[string]any{"n": int64(1), "big": int64(9007199254740993), "f": 2.25}
	data, err := MarshalPayload(&RequestPayload{Session: session}, nil)
	require.NoError(t, err)

	got, _, err := DecodePayload(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, session, got.Session)
}

func TestUnmarshalRejectsTrailingData(t *testing.T) {
	var v map[string]any
	assert.Error(t, unmarshal([]byte(`{"a":1} {"b":2}`), &v))
	require.NoError(t, unmarshal([]byte(`{"a":1}`+"\n"), &v))
	assert.Equal(t, map[string]any{"a": json.Number("1")}, v)
}

package bodyparser

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identityStream(data []byte, length int64) *stream {
	source := &sourceReader{r: bytes.NewReader(data)}
	return &stream{Reader: source, source: source, encoding: identityEncoding, length: length}
}

func TestReadBounded(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		length   int64
		limit    int64
		wantKind ErrorKind
	}{
		{name: "known length", data: "hello", length: 5, limit: 10},
		{name: "unknown length", data: "hello", length: -1, limit: 10},
		{name: "exactly at limit", data: "hello", length: -1, limit: 5},
		{name: "empty", data: "", length: -1, limit: 0},
		{name: "declared over limit", data: "hello", length: 5, limit: 4, wantKind: KindEntityTooLarge},
		{name: "streamed over limit", data: "hello", length: -1, limit: 4, wantKind: KindEntityTooLarge},
		{name: "shorter than declared", data: "hello", length: 6, limit: 10, wantKind: KindStreamLengthMismatch},
		{name: "longer than declared", data: "hello", length: 4, limit: 10, wantKind: KindStreamLengthMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readBounded(identityStream([]byte(tt.data), tt.length), tt.limit)
			if tt.wantKind != KindUnknown {
				require.NotNil(t, err)
				assert.Equal(t, tt.wantKind, err.Kind)
				assert.Equal(t, tt.limit, err.Limit)
				return
			}
			require.Nil(t, err)
			assert.Equal(t, tt.data, string(got))
		})
	}
}

func TestReadBoundedBuffersAtMostLimitPlusOne(t *testing.T) {
	src := strings.NewReader(strings.Repeat("a", 1<<20))
	source := &sourceReader{r: src}
	s := &stream{Reader: source, source: source, encoding: identityEncoding, length: -1}

	_, err := readBounded(s, 1024)
	require.NotNil(t, err)
	assert.Equal(t, int64(1025), err.Received)
	assert.Equal(t, int64(1<<20-1025), int64(src.Len()))
}

func TestOpenStreamDecompressors(t *testing.T) {
	payload := []byte(`{"name":"论"}`)

	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	_, err := gw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	var br bytes.Buffer
	bw := brotli.NewWriter(&br)
	_, err = bw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, bw.Close())

	tests := []struct {
		encoding string
		body     []byte
	}{
		{encoding: "gzip", body: gz.Bytes()},
		{encoding: "br", body: br.Bytes()},
		{encoding: "deflate", body: mustHex(t, "789cab56ca4bcc4d55b2527ab16e97522d00274505ac")},
	}

	for _, tt := range tests {
		t.Run(tt.encoding, func(t *testing.T) {
			// twice, so the second run uses a pooled decompressor
			for i := 0; i < 2; i++ {
				req := newRequest("application/json", tt.body)
				req.Header.Set("Content-Encoding", tt.encoding)

				encoding, serr := resolveEncoding(req, true)
				require.Nil(t, serr)
				assert.Equal(t, tt.encoding, encoding)

				s, serr := openStream(req, encoding)
				require.Nil(t, serr)
				assert.Equal(t, int64(-1), s.length)
				assert.True(t, s.compressed())

				got, rerr := io.ReadAll(s)
				s.Close()
				s.Close()
				require.NoError(t, rerr)
				assert.Equal(t, payload, got)
			}
		})
	}
}

func TestResolveEncodingRejections(t *testing.T) {
	tests := []struct {
		name     string
		encoding []string
		inflate  bool
		wantMsg  string
	}{
		{name: "unknown", encoding: []string{"compress"}, inflate: true, wantMsg: `unsupported content encoding "compress"`},
		{name: "stacked", encoding: []string{"gzip", "br"}, inflate: true, wantMsg: `unsupported content encoding "gzip, br"`},
		{name: "inflate disabled", encoding: []string{"br"}, inflate: false, wantMsg: "content encoding unsupported"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := newRequest("application/json", []byte("payload"))
			for _, e := range tt.encoding {
				req.Header.Add("Content-Encoding", e)
			}

			body := &trackingBody{Reader: bytes.NewReader([]byte("payload"))}
			req.Body = body

			_, err := resolveEncoding(req, tt.inflate)
			require.NotNil(t, err)
			assert.Zero(t, body.reads)
			assert.Equal(t, KindEncodingUnsupported, err.Kind)
			assert.Equal(t, tt.wantMsg, err.Error())
		})
	}
}

func TestOpenStreamIdentityLength(t *testing.T) {
	req := newRequest("application/json", []byte("payload"))
	encoding, err := resolveEncoding(req, true)
	require.Nil(t, err)
	assert.Equal(t, identityEncoding, encoding)

	s, err := openStream(req, encoding)
	require.Nil(t, err)
	assert.Equal(t, int64(7), s.length)
	assert.False(t, s.compressed())

	req = chunked(newRequest("application/json", []byte("payload")))
	s, err = openStream(req, identityEncoding)
	require.Nil(t, err)
	assert.Equal(t, int64(-1), s.length)
}

func TestOpenStreamWithoutBody(t *testing.T) {
	req := newRequest("application/json", nil)
	req.Body = http.NoBody

	_, err := openStream(req, identityEncoding)
	require.NotNil(t, err)
	assert.Equal(t, KindStreamNotReadable, err.Kind)
}

func TestDrain(t *testing.T) {
	body := io.NopCloser(strings.NewReader("0123456789"))
	assert.Equal(t, int64(4), drain(body, 4))
	assert.Equal(t, int64(6), drain(body, 0))
	assert.Equal(t, int64(0), drain(nil, 0))
}

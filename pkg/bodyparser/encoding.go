package bodyparser

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

const identityEncoding = "identity"

// decompressor is a reusable decoding reader.
type decompressor interface {
	io.Reader
	Reset(src io.Reader) error
}

type zlibDecompressor struct {
	rc io.ReadCloser
}

func (z *zlibDecompressor) Read(p []byte) (int, error) {
	return z.rc.Read(p)
}

func (z *zlibDecompressor) Reset(src io.Reader) error {
	if z.rc == nil {
		rc, err := zlib.NewReader(src)
		if err != nil {
			return err
		}
		z.rc = rc
		return nil
	}
	resetter, ok := z.rc.(zlib.Resetter)
	if !ok {
		return errors.New("zlib reader cannot be reset")
	}
	return resetter.Reset(src, nil)
}

type decompressorPool struct {
	name string
	pool sync.Pool
}

func newDecompressorPool(name string, newDecompressor func() decompressor) *decompressorPool {
	return &decompressorPool{
		name: name,
		pool: sync.Pool{
			New: func() any { return newDecompressor() },
		},
	}
}

// get returns a decompressor reading from src and the func that hands it back.
func (p *decompressorPool) get(src io.Reader) (decompressor, func(), error) {
	d := p.pool.Get().(decompressor) //nolint:forcetypeassert,errcheck
	release := func() {
		_ = d.Reset(emptyReader{})
		p.pool.Put(d)
	}
	if err := d.Reset(src); err != nil {
		release()
		return nil, nil, err
	}
	return d, release, nil
}

type emptyReader struct{}

func (emptyReader) Read([]byte) (int, error) { return 0, io.EOF }

var decompressors = map[string]*decompressorPool{
	"gzip": newDecompressorPool("gzip", func() decompressor {
		return &gzip.Reader{}
	}),
	"deflate": newDecompressorPool("deflate", func() decompressor {
		return &zlibDecompressor{}
	}),
	"br": newDecompressorPool("br", func() decompressor {
		return &brotli.Reader{}
	}),
}

// SupportedEncodings lists the content codings that can be inflated.
func SupportedEncodings() []string {
	return []string{"gzip", "deflate", "br"}
}

// sourceReader remembers the first error returned by the raw body so that
// transport failures can be told apart from corrupt compressed data.
type sourceReader struct {
	r   io.Reader
	err error
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) && s.err == nil {
		s.err = err
	}
	return n, err
}

// stream is the readable view of a request body after the
// Content-Encoding stage.
type stream struct {
	io.Reader
	source   *sourceReader
	encoding string
	// length is the number of bytes the stream must yield, or -1 when unknown
	length  int64
	release func()
}

func (s *stream) compressed() bool {
	return s.encoding != identityEncoding
}

// Close hands a pooled decompressor back. It is safe to call more than once.
func (s *stream) Close() {
	if s.release != nil {
		s.release()
		s.release = nil
	}
}

func contentEncoding(r *http.Request) string {
	values := r.Header.Values("Content-Encoding")
	encoding := strings.ToLower(strings.TrimSpace(strings.Join(values, ", ")))
	if encoding == "" {
		return identityEncoding
	}
	return encoding
}

// knownLength returns the declared body length, or -1.
func knownLength(r *http.Request) int64 {
	if len(r.TransferEncoding) > 0 || r.Header.Get("Transfer-Encoding") != "" {
		return -1
	}
	if cl := r.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64); err == nil && n >= 0 {
			return n
		}
	}
	if r.ContentLength >= 0 {
		return r.ContentLength
	}
	return -1
}

// resolveEncoding checks the Content-Encoding of r without reading the body.
func resolveEncoding(r *http.Request, inflate bool) (string, *Error) {
	encoding := contentEncoding(r)
	if encoding == identityEncoding {
		return encoding, nil
	}

	if !inflate {
		e := newError(KindEncodingUnsupported, "content encoding unsupported", nil)
		e.Encoding = encoding
		return "", e
	}

	if _, ok := decompressors[encoding]; !ok {
		e := newError(KindEncodingUnsupported, fmt.Sprintf("unsupported content encoding %q", encoding), nil)
		e.Encoding = encoding
		return "", e
	}
	return encoding, nil
}

// openStream puts the decoding stage for a resolved encoding in front of the
// body. Compressed streams read their header here.
func openStream(r *http.Request, encoding string) (*stream, *Error) {
	if r.Body == nil || r.Body == http.NoBody {
		e := newError(KindStreamNotReadable, "stream is not readable", nil)
		e.Encoding = encoding
		return nil, e
	}

	source := &sourceReader{r: r.Body}

	if encoding == identityEncoding {
		return &stream{
			Reader:   source,
			source:   source,
			encoding: encoding,
			length:   knownLength(r),
		}, nil
	}

	pool, ok := decompressors[encoding]
	if !ok {
		e := newError(KindEncodingUnsupported, fmt.Sprintf("unsupported content encoding %q", encoding), nil)
		e.Encoding = encoding
		return nil, e
	}

	d, release, err := pool.get(source)
	if err != nil {
		return nil, classifyReadError(err, source, encoding, 0)
	}

	return &stream{
		Reader:   d,
		source:   source,
		encoding: encoding,
		length:   -1,
		release:  release,
	}, nil
}

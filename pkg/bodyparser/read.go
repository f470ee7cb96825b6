package bodyparser

import (
	"bytes"
	"errors"
	"io"
	"net/http"
)

// classifyReadError maps a failure while pulling bytes through the stream
// onto an error kind. Failures of the raw body win over decoder failures.
func classifyReadError(err error, source *sourceReader, encoding string, received int64) *Error {
	if be, ok := AsError(err); ok {
		return be
	}

	cause := err
	if source != nil && source.err != nil {
		cause = source.err
	}

	var e *Error
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(cause, &maxBytes):
		e = newError(KindEntityTooLarge, "request entity too large", cause)
		e.Limit = maxBytes.Limit
	case errors.Is(cause, http.ErrBodyReadAfterClose):
		e = newError(KindStreamNotReadable, "stream is not readable", cause)
	case source != nil && source.err != nil:
		e = newError(KindRequestAborted, "request aborted", cause)
	case encoding != identityEncoding:
		e = newError(KindInflateFailed, "failed to decode "+encoding+" content: "+err.Error(), err)
	default:
		e = newError(KindRequestAborted, "request aborted", err)
	}
	e.Encoding = encoding
	e.Received = received
	return e
}

// readBounded buffers the whole stream, never holding more than limit+1
// bytes. A declared length is checked against the limit before reading and
// against the bytes received afterwards.
func readBounded(s *stream, limit int64) ([]byte, *Error) {
	if s.length >= 0 && s.length > limit {
		e := newError(KindEntityTooLarge, "request entity too large", nil)
		e.Encoding = s.encoding
		e.Limit = limit
		e.Length = s.length
		return nil, e
	}

	var buf bytes.Buffer
	if s.length > 0 {
		buf.Grow(int(s.length))
	}

	window := limit + 1
	if window < limit {
		window = limit
	}

	n, err := buf.ReadFrom(io.LimitReader(s, window))
	if err != nil {
		e := classifyReadError(err, s.source, s.encoding, n)
		e.Limit = limit
		e.Length = s.length
		return nil, e
	}

	if n > limit {
		e := newError(KindEntityTooLarge, "request entity too large", nil)
		e.Encoding = s.encoding
		e.Limit = limit
		e.Length = s.length
		e.Received = n
		return nil, e
	}

	if s.length >= 0 && n != s.length {
		e := newError(KindStreamLengthMismatch, "request size did not match content length", nil)
		e.Encoding = s.encoding
		e.Limit = limit
		e.Length = s.length
		e.Received = n
		return nil, e
	}

	return buf.Bytes(), nil
}

// drain discards what is left of the raw body so the connection can be
// reused. At most max bytes are read when max is positive.
func drain(body io.ReadCloser, max int64) int64 {
	if body == nil || body == http.NoBody {
		return 0
	}
	var src io.Reader = body
	if max > 0 {
		src = io.LimitReader(body, max)
	}
	n, _ := io.Copy(io.Discard, src)
	return n
}

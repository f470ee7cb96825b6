package bodyparser

import (
	"errors"
	"fmt"
	"net/http"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
)

// ErrorKind identifies the stage-level reason an ingestion failed.
type ErrorKind int

const (
	// KindUnknown is only used for errors that were not produced by the pipeline
	KindUnknown ErrorKind = iota
	// KindCharsetUnsupported means the charset validator rejected the request charset
	KindCharsetUnsupported
	// KindEncodingUnsupported means the Content-Encoding is unknown or inflation is disabled
	KindEncodingUnsupported
	// KindEntityTooLarge means the body exceeded the configured limit
	KindEntityTooLarge
	// KindStreamLengthMismatch means Content-Length disagreed with the bytes received
	KindStreamLengthMismatch
	// KindVerifyFailed means the verify hook vetoed the body
	KindVerifyFailed
	// KindParseFailed means the parse function rejected the body
	KindParseFailed
	// KindStreamNotReadable means the body was consumed before the pipeline could read it
	KindStreamNotReadable
	// KindInflateFailed means the compressed body was corrupt
	KindInflateFailed
	// KindRequestAborted means the connection failed while the body was being read
	KindRequestAborted
)

type kindInfo struct {
	name   string
	status int
	typ    string
}

var kinds = map[ErrorKind]kindInfo{
	KindUnknown:              {"Unknown", http.StatusInternalServerError, "internal"},
	KindCharsetUnsupported:   {"CharsetUnsupported", http.StatusUnsupportedMediaType, "charset.unsupported"},
	KindEncodingUnsupported:  {"EncodingUnsupported", http.StatusUnsupportedMediaType, "encoding.unsupported"},
	KindEntityTooLarge:       {"EntityTooLarge", http.StatusRequestEntityTooLarge, "entity.too.large"},
	KindStreamLengthMismatch: {"StreamLengthMismatch", http.StatusBadRequest, "request.size.invalid"},
	KindVerifyFailed:         {"VerifyFailed", http.StatusForbidden, "entity.verify.failed"},
	KindParseFailed:          {"ParseFailed", http.StatusBadRequest, "entity.parse.failed"},
	KindStreamNotReadable:    {"StreamNotReadable", http.StatusInternalServerError, "stream.not.readable"},
	KindInflateFailed:        {"InflateFailed", http.StatusBadRequest, "encoding.inflate.failed"},
	KindRequestAborted:       {"RequestAborted", http.StatusBadRequest, "request.aborted"},
}

func (k ErrorKind) String() string {
	if info, ok := kinds[k]; ok {
		return info.name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Status returns the default HTTP status for the kind.
func (k ErrorKind) Status() int {
	if info, ok := kinds[k]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

// Type returns the default machine-readable error type for the kind.
func (k ErrorKind) Type() string {
	if info, ok := kinds[k]; ok {
		return info.typ
	}
	return "internal"
}

// previewLimit bounds how much of an offending body is kept on a parse error
const previewLimit = 100

// Error is a classified ingestion failure. It is produced once, by the stage
// that detected the fault, and is never relabelled afterwards.
type Error struct {
	Kind    ErrorKind
	Status  int
	Type    string
	Message string

	Charset  string
	Encoding string
	Limit    int64
	Length   int64
	Received int64
	// Preview holds at most the first 100 characters of the input that failed to parse
	Preview string

	Err error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status the caller should respond with.
func (e *Error) StatusCode() int {
	if e.Status == 0 {
		return e.Kind.Status()
	}
	return e.Status
}

// Fields renders the diagnostic context for structured logging.
func (e *Error) Fields() logrus.Fields {
	fields := logrus.Fields{
		"kind":   e.Kind.String(),
		"status": e.StatusCode(),
		"type":   e.Type,
	}
	if e.Charset != "" {
		fields["charset"] = e.Charset
	}
	if e.Encoding != "" {
		fields["encoding"] = e.Encoding
	}
	if e.Kind == KindEntityTooLarge || e.Kind == KindStreamLengthMismatch {
		fields["limit"] = e.Limit
		fields["length"] = e.Length
		fields["received"] = e.Received
	}
	if e.Preview != "" {
		fields["preview"] = e.Preview
	}
	return fields
}

func newError(kind ErrorKind, message string, err error) *Error {
	return &Error{
		Kind:    kind,
		Status:  kind.Status(),
		Type:    kind.Type(),
		Message: message,
		Err:     err,
	}
}

// HookError lets a verify or parse function override the status and type
// that the pipeline would otherwise assign.
type HookError struct {
	Status int
	Type   string
	Err    error
}

// NewHookError wraps err with an explicit HTTP status.
func NewHookError(status int, err error) *HookError {
	return &HookError{Status: status, Err: err}
}

func (e *HookError) Error() string {
	if e.Err == nil {
		return http.StatusText(e.Status)
	}
	return e.Err.Error()
}

func (e *HookError) Unwrap() error {
	return e.Err
}

// AsError returns the classified error carried by err, if any.
func AsError(err error) (*Error, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// classifyHook turns a hook failure into a classified error. An *Error
// returned by a hook is kept as is.
func classifyHook(kind ErrorKind, err error) *Error {
	if be, ok := AsError(err); ok {
		return be
	}

	classified := newError(kind, err.Error(), err)

	var he *HookError
	if errors.As(err, &he) {
		if he.Status >= 400 && he.Status < 600 {
			classified.Status = he.Status
		}
		if he.Type != "" {
			classified.Type = he.Type
		}
	}
	return classified
}

// preview returns at most previewLimit characters of body.
func preview(body []byte) string {
	if utf8.RuneCount(body) <= previewLimit {
		return string(body)
	}
	n, i := 0, 0
	for i < len(body) && n < previewLimit {
		_, size := utf8.DecodeRune(body[i:])
		i += size
		n++
	}
	return string(body[:i])
}

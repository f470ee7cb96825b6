package bodyparser

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultLimit is applied when Options.Limit is empty
	DefaultLimit = "100kb"
	// DefaultCharset is applied when neither the request nor the options name a charset
	DefaultCharset = "utf-8"
)

var (
	// ErrParseRequired is returned when a parser is built without a parse function
	ErrParseRequired = errors.New("parse function is required")
	// ErrTypeRequired is returned when no media type or predicate is configured
	ErrTypeRequired = errors.New("type option is required")
	// ErrInvalidLimit is returned when the limit cannot be parsed as a byte size
	ErrInvalidLimit = errors.New("invalid limit")
	// ErrInvalidCharset is returned when a default charset is not accepted by the format
	ErrInvalidCharset = errors.New("invalid default charset")
	// ErrInvalidParameterLimit is returned for a negative parameter limit
	ErrInvalidParameterLimit = errors.New("parameter limit must be a positive number")
)

// ParseFunc turns decoded body bytes into a structured value. The charset
// is the one the bytes were decoded from, or empty for opaque bytes.
type ParseFunc func(body []byte, charset string) (any, error)

// VerifyFunc inspects the raw, undecoded body before it is parsed. A
// non-nil error aborts ingestion with a 403 unless it is a *HookError.
type VerifyFunc func(w http.ResponseWriter, r *http.Request, raw []byte, charset string) error

// Observer receives ingestion outcomes, typically to record metrics.
type Observer interface {
	BodySkipped(parser, reason string)
	BodyParsed(parser string, size int, duration time.Duration)
	BodyFailed(parser string, err *Error, duration time.Duration)
}

type nopObserver struct{}

func (nopObserver) BodySkipped(string, string) {}

func (nopObserver) BodyParsed(string, int, time.Duration) {}

func (nopObserver) BodyFailed(string, *Error, time.Duration) {}

// Options configures a Parser. The value is copied when the parser is built,
// so later changes to it have no effect.
type Options struct {
	// Name identifies the parser in logs and metrics
	Name string

	// Type lists the media types to parse. Ignored when TypeFunc is set.
	Type []string
	// TypeFunc decides per request whether the body should be parsed
	TypeFunc func(r *http.Request) bool

	// Limit is the maximum body size, e.g. "100kb", "1mb" or "0"
	Limit string
	// DisableInflate rejects compressed bodies with 415 instead of decompressing them
	DisableInflate bool

	Verify VerifyFunc

	// DefaultCharset is used when the Content-Type carries no charset parameter
	DefaultCharset string
	// Charset restricts the accepted charsets. Formats install their own validator.
	Charset CharsetValidator

	// DrainLimit bounds how many bytes are discarded after a failed read. Zero drains everything.
	DrainLimit int64

	Logger   *logrus.Entry
	Observer Observer
}

// config is the immutable form of Options used at request time.
type config struct {
	name           string
	matcher        Matcher
	limit          int64
	inflate        bool
	verify         VerifyFunc
	defaultCharset string
	charset        CharsetValidator
	drainLimit     int64
	logger         *logrus.Entry
	observer       Observer
}

// formatDefaults carries what a format contributes when the caller leaves
// an option unset.
type formatDefaults struct {
	name    string
	types   []string
	charset CharsetValidator
}

func newConfig(opts Options, defaults formatDefaults) (config, error) {
	cfg := config{
		name:           opts.Name,
		inflate:        !opts.DisableInflate,
		verify:         opts.Verify,
		defaultCharset: normalizeLabel(opts.DefaultCharset),
		charset:        opts.Charset,
		drainLimit:     opts.DrainLimit,
		logger:         opts.Logger,
		observer:       opts.Observer,
	}

	if cfg.name == "" {
		cfg.name = defaults.name
	}

	switch {
	case opts.TypeFunc != nil:
		cfg.matcher = MatchFunc(opts.TypeFunc)
	case len(opts.Type) > 0:
		cfg.matcher = MatchTypes(opts.Type...)
	case len(defaults.types) > 0:
		cfg.matcher = MatchTypes(defaults.types...)
	default:
		return config{}, ErrTypeRequired
	}

	limit, err := ParseLimit(opts.Limit)
	if err != nil {
		return config{}, err
	}
	cfg.limit = limit

	if cfg.defaultCharset == "" {
		cfg.defaultCharset = DefaultCharset
	}
	if cfg.charset == nil {
		cfg.charset = defaults.charset
	}
	if cfg.logger == nil {
		cfg.logger = logrus.NewEntry(logrus.StandardLogger())
	}
	cfg.logger = cfg.logger.WithField("parser", cfg.name)
	if cfg.observer == nil {
		cfg.observer = nopObserver{}
	}

	return cfg, nil
}

// ParseLimit converts a human readable size into bytes. An empty string
// yields the default limit of 100kb.
func ParseLimit(limit string) (int64, error) {
	limit = strings.TrimSpace(limit)
	if limit == "" {
		limit = DefaultLimit
	}
	n, err := units.RAMInBytes(limit)
	if err != nil {
		return 0, fmt.Errorf("%w %q: %v", ErrInvalidLimit, limit, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w %q: negative size", ErrInvalidLimit, limit)
	}
	return n, nil
}

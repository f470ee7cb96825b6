package bodyparser

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// consumeFunc pulls the body out of an opened stream and turns it into a
// value. It returns the number of raw bytes consumed.
type consumeFunc func(p *Parser, w http.ResponseWriter, r *http.Request, s *stream, charset string) (any, int, *Error)

// Parser reads, verifies and parses request bodies of one format. It is
// immutable once built and safe for concurrent use.
type Parser struct {
	cfg     config
	logger  *logrus.Entry
	parse   ParseFunc
	consume consumeFunc
}

func newParser(cfg config, parse ParseFunc) (*Parser, error) {
	if parse == nil {
		return nil, ErrParseRequired
	}
	return &Parser{
		cfg:     cfg,
		logger:  cfg.logger,
		parse:   parse,
		consume: consumeBuffered,
	}, nil
}

// Name returns the parser name used in logs and metrics.
func (p *Parser) Name() string {
	return p.cfg.name
}

// Limit returns the byte ceiling of the parser.
func (p *Parser) Limit() int64 {
	return p.cfg.limit
}

// Parse ingests the body of r. It returns the request carrying the
// ingestion state, which callers should pass on instead of r. A request that
// has no body or does not match is left unread and reported as skipped. A
// body that was already parsed or failed is not read again, whether Parse is
// handed r itself or the request it returned.
func (p *Parser) Parse(w http.ResponseWriter, r *http.Request) (*http.Request, error) {
	r, state := withState(r)

	if state.settled() {
		p.logger.WithField("state", state.State.String()).Debug("body already parsed")
		return r, nil
	}

	if !HasBody(r) {
		p.skip(state, "no body")
		return r, nil
	}

	if !p.cfg.matcher.Match(r) {
		p.skip(state, "type mismatch")
		return r, nil
	}

	start := time.Now()
	value, charset, size, err := p.ingest(w, r)
	if err != nil {
		state.State = BodyFailed
		state.Parser = p.cfg.name
		state.Err = err
		p.logger.WithFields(err.Fields()).Debug("failed to parse body")
		p.cfg.observer.BodyFailed(p.cfg.name, err, time.Since(start))
		return r, err
	}

	state.State = BodyParsed
	state.Parser = p.cfg.name
	state.Charset = charset
	state.Value = value
	p.cfg.observer.BodyParsed(p.cfg.name, size, time.Since(start))
	return r, nil
}

func (p *Parser) skip(state *State, reason string) {
	state.State = BodySkipped
	p.logger.WithField("reason", reason).Debug("skip parsing")
	p.cfg.observer.BodySkipped(p.cfg.name, reason)
}

// ingest runs the stages in order. The raw body is drained on every
// failure, after the decompressor was released.
func (p *Parser) ingest(w http.ResponseWriter, r *http.Request) (value any, charset string, size int, err *Error) {
	defer func() {
		if err != nil {
			n := drain(r.Body, p.cfg.drainLimit)
			p.logger.WithField("bytes", n).Debug("drained body")
		}
	}()

	charset, err = p.cfg.checkCharset(r)
	if err != nil {
		return nil, "", 0, err
	}

	encoding, err := resolveEncoding(r, p.cfg.inflate)
	if err != nil {
		return nil, "", 0, err
	}

	if charset != "" && !CharsetSupported(charset) {
		return nil, "", 0, charsetError(charset)
	}

	s, err := openStream(r, encoding)
	if err != nil {
		return nil, "", 0, err
	}
	defer s.Close()

	p.logger.WithFields(logrus.Fields{
		"encoding":   s.encoding,
		"compressed": s.compressed(),
		"length":     s.length,
		"limit":      p.cfg.limit,
	}).Debug("read body")

	value, size, err = p.consume(p, w, r, s, charset)
	return value, charset, size, err
}

// consumeBuffered reads the whole body, then verifies and parses it.
func consumeBuffered(p *Parser, w http.ResponseWriter, r *http.Request, s *stream, charset string) (any, int, *Error) {
	raw, err := readBounded(s, p.cfg.limit)
	s.Close()
	if err != nil {
		return nil, 0, err
	}

	if len(raw) > 0 {
		if err := p.verify(w, r, raw, charset); err != nil {
			return nil, len(raw), err
		}
	}

	value, err := p.dispatch(raw, charset)
	return value, len(raw), err
}

func (p *Parser) verify(w http.ResponseWriter, r *http.Request, raw []byte, charset string) *Error {
	if p.cfg.verify == nil {
		return nil
	}
	p.logger.Debug("verify body")
	if err := p.cfg.verify(w, r, raw, charset); err != nil {
		e := classifyHook(KindVerifyFailed, err)
		if e.Charset == "" {
			e.Charset = charset
		}
		return e
	}
	return nil
}

// dispatch decodes raw to UTF-8 and hands it to the parse function.
func (p *Parser) dispatch(raw []byte, charset string) (any, *Error) {
	body, err := decodeCharset(raw, charset)
	if err != nil {
		if be, ok := AsError(err); ok {
			return nil, be
		}
		e := newError(KindParseFailed, err.Error(), err)
		e.Charset = charset
		e.Preview = preview(raw)
		return nil, e
	}

	p.logger.Debug("parse body")
	value, err := p.parse(body, charset)
	if err != nil {
		e := classifyHook(KindParseFailed, err)
		if e.Kind == KindParseFailed && e.Preview == "" {
			e.Preview = preview(body)
		}
		if e.Charset == "" {
			e.Charset = charset
		}
		return nil, e
	}
	return value, nil
}


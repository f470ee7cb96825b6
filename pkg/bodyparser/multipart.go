package bodyparser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
)

// minMultipartLimit is the smallest overall read limit for multipart bodies
const minMultipartLimit = 100 << 20

// Multipart builds a parser for multipart/form-data bodies that keeps text
// fields and drops file parts. Limit applies to every field; the body as a
// whole may be a hundred times larger, and at least 100mb. Verify is invoked
// once per field with that field's value, so hooks that check a digest of
// the whole body cannot be used here.
func Multipart(opts Options) (*Parser, error) {
	opts.Charset = nil
	cfg, err := newConfig(opts, formatDefaults{
		name:  "multipart",
		types: []string{"multipart/form-data"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to configure multipart parser: %w", err)
	}

	p, err := newParser(cfg, func([]byte, string) (any, error) {
		return nil, errors.New("multipart bodies are parsed per field")
	})
	if err != nil {
		return nil, err
	}
	p.consume = consumeMultipart
	return p, nil
}

func multipartLimit(fieldLimit int64) int64 {
	overall := fieldLimit * 100
	if overall/100 != fieldLimit || overall < minMultipartLimit {
		return minMultipartLimit
	}
	return overall
}

func consumeMultipart(p *Parser, w http.ResponseWriter, r *http.Request, s *stream, _ string) (any, int, *Error) {
	raw, err := readBounded(s, multipartLimit(p.cfg.limit))
	s.Close()
	if err != nil {
		return nil, 0, err
	}
	if len(raw) == 0 {
		return map[string]any{}, 0, nil
	}

	boundary, ok := mediaTypeParam(r, "boundary")
	if !ok || strings.TrimSpace(boundary) == "" {
		e := newError(KindParseFailed, "missing boundary in content-type", nil)
		e.Type = "multipart.boundary.missing"
		return nil, len(raw), e
	}

	fields := make(map[string]any)
	reader := multipart.NewReader(bytes.NewReader(raw), strings.Trim(boundary, `"'`))
	for {
		part, perr := reader.NextPart()
		if errors.Is(perr, io.EOF) {
			break
		}
		if perr != nil {
			e := newError(KindParseFailed, perr.Error(), perr)
			e.Preview = preview(raw)
			return nil, len(raw), e
		}

		name := part.FormName()
		if name == "" || part.FileName() != "" {
			p.logger.WithField("field", name).Debug("dropping part")
			continue
		}

		value, ferr := readField(part, p.cfg.limit)
		if ferr != nil {
			return nil, len(raw), ferr
		}

		if verr := p.verify(w, r, value, DefaultCharset); verr != nil {
			return nil, len(raw), verr
		}
		addField(fields, name, string(value))
	}

	return fields, len(raw), nil
}

func readField(part *multipart.Part, limit int64) ([]byte, *Error) {
	var buf bytes.Buffer
	n, err := buf.ReadFrom(io.LimitReader(part, limit+1))
	if err != nil {
		e := newError(KindParseFailed, err.Error(), err)
		return nil, e
	}
	if n > limit {
		e := newError(KindEntityTooLarge, "field size limit exceeded", nil)
		e.Limit = limit
		e.Received = n
		return nil, e
	}
	return buf.Bytes(), nil
}

func addField(fields map[string]any, name, value string) {
	switch existing := fields[name].(type) {
	case nil:
		fields[name] = value
	case string:
		fields[name] = []string{existing, value}
	case []string:
		fields[name] = append(existing, value)
	}
}

package bodyparser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// JSONOptions configures the JSON parser.
type JSONOptions struct {
	Options

	// Lenient accepts any JSON value at the top level, not only objects and arrays
	Lenient bool
	// UseNumber decodes numbers as json.Number instead of float64
	UseNumber bool
}

// JSON builds a parser for application/json bodies. Only UTF charsets are
// accepted and an empty body yields an empty object.
func JSON(opts JSONOptions) (*Parser, error) {
	cfg, err := newConfig(opts.Options, formatDefaults{
		name:    "json",
		types:   []string{"application/json"},
		charset: CharsetPrefix("utf-"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to configure json parser: %w", err)
	}

	strict := !opts.Lenient
	useNumber := opts.UseNumber
	return newParser(cfg, func(body []byte, _ string) (any, error) {
		return parseJSON(body, strict, useNumber)
	})
}

func isJSONSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func parseJSON(body []byte, strict, useNumber bool) (any, error) {
	if len(body) == 0 {
		return map[string]any{}, nil
	}

	if strict {
		pos := 0
		for pos < len(body) && isJSONSpace(body[pos]) {
			pos++
		}
		if pos == len(body) {
			return nil, errors.New("unexpected end of JSON input")
		}
		if first := body[pos]; first != '{' && first != '[' {
			return nil, fmt.Errorf("unexpected token %q in JSON at position %d", rune(first), pos)
		}
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	if useNumber {
		dec.UseNumber()
	}

	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, jsonError(err)
	}
	offset := dec.InputOffset()
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unexpected data after JSON value at position %d", offset)
	}
	return value, nil
}

func jsonError(err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return fmt.Errorf("%s at position %d", syntaxErr.Error(), syntaxErr.Offset)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return errors.New("unexpected end of JSON input")
	}
	return err
}

package bodyparser

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
)

// CharsetValidator accepts or rejects a lowercase charset label.
type CharsetValidator func(charset string) bool

// AnyCharset accepts every charset a decoder exists for.
func AnyCharset(string) bool {
	return true
}

// CharsetIs accepts exactly the given labels, compared case-insensitively.
func CharsetIs(labels ...string) CharsetValidator {
	allowed := make(map[string]struct{}, len(labels))
	for _, label := range labels {
		allowed[normalizeLabel(label)] = struct{}{}
	}
	return func(charset string) bool {
		_, ok := allowed[charset]
		return ok
	}
}

// CharsetPrefix accepts labels starting with prefix.
func CharsetPrefix(prefix string) CharsetValidator {
	prefix = strings.ToLower(prefix)
	return func(charset string) bool {
		return strings.HasPrefix(charset, prefix)
	}
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// knownCharsets overrides the WHATWG index where it diverges from the labels
// HTTP clients actually mean.
var knownCharsets = map[string]encoding.Encoding{
	"utf-16":     unicode.UTF16(unicode.BigEndian, unicode.UseBOM),
	"iso-8859-1": charmap.ISO8859_1,
	"latin1":     charmap.ISO8859_1,
	"binary":     charmap.ISO8859_1,
}

func normalizeLabel(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

func isUTF8(charset string) bool {
	return charset == "utf-8" || charset == "utf8"
}

// lookupDecoder resolves a charset label to a decoder.
func lookupDecoder(charset string) (encoding.Encoding, bool) {
	if isUTF8(charset) {
		return unicode.UTF8, true
	}
	if enc, ok := knownCharsets[charset]; ok {
		return enc, true
	}
	if enc, err := htmlindex.Get(charset); err == nil && enc != nil {
		return enc, true
	}
	enc, err := ianaindex.IANA.Encoding(charset)
	if err != nil || enc == nil {
		return nil, false
	}
	return enc, true
}

// CharsetSupported reports whether a decoder exists for the label.
func CharsetSupported(charset string) bool {
	_, ok := lookupDecoder(normalizeLabel(charset))
	return ok
}

// requestCharset returns the lowercase charset of r, falling back to def.
func requestCharset(r *http.Request, def string) string {
	if charset, ok := mediaTypeParam(r, "charset"); ok && strings.TrimSpace(charset) != "" {
		return normalizeLabel(charset)
	}
	return def
}

func charsetError(charset string) *Error {
	e := newError(KindCharsetUnsupported, fmt.Sprintf("unsupported charset %q", strings.ToUpper(charset)), nil)
	e.Charset = charset
	return e
}

// checkCharset applies the validator. An empty result means the body is
// handed over as opaque bytes.
func (c *config) checkCharset(r *http.Request) (string, *Error) {
	if c.charset == nil {
		return "", nil
	}
	charset := requestCharset(r, c.defaultCharset)
	if !c.charset(charset) {
		return "", charsetError(charset)
	}
	return charset, nil
}

// decodeCharset converts body to UTF-8. A leading byte order mark is removed.
func decodeCharset(body []byte, charset string) ([]byte, error) {
	if charset == "" {
		return body, nil
	}
	if isUTF8(charset) {
		return bytes.TrimPrefix(body, utf8BOM), nil
	}
	enc, ok := lookupDecoder(charset)
	if !ok {
		return nil, charsetError(charset)
	}
	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s body: %w", charset, err)
	}
	return bytes.TrimPrefix(decoded, utf8BOM), nil
}

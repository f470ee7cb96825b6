package bodyparser

import (
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/elnormous/contenttype"
)

// Matcher decides whether a parser should act on a request. Matchers are
// never consulted for requests without a body.
type Matcher interface {
	Match(r *http.Request) bool
}

// MatchFunc adapts a predicate to a Matcher.
type MatchFunc func(r *http.Request) bool

// Match implements Matcher.
func (f MatchFunc) Match(r *http.Request) bool {
	return f(r)
}

// TypeMatcher matches the request media type against an ordered list of
// expected types.
type TypeMatcher struct {
	types []string
}

// MatchTypes builds a TypeMatcher. Each entry may be a full media type, a
// wildcard (text/*, */*, application/*+json), a suffix (+json) or a
// shorthand such as json, urlencoded or multipart.
func MatchTypes(types ...string) *TypeMatcher {
	normalized := make([]string, 0, len(types))
	for _, t := range types {
		if n := normalizeType(t); n != "" {
			normalized = append(normalized, n)
		}
	}
	return &TypeMatcher{types: normalized}
}

// Types returns a copy of the normalized expected types.
func (m *TypeMatcher) Types() []string {
	return append([]string(nil), m.types...)
}

// Match implements Matcher.
func (m *TypeMatcher) Match(r *http.Request) bool {
	_, ok := TypeIs(r, m.types...)
	return ok
}

// HasBody reports whether the request carries a message body. A request
// with neither Transfer-Encoding nor a positive Content-Length has none.
func HasBody(r *http.Request) bool {
	if len(r.TransferEncoding) > 0 || r.Header.Get("Transfer-Encoding") != "" {
		return true
	}
	if cl := r.Header.Get("Content-Length"); cl != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		return err == nil && n > 0
	}
	if r.ContentLength > 0 {
		return true
	}
	return r.ContentLength < 0 && r.Body != nil && r.Body != http.NoBody
}

// TypeIs returns the first expected type matching the request Content-Type.
// It reports false for requests without a body or without a parseable
// Content-Type.
func TypeIs(r *http.Request, types ...string) (string, bool) {
	if !HasBody(r) {
		return "", false
	}

	mediaType, ok := requestMediaType(r)
	if !ok {
		return "", false
	}

	actual := mediaType.Type + "/" + mediaType.Subtype
	if len(types) == 0 {
		return actual, true
	}

	for _, t := range types {
		expected := normalizeType(t)
		if expected != "" && mimeMatch(expected, actual) {
			return t, true
		}
	}
	return "", false
}

func requestMediaType(r *http.Request) (contenttype.MediaType, bool) {
	header := r.Header.Get("Content-Type")
	if header == "" {
		return contenttype.MediaType{}, false
	}
	mediaType, err := contenttype.ParseMediaType(header)
	if err != nil {
		return contenttype.MediaType{}, false
	}
	mediaType.Type = strings.ToLower(mediaType.Type)
	mediaType.Subtype = strings.ToLower(mediaType.Subtype)
	return mediaType, true
}

// mediaTypeParam returns a Content-Type parameter, matching names case-insensitively.
func mediaTypeParam(r *http.Request, name string) (string, bool) {
	mediaType, ok := requestMediaType(r)
	if !ok {
		return "", false
	}
	for key, value := range mediaType.Parameters {
		if strings.EqualFold(key, name) {
			return value, true
		}
	}
	return "", false
}

func normalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	switch {
	case t == "":
		return ""
	case t == "urlencoded":
		return "application/x-www-form-urlencoded"
	case t == "multipart":
		return "multipart/*"
	case t[0] == '+':
		return "*/*" + t
	case strings.Contains(t, "/"):
		return t
	}

	if byExt := mime.TypeByExtension("." + t); byExt != "" {
		if i := strings.IndexByte(byExt, ';'); i >= 0 {
			byExt = byExt[:i]
		}
		return strings.ToLower(strings.TrimSpace(byExt))
	}
	switch t {
	case "json":
		return "application/json"
	case "text":
		return "text/plain"
	}
	return ""
}

func mimeMatch(expected, actual string) bool {
	expectedParts := strings.Split(expected, "/")
	actualParts := strings.Split(actual, "/")
	if len(expectedParts) != 2 || len(actualParts) != 2 {
		return false
	}

	if expectedParts[0] != "*" && expectedParts[0] != actualParts[0] {
		return false
	}

	if strings.HasPrefix(expectedParts[1], "*+") {
		suffix := expectedParts[1][1:]
		return len(expectedParts[1]) <= len(actualParts[1])+1 && strings.HasSuffix(actualParts[1], suffix)
	}

	return expectedParts[1] == "*" || expectedParts[1] == actualParts[1]
}

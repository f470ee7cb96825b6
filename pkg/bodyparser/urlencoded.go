package bodyparser

import (
	"fmt"
	"net/http"
	"regexp"
)

const defaultParameterLimit = 1000

// URLEncodedOptions configures the form parser.
type URLEncodedOptions struct {
	Options

	// Flat keeps bracketed keys verbatim instead of building nested values
	Flat bool
	// ParameterLimit caps the number of fields. Zero selects 1000.
	ParameterLimit int
	// CharsetSentinel lets a utf8= field select the charset of the remaining fields
	CharsetSentinel bool
	// InterpretNumericEntities turns &#NNN; sequences into characters
	InterpretNumericEntities bool
}

var charsetBySentinel = map[string]string{
	"%26%2310003%3B": "iso-8859-1",
	"%E2%9C%93":      "utf-8",
}

var sentinelField = regexp.MustCompile(`(^|&)utf8=([^&]+)($|&)`)

// URLEncoded builds a parser for application/x-www-form-urlencoded bodies.
// Only utf-8 and iso-8859-1 are accepted.
func URLEncoded(opts URLEncodedOptions) (*Parser, error) {
	if opts.DefaultCharset != "" && !formCharset(normalizeLabel(opts.DefaultCharset)) {
		return nil, fmt.Errorf("%w: %q must be either utf-8 or iso-8859-1", ErrInvalidCharset, opts.DefaultCharset)
	}

	parameterLimit := opts.ParameterLimit
	if parameterLimit == 0 {
		parameterLimit = defaultParameterLimit
	}
	if parameterLimit < 0 {
		return nil, ErrInvalidParameterLimit
	}

	cfg, err := newConfig(opts.Options, formatDefaults{
		name:    "urlencoded",
		types:   []string{"application/x-www-form-urlencoded"},
		charset: formCharset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to configure urlencoded parser: %w", err)
	}

	depth := -1
	if opts.Flat {
		depth = 0
	}
	form := formParser{
		depth:           depth,
		parameterLimit:  parameterLimit,
		sentinel:        opts.CharsetSentinel,
		numericEntities: opts.InterpretNumericEntities,
	}
	return newParser(cfg, form.parse)
}

func formCharset(charset string) bool {
	return charset == "utf-8" || charset == "iso-8859-1"
}

type formParser struct {
	depth           int
	parameterLimit  int
	sentinel        bool
	numericEntities bool
}

func (f formParser) parse(body []byte, charset string) (any, error) {
	str := string(body)

	if f.sentinel {
		if m := sentinelField.FindStringSubmatchIndex(str); m != nil {
			if detected, ok := charsetBySentinel[str[m[4]:m[5]]]; ok {
				charset = detected
			}
			sep := ""
			if m[3] > m[2] && m[7] > m[6] {
				sep = "&"
			}
			str = str[:m[0]] + sep + str[m[1]:]
		}
	}

	if str == "" {
		return map[string]any{}, nil
	}

	count, ok := countParameters(str, f.parameterLimit)
	if !ok {
		e := newError(KindEntityTooLarge, "too many parameters", nil)
		e.Status = http.StatusRequestEntityTooLarge
		e.Type = "parameters.too.many"
		return nil, e
	}

	arrayLimit := 0
	if f.depth != 0 {
		arrayLimit = max(100, count)
	}

	return parseQuery(str, queryOptions{
		depth:          f.depth,
		arrayLimit:     arrayLimit,
		parameterLimit: f.parameterLimit,
		decode:         formDecoder(charset, f.numericEntities),
	}), nil
}

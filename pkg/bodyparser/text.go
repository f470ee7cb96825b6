package bodyparser

import "fmt"

// Text builds a parser for text/plain bodies. The parsed value is the body
// decoded to a UTF-8 string.
func Text(opts Options) (*Parser, error) {
	cfg, err := newConfig(opts, formatDefaults{
		name:    "text",
		types:   []string{"text/plain"},
		charset: AnyCharset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to configure text parser: %w", err)
	}
	if !CharsetSupported(cfg.defaultCharset) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCharset, cfg.defaultCharset)
	}
	return newParser(cfg, func(body []byte, _ string) (any, error) {
		return string(body), nil
	})
}

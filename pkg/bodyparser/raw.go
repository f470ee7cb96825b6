package bodyparser

import "fmt"

// Raw builds a parser that stores the body as opaque bytes. No charset is
// resolved.
func Raw(opts Options) (*Parser, error) {
	opts.Charset = nil
	cfg, err := newConfig(opts, formatDefaults{
		name:  "raw",
		types: []string{"application/octet-stream"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to configure raw parser: %w", err)
	}
	return newParser(cfg, func(body []byte, _ string) (any, error) {
		return body, nil
	})
}

package bodyparser

import "fmt"

// GenericOptions configures a parser for a caller-defined format.
type GenericOptions struct {
	Options

	// Parse is required
	Parse ParseFunc
}

// Generic builds a parser for an arbitrary format. A media type or a
// TypeFunc is required. Without a Charset validator the body is handed to
// Parse as opaque bytes.
func Generic(opts GenericOptions) (*Parser, error) {
	if opts.Parse == nil {
		return nil, ErrParseRequired
	}
	cfg, err := newConfig(opts.Options, formatDefaults{name: "generic"})
	if err != nil {
		return nil, fmt.Errorf("failed to configure generic parser: %w", err)
	}
	return newParser(cfg, opts.Parse)
}

package bodyparser

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownFormat is returned by New for a format that is not registered
var ErrUnknownFormat = errors.New("unknown body format")

// Adapter describes a built-in body format.
type Adapter struct {
	Name        string
	DefaultType string
	Build       func(opts Options) (*Parser, error)
}

var adapters = map[string]Adapter{
	"json": {
		Name:        "json",
		DefaultType: "application/json",
		Build: func(opts Options) (*Parser, error) {
			return JSON(JSONOptions{Options: opts})
		},
	},
	"urlencoded": {
		Name:        "urlencoded",
		DefaultType: "application/x-www-form-urlencoded",
		Build: func(opts Options) (*Parser, error) {
			return URLEncoded(URLEncodedOptions{Options: opts})
		},
	},
	"text": {
		Name:        "text",
		DefaultType: "text/plain",
		Build:       Text,
	},
	"raw": {
		Name:        "raw",
		DefaultType: "application/octet-stream",
		Build:       Raw,
	},
	"multipart": {
		Name:        "multipart",
		DefaultType: "multipart/form-data",
		Build:       Multipart,
	},
}

// Lookup returns the adapter registered under name.
func Lookup(name string) (Adapter, bool) {
	a, ok := adapters[strings.ToLower(name)]
	return a, ok
}

// Formats lists the registered format names.
func Formats() []string {
	names := make([]string, 0, len(adapters))
	for name := range adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds a parser for a registered format.
func New(format string, opts Options) (*Parser, error) {
	a, ok := Lookup(format)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	return a.Build(opts)
}

// Combined builds the JSON parser followed by the urlencoded parser, sharing
// every option except the media type.
func Combined(opts Options) ([]*Parser, error) {
	opts.Type = nil
	opts.TypeFunc = nil

	jsonOpts, formOpts := opts, opts
	if opts.Name != "" {
		jsonOpts.Name = opts.Name + "-json"
		formOpts.Name = opts.Name + "-urlencoded"
	}

	jsonParser, err := JSON(JSONOptions{Options: jsonOpts})
	if err != nil {
		return nil, err
	}
	formParser, err := URLEncoded(URLEncodedOptions{Options: formOpts})
	if err != nil {
		return nil, err
	}

	return []*Parser{jsonParser, formParser}, nil
}

package bodyparser

import (
	"net/http"
)

// ErrorHandler responds to a failed ingestion.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// DefaultErrorHandler writes the classified status and message as plain text.
func DefaultErrorHandler(w http.ResponseWriter, _ *http.Request, err error) {
	status := http.StatusInternalServerError
	if be, ok := AsError(err); ok {
		status = be.StatusCode()
	}
	http.Error(w, err.Error(), status)
}

// Middleware returns net/http middleware running the parsers in order. The
// first parser that settles the body wins; the rest become no-ops. A nil
// onError selects DefaultErrorHandler.
func Middleware(onError ErrorHandler, parsers ...*Parser) func(http.Handler) http.Handler {
	if onError == nil {
		onError = DefaultErrorHandler
	}
	chain := append([]*Parser(nil), parsers...)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, p := range chain {
				var err error
				r, err = p.Parse(w, r)
				if err != nil {
					onError(w, r, err)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Middleware wraps next so that it sees the parsed body.
func (p *Parser) Middleware(next http.Handler) http.Handler {
	return Middleware(nil, p)(next)
}

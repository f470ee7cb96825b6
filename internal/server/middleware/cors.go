package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// baseCORSHeaders are the request headers every body route accepts
var baseCORSHeaders = []string{"Content-Type", "Content-Encoding", "Content-Length", RequestIDHeader}

// CORSOptions describes what the body routes accept from browsers
type CORSOptions struct {
	// Methods allowed on body routes
	Methods []string
	// Headers added to the base set, such as the signature headers of the
	// enabled verify hooks
	Headers []string
	// Encodings are the content codings bodies may be sent with. A preflight
	// advertises them in Accept-Encoding.
	Encodings []string
	// ExposeHeaders are response headers scripts may read
	ExposeHeaders []string
	MaxAge        int
}

// CORS provides CORS headers middleware
type CORS struct {
	logger         *logrus.Entry
	allowMethods   string
	allowHeaders   string
	exposeHeaders  string
	acceptEncoding string
	maxAge         string
}

// NewCORS creates a new CORS middleware
func NewCORS(logger *logrus.Entry, opts CORSOptions) *CORS {
	headers := append(append([]string{}, baseCORSHeaders...), opts.Headers...)
	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = 3600
	}

	return &CORS{
		logger:         logger,
		allowMethods:   strings.Join(opts.Methods, ", "),
		allowHeaders:   strings.Join(dedupe(headers), ", "),
		exposeHeaders:  strings.Join(opts.ExposeHeaders, ", "),
		acceptEncoding: strings.Join(append([]string{"identity"}, opts.Encodings...), ", "),
		maxAge:         strconv.Itoa(maxAge),
	}
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := values[:0]
	for _, v := range values {
		key := http.CanonicalHeaderKey(v)
		if v == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}

// Middleware returns the HTTP middleware function
func (c *CORS) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", c.allowMethods)
		w.Header().Set("Access-Control-Allow-Headers", c.allowHeaders)
		if c.exposeHeaders != "" {
			w.Header().Set("Access-Control-Expose-Headers", c.exposeHeaders)
		}
		w.Header().Set("Access-Control-Max-Age", c.maxAge)

		// Preflight answers before any body is read
		if r.Method == http.MethodOptions {
			w.Header().Set("Accept-Encoding", c.acceptEncoding)
			c.logger.WithFields(logrus.Fields{
				"path":   r.URL.Path,
				"origin": r.Header.Get("Origin"),
			}).Debug("Answered preflight request")
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

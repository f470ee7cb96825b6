package echo

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/guided-traffic/bodyparser/internal/server/response"
	"github.com/guided-traffic/bodyparser/pkg/bodyparser"
)

// ParserHeader names the parser that produced the echoed body
const ParserHeader = "X-Body-Parser"

// Handler writes back what the body parsers produced
type Handler struct {
	logger *logrus.Entry
	writer *response.ErrorWriter
}

// NewHandler creates a new echo handler
func NewHandler(logger *logrus.Entry) *Handler {
	return &Handler{
		logger: logger,
		writer: response.NewErrorWriter(logger),
	}
}

// Body echoes the parsed body as JSON. A body no parser claimed echoes as {}.
// Raw bodies are bytes and therefore come back base64 encoded.
func (h *Handler) Body(w http.ResponseWriter, r *http.Request) {
	body, ok := bodyparser.Body(r)
	if !ok || body == nil {
		body = map[string]any{}
	}

	if state := bodyparser.StateFrom(r); state != nil && state.State == bodyparser.BodyParsed {
		w.Header().Set(ParserHeader, state.Parser)
		h.logger.WithFields(logrus.Fields{
			"parser":  state.Parser,
			"charset": state.Charset,
		}).Debug("Echoing parsed body")
	}

	h.writer.WriteJSON(w, http.StatusOK, body)
}

// Query echoes the URL query, expanded into nested objects when the Nested
// middleware ran.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	if query, ok := bodyparser.NestedQuery(r); ok {
		h.writer.WriteJSON(w, http.StatusOK, query)
		return
	}

	query := make(map[string]any)
	for key, values := range r.URL.Query() {
		if len(values) == 1 {
			query[key] = values[0]
		} else {
			query[key] = values
		}
	}
	h.writer.WriteJSON(w, http.StatusOK, query)
}

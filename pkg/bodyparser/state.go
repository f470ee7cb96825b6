package bodyparser

import (
	"context"
	"io"
	"net/http"
)

// BodyState records how far ingestion progressed for a request.
type BodyState int

const (
	// BodyUnread means no parser has looked at the body yet
	BodyUnread BodyState = iota
	// BodySkipped means a parser declined the body; another parser may still take it
	BodySkipped
	// BodyParsed means a value was stored; further parsers are no-ops
	BodyParsed
	// BodyFailed means ingestion failed and the body was drained
	BodyFailed
)

func (s BodyState) String() string {
	switch s {
	case BodyUnread:
		return "unread"
	case BodySkipped:
		return "skipped"
	case BodyParsed:
		return "parsed"
	case BodyFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// State is the per-request ingestion slot stored in the request context.
type State struct {
	State BodyState
	// Value is the parsed body, set only when State is BodyParsed
	Value any
	// Parser names the parser that settled the body
	Parser string
	// Charset is the charset the body was decoded from
	Charset string
	Err     *Error
}

// settled reports whether the body was already consumed.
func (s *State) settled() bool {
	return s.State == BodyParsed || s.State == BodyFailed
}

type stateKey struct{}

// stateBody carries the State on the request body, so a parser handed the
// original request after an earlier one returned a derived request still
// finds it.
type stateBody struct {
	io.ReadCloser
	state *State
}

// StateFrom returns the ingestion state of r, or nil if no parser ran.
func StateFrom(r *http.Request) *State {
	if state, ok := r.Context().Value(stateKey{}).(*State); ok {
		return state
	}
	if body, ok := r.Body.(*stateBody); ok {
		return body.state
	}
	return nil
}

// Body returns the parsed body of r and whether one was stored.
func Body(r *http.Request) (any, bool) {
	state := StateFrom(r)
	if state == nil || state.State != BodyParsed {
		return nil, false
	}
	return state.Value, true
}

// withState makes sure r carries a State in its context and, when it has a
// body, on the body as well. It returns the request and the State.
func withState(r *http.Request) (*http.Request, *State) {
	if state, ok := r.Context().Value(stateKey{}).(*State); ok {
		return r, state
	}

	state := StateFrom(r)
	if state == nil {
		state = &State{}
		if r.Body != nil && r.Body != http.NoBody {
			r.Body = &stateBody{ReadCloser: r.Body, state: state}
		}
	}
	return r.WithContext(context.WithValue(r.Context(), stateKey{}, state)), state
}

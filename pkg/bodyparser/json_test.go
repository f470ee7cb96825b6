package bodyparser

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		strict    bool
		useNumber bool
		want      any
		wantErr   string
	}{
		{name: "object", body: `{"user":"tobi"}`, strict: true, want: map[string]any{"user": "tobi"}},
		{name: "array", body: `[1,2]`, strict: true, want: []any{float64(1), float64(2)}},
		{name: "leading whitespace", body: " \n\t{\"a\":1}", strict: true, want: map[string]any{"a": float64(1)}},
		{name: "empty body", body: "", strict: true, want: map[string]any{}},
		{name: "strict rejects primitive", body: `true`, strict: true, wantErr: `unexpected token 't' in JSON at position 0`},
		{name: "strict rejects string after space", body: `  "x"`, strict: true, wantErr: `unexpected token '"' in JSON at position 2`},
		{name: "strict rejects whitespace only", body: "   ", strict: true, wantErr: "unexpected end of JSON input"},
		{name: "lenient accepts primitive", body: `true`, want: true},
		{name: "lenient accepts null", body: `null`, want: nil},
		{name: "truncated", body: `{"user"`, strict: true, wantErr: "unexpected end of JSON input"},
		{name: "trailing data", body: `{"a":1} {"b":2}`, strict: true, wantErr: "unexpected data after JSON value at position 7"},
		{name: "use number", body: `{"n":1.50}`, strict: true, useNumber: true, want: map[string]any{"n": json.Number("1.50")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseJSON([]byte(tt.body), tt.strict, tt.useNumber)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantErr, err.Error())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseJSONSyntaxErrorPosition(t *testing.T) {
	_, err := parseJSON([]byte(`{"user":tobi}`), true, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid character 'o'")
	assert.Contains(t, err.Error(), "at position")
}

func TestJSONParser(t *testing.T) {
	t.Run("strict error is a parse failure", func(t *testing.T) {
		p := newJSON(t, JSONOptions{})
		_, perr := parseRequest(t, p, newRequest("application/json", []byte(`true`)))
		require.NotNil(t, perr)
		assert.Equal(t, KindParseFailed, perr.Kind)
		assert.Equal(t, 400, perr.StatusCode())
		assert.Equal(t, "true", perr.Preview)
	})

	t.Run("lenient", func(t *testing.T) {
		p := newJSON(t, JSONOptions{Lenient: true})
		out, perr := parseRequest(t, p, newRequest("application/json", []byte(`"tobi"`)))
		require.Nil(t, perr)
		body, _ := Body(out)
		assert.Equal(t, "tobi", body)
	})

	t.Run("custom type", func(t *testing.T) {
		p := newJSON(t, JSONOptions{Options: Options{Type: []string{"application/*+json"}}})
		out, perr := parseRequest(t, p, newRequest("application/vnd.api+json", []byte(`{"user":"tobi"}`)))
		require.Nil(t, perr)
		body, _ := Body(out)
		assert.Equal(t, map[string]any{"user": "tobi"}, body)
	})
}

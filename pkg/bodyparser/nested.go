package bodyparser

import (
	"context"
	"net/http"
	"sort"
	"strings"
)

// NestedOptions selects what the Nested middleware expands.
type NestedOptions struct {
	SkipBody  bool
	SkipQuery bool
}

type nestedQueryKey struct{}

// Nested returns middleware that expands dotted keys into nested objects,
// so {"a.b": "c"} becomes {"a": {"b": "c"}}. It rewrites a parsed body that
// is an object and stores the expanded URL query for NestedQuery.
func Nested(opts NestedOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !opts.SkipBody {
				if state := StateFrom(r); state != nil && state.State == BodyParsed {
					if obj, ok := state.Value.(map[string]any); ok {
						state.Value = ExpandKeys(obj)
					}
				}
			}

			if !opts.SkipQuery && r.URL != nil && r.URL.RawQuery != "" {
				query := make(map[string]any)
				for key, values := range r.URL.Query() {
					if len(values) == 1 {
						query[key] = values[0]
					} else {
						query[key] = values
					}
				}
				r = r.WithContext(context.WithValue(r.Context(), nestedQueryKey{}, ExpandKeys(query)))
			}

			next.ServeHTTP(w, r)
		})
	}
}

// NestedQuery returns the query expanded by the Nested middleware.
func NestedQuery(r *http.Request) (map[string]any, bool) {
	query, ok := r.Context().Value(nestedQueryKey{}).(map[string]any)
	return query, ok
}

// ExpandKeys splits every key on dots and mounts its value at that path.
// Keys are applied in sorted order, so "a" is mounted before "a.b" and a
// later scalar replaces an earlier object at the same path and vice versa.
func ExpandKeys(object map[string]any) map[string]any {
	keys := make([]string, 0, len(object))
	for key := range object {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make(map[string]any, len(object))
	for _, key := range keys {
		mergeNested(result, toNested(strings.Split(key, "."), object[key]))
	}
	return result
}

func toNested(path []string, value any) map[string]any {
	var obj map[string]any
	for i := len(path) - 1; i >= 0; i-- {
		if obj == nil {
			obj = map[string]any{path[i]: value}
			continue
		}
		obj = map[string]any{path[i]: obj}
	}
	return obj
}

func mergeNested(object, parsed map[string]any) {
	for key, value := range parsed {
		child, isObj := value.(map[string]any)
		if !isObj {
			object[key] = value
			continue
		}
		parent, ok := object[key].(map[string]any)
		if !ok {
			object[key] = child
			continue
		}
		mergeNested(parent, child)
	}
}

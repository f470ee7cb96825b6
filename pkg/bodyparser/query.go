package bodyparser

import (
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// queryOptions controls form decoding.
type queryOptions struct {
	// depth is the number of bracket segments split off a key. Zero keeps
	// keys verbatim, a negative value means unlimited.
	depth int
	// arrayLimit is the highest index that still builds an array
	arrayLimit     int
	parameterLimit int
	decode         func(string) string
}

// sparseArray is an array under construction. Holes are removed when the
// result is compacted.
type sparseArray struct {
	items  map[int]any
	length int
}

func newSparseArray() *sparseArray {
	return &sparseArray{items: make(map[int]any)}
}

func (a *sparseArray) set(i int, v any) {
	a.items[i] = v
	if i >= a.length {
		a.length = i + 1
	}
}

func (a *sparseArray) push(v any) {
	a.set(a.length, v)
}

func (a *sparseArray) has(i int) bool {
	_, ok := a.items[i]
	return ok
}

func (a *sparseArray) indices() []int {
	idx := make([]int, 0, len(a.items))
	for i := range a.items {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}

func (a *sparseArray) toObject() map[string]any {
	obj := make(map[string]any, len(a.items))
	for i, v := range a.items {
		obj[strconv.Itoa(i)] = v
	}
	return obj
}

var (
	encodedOpenBracket  = regexp.MustCompile(`(?i)%5B`)
	encodedCloseBracket = regexp.MustCompile(`(?i)%5D`)
	numericEntity       = regexp.MustCompile(`&#(\d+);`)
	percentOctet        = regexp.MustCompile(`%[0-9a-fA-F]{2}`)
)

// parseQuery decodes a form body into nested maps and slices. Keys repeated
// verbatim collect their values into a slice.
func parseQuery(str string, opts queryOptions) map[string]any {
	str = encodedOpenBracket.ReplaceAllString(str, "[")
	str = encodedCloseBracket.ReplaceAllString(str, "]")

	parts := strings.Split(str, "&")
	if opts.parameterLimit > 0 && len(parts) > opts.parameterLimit {
		parts = parts[:opts.parameterLimit]
	}

	var keys []string
	values := make(map[string]any)
	for _, part := range parts {
		pos := strings.Index(part, "]=")
		if pos == -1 {
			pos = strings.IndexByte(part, '=')
		} else {
			pos++
		}

		var key, val string
		if pos == -1 {
			key = opts.decode(part)
		} else {
			key = opts.decode(part[:pos])
			val = opts.decode(part[pos+1:])
		}

		if existing, ok := values[key]; ok {
			values[key] = combine(existing, val)
			continue
		}
		keys = append(keys, key)
		values[key] = val
	}

	var result any = make(map[string]any)
	for _, key := range keys {
		if key == "" {
			continue
		}
		result = merge(result, parseKeys(key, values[key], opts))
	}

	if obj, ok := compact(result).(map[string]any); ok {
		return obj
	}
	return map[string]any{}
}

func combine(existing any, val string) any {
	if arr, ok := existing.(*sparseArray); ok {
		arr.push(val)
		return arr
	}
	arr := newSparseArray()
	arr.push(existing)
	arr.push(val)
	return arr
}

// bracketSegment finds the first "[...]" at or after from that contains no
// other bracket.
func bracketSegment(key string, from int) (int, int) {
	for i := from; i < len(key); i++ {
		if key[i] != '[' {
			continue
		}
		j := i + 1
		for j < len(key) && key[j] != '[' && key[j] != ']' {
			j++
		}
		if j < len(key) && key[j] == ']' {
			return i, j + 1
		}
	}
	return -1, -1
}

func parseKeys(key string, val any, opts queryOptions) any {
	if opts.depth == 0 {
		return parseObject([]string{key}, val, opts)
	}

	var chain []string
	parent := key
	start, _ := bracketSegment(key, 0)
	if start >= 0 {
		parent = key[:start]
	}
	if parent != "" {
		chain = append(chain, parent)
	}

	pos, n := 0, 0
	for opts.depth < 0 || n < opts.depth {
		s, e := bracketSegment(key, pos)
		if s < 0 {
			break
		}
		chain = append(chain, key[s:e])
		pos = e
		n++
	}

	if opts.depth > 0 && n == opts.depth {
		if s, _ := bracketSegment(key, pos); s >= 0 {
			chain = append(chain, "["+key[s:]+"]")
		}
	}

	return parseObject(chain, val, opts)
}

func parseObject(chain []string, val any, opts queryOptions) any {
	leaf := val
	for i := len(chain) - 1; i >= 0; i-- {
		root := chain[i]

		if root == "[]" {
			arr := newSparseArray()
			if inner, ok := leaf.(*sparseArray); ok {
				for _, idx := range inner.indices() {
					arr.push(inner.items[idx])
				}
			} else {
				arr.push(leaf)
			}
			leaf = arr
			continue
		}

		clean := root
		if len(root) >= 2 && root[0] == '[' && root[len(root)-1] == ']' {
			clean = root[1 : len(root)-1]
		}

		index, err := strconv.Atoi(clean)
		switch {
		case err == nil && root != clean && strconv.Itoa(index) == clean && index >= 0 && index <= opts.arrayLimit:
			arr := newSparseArray()
			arr.set(index, leaf)
			leaf = arr
		case clean == "__proto__":
			leaf = map[string]any{}
		default:
			leaf = map[string]any{clean: leaf}
		}
	}
	return leaf
}

func isContainer(v any) bool {
	switch v.(type) {
	case map[string]any, *sparseArray:
		return true
	}
	return false
}

// merge folds source into target, mutating target where possible.
func merge(target, source any) any {
	if source == nil {
		return target
	}
	if s, ok := source.(string); ok {
		if s == "" {
			return target
		}
		switch t := target.(type) {
		case *sparseArray:
			t.push(s)
			return t
		case map[string]any:
			t[s] = true
			return t
		default:
			arr := newSparseArray()
			arr.push(target)
			arr.push(s)
			return arr
		}
	}

	if !isContainer(target) {
		arr := newSparseArray()
		arr.push(target)
		if src, ok := source.(*sparseArray); ok {
			for _, idx := range src.indices() {
				arr.push(src.items[idx])
			}
		} else {
			arr.push(source)
		}
		return arr
	}

	targetArr, targetIsArr := target.(*sparseArray)
	sourceArr, sourceIsArr := source.(*sparseArray)

	if targetIsArr && sourceIsArr {
		for _, idx := range sourceArr.indices() {
			item := sourceArr.items[idx]
			if !targetArr.has(idx) {
				targetArr.set(idx, item)
				continue
			}
			existing := targetArr.items[idx]
			if isContainer(existing) && isContainer(item) {
				targetArr.items[idx] = merge(existing, item)
			} else {
				targetArr.push(item)
			}
		}
		return targetArr
	}

	var acc map[string]any
	if targetIsArr {
		acc = targetArr.toObject()
	} else {
		acc = target.(map[string]any) //nolint:forcetypeassert,errcheck
	}

	if sourceIsArr {
		for _, idx := range sourceArr.indices() {
			mergeKey(acc, strconv.Itoa(idx), sourceArr.items[idx])
		}
		return acc
	}
	for key, value := range source.(map[string]any) { //nolint:forcetypeassert,errcheck
		mergeKey(acc, key, value)
	}
	return acc
}

func mergeKey(acc map[string]any, key string, value any) {
	if existing, ok := acc[key]; ok {
		acc[key] = merge(existing, value)
		return
	}
	acc[key] = value
}

// compact turns sparse arrays into slices, dropping holes.
func compact(v any) any {
	switch t := v.(type) {
	case *sparseArray:
		out := make([]any, 0, len(t.items))
		for _, idx := range t.indices() {
			out = append(out, compact(t.items[idx]))
		}
		return out
	case map[string]any:
		for key, value := range t {
			t[key] = compact(value)
		}
		return t
	default:
		return v
	}
}

// formDecoder returns the value decoder for a form charset. Malformed
// percent escapes are kept as is.
func formDecoder(charset string, numericEntities bool) func(string) string {
	return func(s string) string {
		s = strings.ReplaceAll(s, "+", " ")
		if charset == "iso-8859-1" {
			s = percentOctet.ReplaceAllStringFunc(s, func(octet string) string {
				b, err := strconv.ParseUint(octet[1:], 16, 8)
				if err != nil {
					return octet
				}
				return string(rune(b))
			})
		} else if decoded, err := url.PathUnescape(s); err == nil && utf8.ValidString(decoded) {
			s = decoded
		}
		if numericEntities {
			s = numericEntity.ReplaceAllStringFunc(s, func(entity string) string {
				n, err := strconv.Atoi(entity[2 : len(entity)-1])
				if err != nil || n > utf8.MaxRune {
					return entity
				}
				return string(rune(n))
			})
		}
		return s
	}
}

// countParameters counts separators up to limit. It reports false once
// the limit is reached.
func countParameters(body string, limit int) (int, bool) {
	count := 0
	for i := 0; i < len(body); i++ {
		if body[i] != '&' {
			continue
		}
		count++
		if count == limit {
			return count, false
		}
	}
	return count, true
}

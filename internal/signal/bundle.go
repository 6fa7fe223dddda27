package signal

import "strings"

// Bundle wraps the untyped JSON map POSTed by the browser-side collector
// and exposes typed, defensive accessors over dotted paths, in place of
// ad-hoc `m["a"].(map[string]interface{})["b"]` chains.
type Bundle map[string]interface{}

// nav walks a dotted path ("screen.width") through nested
// map[string]interface{} values, returning nil if any segment is missing
// or not a map.
func (b Bundle) nav(path string) interface{} {
	parts := strings.Split(path, ".")
	var cur interface{} = map[string]interface{}(b)
	for _, p := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur, ok = m[p]
		if !ok {
			return nil
		}
	}
	return cur
}

// GetString returns the string at path, or def if absent or not a string.
func (b Bundle) GetString(path, def string) string {
	v := b.nav(path)
	if s, ok := v.(string); ok {
		return s
	}
	return def
}

// GetNumber returns the numeric value at path, or def if absent or not a
// number. JSON numbers decode as float64.
func (b Bundle) GetNumber(path string, def float64) float64 {
	v := b.nav(path)
	if n, ok := v.(float64); ok {
		return n
	}
	return def
}

// GetBool returns the boolean at path, or def if absent or not a bool.
func (b Bundle) GetBool(path string, def bool) bool {
	v := b.nav(path)
	if bv, ok := v.(bool); ok {
		return bv
	}
	return def
}

// Has reports whether path resolves to any non-nil value.
func (b Bundle) Has(path string) bool {
	return b.nav(path) != nil
}

// GetStringSlice returns the string elements of a JSON array at path.
func (b Bundle) GetStringSlice(path string) []string {
	v := b.nav(path)
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Len returns the length of an array at path, or -1 if path is not an
// array (distinct from an array of length 0).
func (b Bundle) Len(path string) int {
	v := b.nav(path)
	arr, ok := v.([]interface{})
	if !ok {
		return -1
	}
	return len(arr)
}

package draft

import (
	"encoding/json"
	"reflect"
	"strings"
)

// Meaningful reports whether p has at least one field worth saving: a
// non-blank string, any number, true, or a non-empty list or object that
// itself holds something meaningful. Nil, false, blank strings and empty
// containers do not count.
func Meaningful(p Payload) bool {
	for _, v := range p {
		if meaningfulValue(v) {
			return true
		}
	}
	return false
}

func meaningfulValue(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(x) != ""
	case bool:
		return x
	case json.Number:
		return x != ""
	case float32, float64, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case []any:
		for _, e := range x {
			if meaningfulValue(e) {
				return true
			}
		}
		return false
	case map[string]any:
		for _, e := range x {
			if meaningfulValue(e) {
				return true
			}
		}
		return false
	case Payload:
		return Meaningful(x)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if meaningfulValue(rv.Index(i).Interface()) {
				return true
			}
		}
		return false
	case reflect.Map:
		iter := rv.MapRange()
		for iter.Next() {
			if meaningfulValue(iter.Value().Interface()) {
				return true
			}
		}
		return false
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return false
		}
		return meaningfulValue(rv.Elem().Interface())
	}
	return true
}

// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package finalize

import (
	"fmt"
	"reflect"
	"strings"
)

// lossySerialize converts v into a tree of plain JSON-marshalable values
// per spec §4.6 step 7: scalars pass through unchanged, maps and slices
// recurse, and anything else is stringified with a "_type" tag rather than
// failing the whole bundle. This only runs when a benchmark has embedded
// something json.Marshal refuses (a channel, a function, a cyclic struct)
// into an otherwise-opaque eval result.
func lossySerialize(v any) any {
	switch val := v.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return val
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = lossySerialize(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = lossySerialize(e)
		}
		return out
	}

	return lossySerializeReflect(v)
}

// lossySerializeReflect handles struct/map/slice/pointer values that
// didn't match lossySerialize's type switch (e.g. a typed struct returned
// by a Go-side benchmark adapter, or a map with non-string keys), walking
// them the same way reflection-based marshalers do. Anything it still
// can't decompose is stringified with its concrete type name.
func lossySerializeReflect(v any) any {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil
	}

	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return lossySerialize(rv.Elem().Interface())
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		for _, key := range rv.MapKeys() {
			out[fmt.Sprint(key.Interface())] = lossySerialize(rv.MapIndex(key).Interface())
		}
		return out
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = lossySerialize(rv.Index(i).Interface())
		}
		return out
	case reflect.Struct:
		out := make(map[string]any, rv.NumField())
		t := rv.Type()
		for i := 0; i < rv.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			name := field.Name
			if tag := field.Tag.Get("json"); tag != "" {
				if tag == "-" {
					continue
				}
				if tagName, _, _ := strings.Cut(tag, ","); tagName != "" {
					name = tagName
				}
			}
			out[name] = lossySerialize(rv.Field(i).Interface())
		}
		out["_type"] = t.String()
		return out
	default:
		return map[string]any{
			"_type": rv.Type().String(),
			"value": fmt.Sprintf("%v", v),
		}
	}
}

package foreign

import (
	"fmt"
	"reflect"
	"sort"
)

// toNames validates a foreign input declaration. It returns a non-empty
// reason when the value is not a sequence of distinct strings.
func toNames(raw any) ([]string, string) {
	if raw == nil {
		return nil, "input names is nil, want a sequence of strings"
	}
	if names, ok := raw.([]string); ok {
		return checkNames(names)
	}

	rv := reflect.ValueOf(raw)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Sprintf("input names is %T, want a sequence of strings", raw)
	}
	names := make([]string, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		elem := rv.Index(i).Interface()
		s, ok := elem.(string)
		if !ok {
			return nil, fmt.Sprintf("input name at position %d is %T, want string", i, elem)
		}
		names = append(names, s)
	}
	return checkNames(names)
}

func checkNames(names []string) ([]string, string) {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if name == "" {
			return nil, "input name cannot be empty"
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Sprintf("input name '%s' is declared twice", name)
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out, ""
}

// toOutputs validates a foreign result. String-keyed maps of any flavor are accepted.
func toOutputs(raw any) (map[string]any, string) {
	switch m := raw.(type) {
	case map[string]any:
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[k] = deepCopy(v)
		}
		return out, ""
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, v := range m {
			name, ok := k.(string)
			if !ok {
				return nil, fmt.Sprintf("output key %v is %T, want string", k, k)
			}
			out[name] = deepCopy(v)
		}
		return out, ""
	}

	rv := reflect.ValueOf(raw)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, fmt.Sprintf("result is %T, want a mapping of output names to values", raw)
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = deepCopy(iter.Value().Interface())
	}
	return out, ""
}

// deepCopy copies maps and slices recursively so the two sides of the boundary
// never share mutable state. Other values are returned as is.
func deepCopy(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), copyValue(iter.Value(), rv.Type().Elem()))
		}
		return out.Interface()
	case reflect.Slice:
		if rv.IsNil() {
			return v
		}
		out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out.Index(i).Set(copyValue(rv.Index(i), rv.Type().Elem()))
		}
		return out.Interface()
	}
	return v
}

func copyValue(v reflect.Value, typ reflect.Type) reflect.Value {
	if !v.CanInterface() {
		return v
	}
	copied := deepCopy(v.Interface())
	if copied == nil {
		return reflect.Zero(typ)
	}
	return reflect.ValueOf(copied)
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := set[s]; !ok {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

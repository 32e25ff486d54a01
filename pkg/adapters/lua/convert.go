package lua

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	lua "github.com/yuin/gopher-lua"
)

// toLua converts Go values into Lua values. Slices, arrays and string-keyed
// maps of any element type become tables; structs and other JSON marshalers
// go through their JSON form. Anything else is an error.
func toLua(L *lua.LState, v any) (lua.LValue, error) {
	switch t := v.(type) {
	case nil:
		return lua.LNil, nil
	case bool:
		return lua.LBool(t), nil
	case string:
		return lua.LString(t), nil
	case int:
		return lua.LNumber(t), nil
	case int64:
		return lua.LNumber(t), nil
	case float64:
		return lua.LNumber(t), nil
	case []any:
		tbl := L.NewTable()
		for i, item := range t {
			lv, err := toLua(L, item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			tbl.Append(lv)
		}
		return tbl, nil
	case map[string]any:
		tbl := L.NewTable()
		for _, k := range sortedKeys(t) {
			lv, err := toLua(L, t[k])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			tbl.RawSetString(k, lv)
		}
		return tbl, nil
	case json.Marshaler:
		return jsonToLua(L, t)
	}
	return reflectToLua(L, reflect.ValueOf(v))
}

func reflectToLua(L *lua.LState, rv reflect.Value) (lua.LValue, error) {
	switch rv.Kind() {
	case reflect.Bool:
		return lua.LBool(rv.Bool()), nil
	case reflect.String:
		return lua.LString(rv.String()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return lua.LNumber(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return lua.LNumber(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return lua.LNumber(rv.Float()), nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return lua.LNil, nil
		}
		return toLua(L, rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return lua.LString(rv.Bytes()), nil
		}
		tbl := L.NewTable()
		for i := 0; i < rv.Len(); i++ {
			lv, err := toLua(L, rv.Index(i).Interface())
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			tbl.Append(lv)
		}
		return tbl, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("cannot pass %s to lua: map keys must be strings", rv.Type())
		}
		keys := make([]string, 0, rv.Len())
		values := make(map[string]reflect.Value, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := iter.Key().String()
			keys = append(keys, k)
			values[k] = iter.Value()
		}
		sort.Strings(keys)
		tbl := L.NewTable()
		for _, k := range keys {
			lv, err := toLua(L, values[k].Interface())
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			tbl.RawSetString(k, lv)
		}
		return tbl, nil
	case reflect.Struct:
		return jsonToLua(L, rv.Interface())
	}
	return nil, fmt.Errorf("cannot pass %s to lua", rv.Type())
}

func jsonToLua(L *lua.LState, v any) (lua.LValue, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cannot pass %T to lua: %w", v, err)
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("cannot pass %T to lua: %w", v, err)
	}
	return toLua(L, decoded)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// toGo converts a Lua value into Go. Tables with only a 1..n sequence become
// []any; any other table becomes a map keyed by the string form of its keys,
// except that non-string keys are kept as is so callers can reject them.
func toGo(v lua.LValue) any {
	switch t := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(t)
	case lua.LString:
		return string(t)
	case lua.LNumber:
		return float64(t)
	case *lua.LTable:
		return tableToGo(t)
	default:
		return v.String()
	}
}

func tableToGo(t *lua.LTable) any {
	n := t.MaxN()
	count := 0
	allStrings := true
	t.ForEach(func(k, _ lua.LValue) {
		count++
		if k.Type() != lua.LTString {
			allStrings = false
		}
	})

	if count == 0 {
		return []any{}
	}
	if n > 0 && count == n {
		out := make([]any, 0, n)
		for i := 1; i <= n; i++ {
			out = append(out, toGo(t.RawGetInt(i)))
		}
		return out
	}
	if allStrings {
		out := make(map[string]any, count)
		t.ForEach(func(k, val lua.LValue) {
			out[string(k.(lua.LString))] = toGo(val)
		})
		return out
	}
	out := make(map[any]any, count)
	t.ForEach(func(k, val lua.LValue) {
		out[keyToGo(k)] = toGo(val)
	})
	return out
}

func isEmptyTable(t *lua.LTable) bool {
	key, _ := t.Next(lua.LNil)
	return key == lua.LNil
}

func keyToGo(k lua.LValue) any {
	switch t := k.(type) {
	case lua.LString:
		return string(t)
	case lua.LNumber:
		return float64(t)
	case lua.LBool:
		return bool(t)
	default:
		return k.String()
	}
}

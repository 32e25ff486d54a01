// Package lua implements foreign nodes as Lua scripts running on gopher-lua.
//
// A compiled Script satisfies ports.ForeignNode and is meant to be wrapped by
// a foreign.Adapter:
//
//	script, err := lua.Compile("extract", source)
//	node, err := foreign.New("extract", script)
package lua

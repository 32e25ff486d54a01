// Package registry turns host callables and foreign objects into graph nodes.
//
// Native Go functions are wrapped with Native or NativeMap; foreign objects are
// wrapped with Foreign. A Registry maps node type names to factories so that
// pipeline files can refer to native nodes by type.
package registry

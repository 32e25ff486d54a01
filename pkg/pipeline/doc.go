// Package pipeline loads pipeline definition files and compiles them into a
// runnable graph.
//
// A pipeline lists its external inputs and its nodes. Each node is a Lua
// script, an external process or a native node type from a registry:
//
//	name: triage
//	inputs: [log]
//	nodes:
//	  - name: extract
//	    kind: lua
//	    inputs: [log]
//	    outputs: [summary]
//	    script_file: extract.lua
//	  - name: score
//	    kind: process
//	    command: ./score.sh
//	    inputs: [summary]
//	    outputs: [score]
//	    timeout: 2s
package pipeline

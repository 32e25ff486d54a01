/*
Package espalier runs directed acyclic graphs of computation nodes over a shared, copy-on-write execution context.

Every node declares the names it reads and the names it writes. The graph is derived from those names, so a node runs as soon as every value it reads has been merged, and independent nodes run concurrently. Some nodes are plain Go functions; others are foreign (a Lua script or an external process) and reach the run only through a ForeignNodeAdapter, which gives them the same ordering, error propagation, cancellation and lifetime rules.

# Key Features

  - Declarative wiring: dependencies come from input and output names, cycles are rejected at build time.
  - Copy-on-write context: each node sees an isolated view; its outputs are merged back one at a time.
  - Foreign nodes: Lua scripts and external processes speaking JSON, with bounded cancellation.
  - Run ledger: outcomes are recorded per run ID (memory, file or Redis) and a run ID executes once.

# Usage

Build a graph with the dsl package (or load a pipeline file) and run it through the Engine.

	package main

	import (
		"context"
		"fmt"
		"log"

		"github.com/aretw0/espalier"
		"github.com/aretw0/espalier/pkg/dsl"
	)

	func main() {
		b := dsl.New()
		b.Add("shout").
			NativeMap([]string{"text"}, func(ctx context.Context, in map[string]any) (map[string]any, error) {
				return map[string]any{"loud": fmt.Sprint(in["text"], "!")}, nil
			}).
			Outputs("loud")

		graph, err := b.Build("text")
		if err != nil {
			log.Fatal(err)
		}

		eng, err := espalier.New(graph)
		if err != nil {
			log.Fatal(err)
		}

		outcome, err := eng.Run(context.Background(), map[string]any{"text": "hello"})
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(outcome.Outputs["loud"])
	}
*/
package espalier

/*
Package dsl provides a fluent builder for constructing graphs in Go code.

It is the programmatic counterpart of pipeline files: nodes are declared with
their implementation and outputs, and edges are derived from matching names.

Example usage:

	b := dsl.New()

	b.Add("summarize").
		NativeMap([]string{"log"}, summarize).
		Outputs("summary")

	b.Add("score").
		Foreign(scoreScript).
		Outputs("score").
		Timeout(2 * time.Second)

	g, err := b.Build("log")
	if err != nil {
		return err
	}
	defer b.Close(ctx)

	engine := espalier.New(g)
*/
package dsl

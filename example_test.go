package espalier_test

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/aretw0/espalier"
	"github.com/aretw0/espalier/pkg/dsl"
)

// ExampleEngine_Run builds a two node graph in code and runs it.
func ExampleEngine_Run() {
	b := dsl.New()
	b.Add("split").
		NativeMap([]string{"sentence"}, func(ctx context.Context, in map[string]any) (map[string]any, error) {
			return map[string]any{"words": len(strings.Fields(in["sentence"].(string)))}, nil
		}).
		Outputs("words")
	b.Add("describe").
		NativeMap([]string{"words"}, func(ctx context.Context, in map[string]any) (map[string]any, error) {
			return map[string]any{"summary": fmt.Sprintf("%d words", in["words"])}, nil
		}).
		Outputs("summary")

	graph, err := b.Build("sentence")
	if err != nil {
		log.Fatal(err)
	}

	eng, err := espalier.New(graph)
	if err != nil {
		log.Fatal(err)
	}

	outcome, err := eng.Run(context.Background(), map[string]any{"sentence": "the quick brown fox"})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(outcome.Status, outcome.Outputs["summary"])
	// Output: succeeded 4 words
}

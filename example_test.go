package weave_test

import (
	"context"
	"fmt"
	"log"

	"github.com/mlahtinen/weave"
)

// Example_builder demonstrates defining and running a simple pipeline
// using the high-level builder API and an in-memory engine.
func Example_builder() {
	ctx := context.Background()

	graph := weave.New("greeting").
		Node("greet", []string{"name"}, []string{"line"}, greet).
		Node("shout", []string{"line"}, []string{"loud"}, shout).
		Input("name").
		MustBuild()

	eng := weave.NewInMemoryEngine()

	res, err := weave.Run(ctx, eng, graph, map[string]any{"name": "Gopher"})
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("status=%s loud=%v\n", res.Status, res.Values["loud"])
	// Output: status=COMPLETED loud=hello, Gopher!
}

// Example_loop demonstrates a cyclic graph: a gate routes back to the
// counting node until the value reaches the limit.
func Example_loop() {
	ctx := context.Background()

	graph := weave.New("counter").
		Node("bump", []string{"n"}, []string{"n"}, func(ctx context.Context, args map[string]any) (any, error) {
			return args["n"].(int) + 1, nil
		}).
		Branch("more", []string{"n"}, "bump", weave.End, func(ctx context.Context, args map[string]any) (any, error) {
			return args["n"].(int) < 3, nil
		}).
		Default("n", 0).
		MustBuild()

	res, err := weave.Run(ctx, weave.NewInMemoryEngine(), graph, nil)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(res.Values["n"])
	// Output: 3
}

// Example_interrupt demonstrates pausing a run for external input and
// resuming it with the answer.
func Example_interrupt() {
	ctx := context.Background()
	eng := weave.NewInMemoryEngine()

	graph := weave.New("confirm-deploy").
		Node("plan", []string{"service"}, []string{"question"}, func(ctx context.Context, args map[string]any) (any, error) {
			return fmt.Sprintf("deploy %s?", args["service"]), nil
		}).
		Interrupt("confirm", "question", "answer").
		Node("deploy", []string{"answer"}, []string{"result"}, func(ctx context.Context, args map[string]any) (any, error) {
			return fmt.Sprintf("deployed after %q", args["answer"]), nil
		}).
		Input("service").
		MustBuild()

	res, err := weave.Run(ctx, eng, graph, map[string]any{"service": "api"},
		weave.WithWorkflowID("deploy-api"))
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(res.Pause.Value)

	res, err = weave.Resume(ctx, eng, graph, "deploy-api", map[string]any{"answer": "yes"})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(res.Values["result"])
	// Output:
	// deploy api?
	// deployed after "yes"
}

func greet(ctx context.Context, args map[string]any) (any, error) {
	name, ok := args["name"].(string)
	if !ok {
		return nil, fmt.Errorf("greet: expected string name, got %T", args["name"])
	}
	return "hello, " + name, nil
}

func shout(ctx context.Context, args map[string]any) (any, error) {
	return args["line"].(string) + "!", nil
}

package petal_test

import (
	"context"
	"fmt"
	"log"

	"github.com/petalflow/petal"
)

// Example_parseAndRun demonstrates loading a workflow from YAML and
// executing it with the builtin tools.
func Example_parseAndRun() {
	ctx := context.Background()

	wf, err := petal.ParseString(`
petal: "1"
name: answer
steps:
  - id: calc
    uses: python.eval
    with:
      expression: "6 * 7"
  - id: report
    uses: debug.echo
    needs: [calc]
    with:
      message: "the answer is {{ result }}"
`)
	if err != nil {
		log.Fatal(err)
	}

	runner, err := petal.NewRunner()
	if err != nil {
		log.Fatal(err)
	}
	defer runner.Close()

	report, err := runner.Run(ctx, wf, petal.RunOptions{RunDir: "/tmp/petal-example"})
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(report.Status)
	fmt.Println(report.StepResults["report"]["message"])
	// Output:
	// completed
	// the answer is 42
}

// Example_builder demonstrates constructing a workflow programmatically
// and dry-running it.
func Example_builder() {
	ctx := context.Background()

	wf, err := petal.NewBuilder("release").
		Param("dry", petal.TypeBool, petal.WithDefault(true)).
		Step("build", "debug.echo").With("message", "building").Done().
		Step("publish", "debug.echo").
		Needs("build").
		If("!params.dry").
		Done().
		Build()
	if err != nil {
		log.Fatal(err)
	}

	runner, err := petal.NewRunner()
	if err != nil {
		log.Fatal(err)
	}
	defer runner.Close()

	plan, err := runner.Plan(ctx, wf, petal.RunOptions{})
	if err != nil {
		log.Fatal(err)
	}

	for _, step := range plan.Steps {
		fmt.Println(step.ID)
	}
	// Output:
	// build
	// publish
}

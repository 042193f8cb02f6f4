// Package petal provides a declarative, file-driven workflow engine for Go.
//
// Petal workflows are YAML documents (.petal files) describing a DAG of
// steps. Each step invokes a named tool, may depend on other steps, and
// can be guarded by a boolean expression. Step inputs are rendered with
// a strict single-pass template language, and step outputs accumulate
// into a shared state that later steps read.
//
// # Core Concepts
//
// The programming model is intentionally small:
//
//  1. Workflow — the parsed definition: params, env, vars and steps.
//  2. Tool — anything a step can invoke through `uses:`, resolved via
//     a Registry.
//  3. Runner — parses, validates and executes workflows, optionally
//     recording run history.
//  4. Builder — constructs workflows programmatically instead of from
//     YAML.
//  5. Observer — receives run and step lifecycle events for logging
//     and metrics.
//
// # Safety model
//
// Workflow authors never get a general-purpose language. Guard
// expressions are parsed by a purpose-built parser that cannot express
// function calls, assignments or loops, and access only four data
// namespaces (params, vars, outputs, env). Templates are rendered in a
// single strict pass against a closed set of filters; nested template
// expansion is rejected outright.
//
// # Execution
//
// Steps run in topological order with declaration order breaking ties,
// so a given workflow always executes in the same sequence. A failing
// step consults its if_error policy: fail aborts the run, skip absorbs
// the failure, and retry re-attempts with exponential backoff before
// giving up. When a run aborts, the workflow's on_error steps run
// best-effort.
//
// # Getting started
//
//	wf, err := petal.ParseFile("deploy.petal")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	runner, err := petal.NewRunner()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer runner.Close()
//
//	report, err := runner.Run(ctx, wf, petal.RunOptions{
//		Params: map[string]any{"region": "eu-west-1"},
//	})
//
// See the examples directory for complete programs and workflow files.
package petal

/*
Package operations provides a sequential operation runner: it executes an ordered list of named,
potentially long-running, fallible steps one at a time on a background goroutine, gates each step on
the outcome of the ones before it and streams progress to observers.

# Core Components

Step / Operation:
  - A named step bundling an action, a precondition, a success handler and a failure handler
  - Operation[OUT] builds a Step from function values with a typed result
  - The ID is assigned at construction and stays stable for the life of the run

RunContext:
  - State shared by every operation of a run: the last outcome code and per-operation results
  - Carries the run logger; entries written to it become log events of the run

Runner:
  - Owns the FIFO queue and drives the run; one Runner performs at most one run
  - Fail-fast: the first failure aborts the remainder of the queue
  - A rejected precondition marks the operation Skipped and also aborts the remainder
  - Publishes statuses to progress sinks, emits log events and exactly one Completion

Observers:
  - Observer callbacks run on the run goroutine, in order
  - Dispatcher hands events over to another goroutine without blocking the run
  - Runner.Subscribe exposes the same stream as a channel

Reporter:
  - Stores a RunReport for every completed run for audit and debugging
  - MemoryReporter here, file and SQL stores in the reportstore package

OperationRegistry:
  - Stores step factories by kind and semver version, so flows can be declared by name

# Basic Usage

	create := operations.NewOperation("create resource group",
		func(ctx context.Context, rc *operations.RunContext) (string, error) {
			return client.CreateGroup(ctx, "rg-demo")
		}).
		OnSuccessDo(func(rc *operations.RunContext, id string) error {
			cfg.GroupID = id
			return nil
		})

	r := operations.New(operations.WithLogger(lggr), operations.WithName("provision"))
	if err := r.Enqueue(create, assignPolicy); err != nil {
		return err
	}
	events := r.Subscribe(ctx)
	if err := r.Start(ctx); err != nil {
		return err
	}
	for ev := range events {
		render(ev)
	}

A failed run is retried by building a new Runner, see Resubmit.
*/
package operations

/*
Package domain contains the core types of the espalier execution engine.

It defines the node contract, the shared execution context that flows through a
graph run, the error taxonomy and the outcome reported to the host. This package
is kept pure and free of I/O, scheduling or persistence concerns.

# Key Entities

  - Node: the capability every graph node satisfies (declared inputs + Execute).
  - Context: the scoped, copy-on-write bag of named values of a run.
  - Outcome: the serializable result of a run (outputs or failing node + cause chain).
  - LifecycleHooks: callbacks fired by the runner for observability.
*/
package domain

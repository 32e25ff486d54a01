/*
Package ports defines the driven ports (interfaces) for the espalier engine.

These interfaces decouple the core logic from external implementations, allowing
the engine to work with foreign node runtimes, various storage backends and
distributed lock providers.

# Key Interfaces

  - ForeignNode: the object a foreign implementation (Lua script, external process) exposes.
  - OutcomeStore: persists and loads run outcomes.
  - DistributedLocker: provides distributed locking for concurrent access to a run ID.
*/
package ports

// Package ledger records run outcomes and guarantees that a run ID is executed
// at most once, within a process and, given a DistributedLocker, across replicas.
package ledger

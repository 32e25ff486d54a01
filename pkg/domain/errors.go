package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrForeignFailure marks a failure raised inside a foreign node implementation.
// The foreign error value itself never crosses the adapter boundary; only its
// textual description does (see NodeExecutionError.Description).
var ErrForeignFailure = errors.New("foreign node failure")

// ErrContextReleased is returned when a node writes to a context after the
// runner has merged or discarded it.
var ErrContextReleased = errors.New("execution context released")

// ErrAdapterClosed is returned when a foreign adapter is invoked after Close.
var ErrAdapterClosed = errors.New("foreign adapter closed")

// ErrRunNotFound is returned when a run ID cannot be found in the outcome store.
var ErrRunNotFound = errors.New("run not found")

// MissingInputError is returned by a node whose declared inputs are absent
// from the context it was given. No side effect has happened when it is returned.
type MissingInputError struct {
	Node    string
	Missing []string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("node '%s' requires inputs that are missing: %v", e.Node, e.Missing)
}

// DuplicateOutputError is returned when an output would overwrite an existing
// context entry without permission, or when two nodes produce the same name.
type DuplicateOutputError struct {
	Name     string
	Node     string
	Existing string // previous producer, if known
}

func (e *DuplicateOutputError) Error() string {
	switch {
	case e.Node != "" && e.Existing != "":
		return fmt.Sprintf("output '%s' of node '%s' is already produced by '%s'", e.Name, e.Node, e.Existing)
	case e.Node != "":
		return fmt.Sprintf("output '%s' of node '%s' collides with an existing entry", e.Name, e.Node)
	default:
		return fmt.Sprintf("output '%s' collides with an existing entry", e.Name)
	}
}

// NameNotFoundError is returned when a name is absent from a context and its ancestry.
type NameNotFoundError struct {
	Name string
}

func (e *NameNotFoundError) Error() string {
	return fmt.Sprintf("name '%s' not found in context", e.Name)
}

// CycleDetectedError is returned by graph construction when the derived
// dependency graph is not acyclic. Path lists the nodes on the cycle, with the
// first node repeated at the end.
type CycleDetectedError struct {
	Path []string
}

func (e *CycleDetectedError) Error() string {
	return fmt.Sprintf("cycle detected: %s", strings.Join(e.Path, " -> "))
}

// UnresolvedInputError is returned when a declared input is neither produced
// by a node nor supplied as an external input.
type UnresolvedInputError struct {
	Node  string
	Input string
}

func (e *UnresolvedInputError) Error() string {
	if e.Node == "" {
		return fmt.Sprintf("external input '%s' was not supplied", e.Input)
	}
	return fmt.Sprintf("input '%s' of node '%s' is not produced by any node nor supplied externally", e.Input, e.Node)
}

// ForeignContractViolationError is returned when a foreign node answers with a
// malformed value or raises while declaring its contract.
type ForeignContractViolationError struct {
	Node   string
	Op     string // "get_input_names" or "execute"
	Reason string
}

func (e *ForeignContractViolationError) Error() string {
	return fmt.Sprintf("foreign node '%s' violated its contract in %s: %s", e.Node, e.Op, e.Reason)
}

// NodeExecutionError wraps any failure that happened while a node was executing.
type NodeExecutionError struct {
	Node        string
	Description string
	Cause       error
}

func (e *NodeExecutionError) Error() string {
	switch {
	case e.Description != "" && e.Cause != nil && e.Cause != ErrForeignFailure:
		return fmt.Sprintf("node '%s' failed: %s: %v", e.Node, e.Description, e.Cause)
	case e.Description != "":
		return fmt.Sprintf("node '%s' failed: %s", e.Node, e.Description)
	default:
		return fmt.Sprintf("node '%s' failed: %v", e.Node, e.Cause)
	}
}

func (e *NodeExecutionError) Unwrap() error { return e.Cause }

// CancellationTimeoutError is returned when a node did not honor cancellation
// within the grace period.
type CancellationTimeoutError struct {
	Node        string
	GracePeriod time.Duration
}

func (e *CancellationTimeoutError) Error() string {
	return fmt.Sprintf("node '%s' did not stop within %s of cancellation", e.Node, e.GracePeriod)
}

// GraphExecutionError reports the failure of a run, carrying the failing node's name.
type GraphExecutionError struct {
	Node  string
	Cause error
}

func (e *GraphExecutionError) Error() string {
	return fmt.Sprintf("graph execution failed at node '%s': %v", e.Node, e.Cause)
}

func (e *GraphExecutionError) Unwrap() error { return e.Cause }

// CauseChain flattens an error chain into its messages, outermost first.
// Joined errors contribute each branch in order.
func CauseChain(err error) []string {
	var chain []string
	for err != nil {
		chain = append(chain, err.Error())
		switch u := err.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				chain = append(chain, CauseChain(inner)...)
			}
			return chain
		case interface{ Unwrap() error }:
			err = u.Unwrap()
		default:
			err = nil
		}
	}
	return chain
}

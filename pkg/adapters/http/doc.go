// Package http exposes a pipeline engine over HTTP: runs are created with
// POST /runs, recorded outcomes are read back by run ID, and the events of a
// run can be followed over Server-Sent Events.
package http

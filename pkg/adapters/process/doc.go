// Package process runs external commands as foreign nodes.
//
// Commands are allow-listed by name in a Registry, usually loaded from a
// commands.yaml file. Inputs travel as JSON on stdin and as environment
// variables, never as command line flags.
package process

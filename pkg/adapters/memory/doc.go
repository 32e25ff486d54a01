// Package memory provides in-process implementations of the persistence ports.
package memory

// Package middleware wraps outcome stores to protect what they persist:
// encryption at rest with key rotation, and masking of sensitive values.
package middleware

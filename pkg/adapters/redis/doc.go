// Package redis persists run outcomes and coordinates run IDs across replicas
// using Redis.
package redis

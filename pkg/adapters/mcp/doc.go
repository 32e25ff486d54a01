// Package mcp exposes a pipeline engine as Model Context Protocol tools and
// resources, so agents can run it and read its structure.
package mcp

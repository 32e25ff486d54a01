// Package file stores run outcomes as JSON files on the local filesystem.
package file

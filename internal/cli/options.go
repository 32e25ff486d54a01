package cli

import "time"

// Options carries the flags shared by every command that builds an engine.
type Options struct {
	PipelinePath string
	CommandsPath string
	LogLevel     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	StoreDir      string
	EncryptionKey string   // hex or base64, 32 bytes
	Redact        []string // patterns of names masked before storing

	GracePeriod    time.Duration
	MaxConcurrency int
}

// RunOptions contains the configuration for the run command.
type RunOptions struct {
	Options

	Inputs     []string // name=value pairs
	InputsJSON string   // raw JSON object
	RunID      string
	JSON       bool
	Partial    bool
	Timeout    time.Duration
}

// ServeOptions contains the configuration for the serve command.
type ServeOptions struct {
	Options

	Port    int
	Metrics bool
}

// MCPOptions contains the configuration for the mcp command.
type MCPOptions struct {
	Options

	Transport string
	Port      int
}

package internal

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config     *Config
	configPath string
	mcpStdio   bool
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithConfigPath sets the config file path so runtime changes to the sync
// section can be picked up without a restart.
func WithConfigPath(path string) Option {
	return func(a *application) {
		a.configPath = path
	}
}

// WithMCPStdio runs the MCP server on stdin/stdout instead of the HTTP server.
func WithMCPStdio(enabled bool) Option {
	return func(a *application) {
		a.mcpStdio = enabled
	}
}

package sandbox

// EventMessage is the only event name addEventListener accepts
const EventMessage = "message"

// Config defines sandbox configuration
type Config struct {
	MaxCallStackSize int      // Maximum JS call depth, 0 for the engine default
	EnableConsole    bool     // Provide console.log/info/warn/error/debug
	WorkDir          string   // Base directory for importScripts
	ImportAllow      []string // doublestar patterns importScripts paths must match; empty denies all
}

// Host receives the actions a script takes toward the parent
type Host interface {
	// PostMessage delivers a serialized USER payload
	PostMessage(payload []byte) error
	// Close starts worker shutdown
	Close()
}

// Default configuration
func DefaultConfig() Config {
	return Config{
		MaxCallStackSize: 1024,
		EnableConsole:    true,
		WorkDir:          ".",
		ImportAllow:      []string{"**"},
	}
}

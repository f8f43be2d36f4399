package script

import "time"

// Config bounds one script host.
type Config struct {
	Timeout          time.Duration
	MaxCallStackSize int
	EnableConsole    bool
}

// DefaultConfig matches the document-content defaults: short scripts with
// console output captured for diagnostics.
func DefaultConfig() Config {
	return Config{
		Timeout:          5 * time.Second,
		MaxCallStackSize: 1024,
		EnableConsole:    true,
	}
}

// LogEntry is one captured console call.
type LogEntry struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Result is the outcome of one script execution.
type Result struct {
	Value    any           `json:"value,omitempty"`
	Console  []LogEntry    `json:"console,omitempty"`
	Duration time.Duration `json:"duration"`
}

package sandbox

import (
	"time"

	"github.com/luminadocs/lumina/internal/security"
)

// ModuleConfig describes a module the document container asks to load.
type ModuleConfig struct {
	Name        string                     `json:"name"`
	Version     string                     `json:"version"`
	EntryPoint  string                     `json:"entry_point"`
	Exports     []string                   `json:"exports"`
	Imports     []string                   `json:"imports"`
	Permissions security.ModulePermissions `json:"permissions"`
}

// LoadedModule is the registration record for one admitted module. It is
// created only by a fully successful load, so a validation or transport
// failure leaves no trace, and removed only by session teardown.
type LoadedModule struct {
	Name        string                     `json:"name"`
	Version     string                     `json:"version"`
	EntryPoint  string                     `json:"entry_point"`
	Exports     []string                   `json:"exports"`
	Imports     []string                   `json:"imports"`
	Permissions security.ModulePermissions `json:"permissions"`
	LoadedAt    time.Time                  `json:"loaded_at"`
}

func (m *LoadedModule) exportsFunction(name string) bool {
	for _, fn := range m.Exports {
		if fn == name {
			return true
		}
	}
	return false
}

// ExecutionResult is the structured outcome of one function call. Execution
// failures are data, not errors: callers branch on Success.
type ExecutionResult struct {
	Success  bool          `json:"success"`
	Result   any           `json:"result,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

func failure(start time.Time, reason string) *ExecutionResult {
	return &ExecutionResult{
		Success:  false,
		Error:    reason,
		Duration: time.Since(start),
	}
}

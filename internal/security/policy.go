package security

// ExecutionMode controls how document scripts may run.
type ExecutionMode string

const (
	ExecutionNone      ExecutionMode = "none"
	ExecutionSandboxed ExecutionMode = "sandboxed"
	ExecutionTrusted   ExecutionMode = "trusted"
)

// DOMAccess controls the level of document access granted to scripts.
type DOMAccess string

const (
	DOMAccessNone  DOMAccess = "none"
	DOMAccessRead  DOMAccess = "read"
	DOMAccessWrite DOMAccess = "write"
)

// StorageKind names one of the browser-style storage facilities a document
// may request.
type StorageKind string

const (
	StorageLocal   StorageKind = "local"
	StorageSession StorageKind = "session"
	StorageIndexed StorageKind = "indexed"
	StorageCookies StorageKind = "cookies"
)

// ModulePermissions defines execution constraints for one compiled module.
type ModulePermissions struct {
	MemoryLimit     uint64   `json:"memory_limit" yaml:"memory_limit"`     // bytes
	CPUTimeLimit    uint64   `json:"cpu_time_limit" yaml:"cpu_time_limit"` // milliseconds
	AllowNetworking bool     `json:"allow_networking" yaml:"allow_networking"`
	AllowFileSystem bool     `json:"allow_file_system" yaml:"allow_file_system"`
	AllowedImports  []string `json:"allowed_imports" yaml:"allowed_imports"`
}

// ScriptPermissions defines constraints for declarative document scripts.
type ScriptPermissions struct {
	ExecutionMode ExecutionMode `json:"execution_mode" yaml:"execution_mode"`
	AllowedAPIs   []string      `json:"allowed_apis" yaml:"allowed_apis"`
	DOMAccess     DOMAccess     `json:"dom_access" yaml:"dom_access"`
}

// NetworkPolicy defines outbound network access permissions.
type NetworkPolicy struct {
	AllowOutbound bool     `json:"allow_outbound" yaml:"allow_outbound"`
	AllowedHosts  []string `json:"allowed_hosts" yaml:"allowed_hosts"`
	AllowedPorts  []int    `json:"allowed_ports" yaml:"allowed_ports"`
}

// StoragePolicy defines storage access permissions.
type StoragePolicy struct {
	AllowLocalStorage   bool `json:"allow_local_storage" yaml:"allow_local_storage"`
	AllowSessionStorage bool `json:"allow_session_storage" yaml:"allow_session_storage"`
	AllowIndexedDB      bool `json:"allow_indexed_db" yaml:"allow_indexed_db"`
	AllowCookies        bool `json:"allow_cookies" yaml:"allow_cookies"`
}

// Policy is the complete security policy for one sandbox session.
//
// A Policy is immutable for the lifetime of the session that holds it.
// Validators receive it by value; nothing widens it at runtime.
type Policy struct {
	Module  ModulePermissions `json:"module_permissions" yaml:"module_permissions"`
	Script  ScriptPermissions `json:"script_permissions" yaml:"script_permissions"`
	Network NetworkPolicy     `json:"network_policy" yaml:"network_policy"`
	Storage StoragePolicy     `json:"storage_policy" yaml:"storage_policy"`
}

// Default returns the documented baseline policy: 16 MiB module memory,
// 5 s CPU ceiling, no networking, no filesystem, sandboxed scripts with
// read-only document access, all storage denied.
func Default() Policy {
	return Policy{
		Module: ModulePermissions{
			MemoryLimit:     16 * 1024 * 1024,
			CPUTimeLimit:    5000,
			AllowNetworking: false,
			AllowFileSystem: false,
			AllowedImports:  []string{},
		},
		Script: ScriptPermissions{
			ExecutionMode: ExecutionSandboxed,
			AllowedAPIs:   []string{},
			DOMAccess:     DOMAccessRead,
		},
		Network: NetworkPolicy{
			AllowOutbound: false,
			AllowedHosts:  []string{},
			AllowedPorts:  []int{},
		},
		Storage: StoragePolicy{},
	}
}

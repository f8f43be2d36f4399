package security

import (
	"fmt"
	"strings"
)

// Decision is the outcome of evaluating a request against a Policy. Denials
// carry one reason per violated dimension so callers and tests can tell
// which limit failed. Warnings flag permitted-but-risky requests.
type Decision struct {
	Allowed  bool
	Reasons  []string
	Warnings []string
}

// Reason joins all denial reasons into one string.
func (d Decision) Reason() string {
	return strings.Join(d.Reasons, "; ")
}

func (d *Decision) deny(format string, args ...any) {
	d.Allowed = false
	d.Reasons = append(d.Reasons, fmt.Sprintf(format, args...))
}

func (d *Decision) warn(format string, args ...any) {
	d.Warnings = append(d.Warnings, fmt.Sprintf(format, args...))
}

// Thresholds above which a permitted request still draws a warning.
const (
	warnMemoryBytes = 64 * 1024 * 1024
	warnCPUMillis   = 10_000
)

// EvaluateModulePermissions checks a module's requested permissions against
// the session policy. Every violated dimension contributes its own reason;
// nothing is clamped or downgraded.
func EvaluateModulePermissions(requested ModulePermissions, policy Policy) Decision {
	d := Decision{Allowed: true}
	allowed := policy.Module

	if requested.MemoryLimit > allowed.MemoryLimit {
		d.deny("memory limit exceeds sandbox limit: requested %d, allowed %d",
			requested.MemoryLimit, allowed.MemoryLimit)
	}
	if requested.CPUTimeLimit > allowed.CPUTimeLimit {
		d.deny("cpu time limit exceeds sandbox limit: requested %dms, allowed %dms",
			requested.CPUTimeLimit, allowed.CPUTimeLimit)
	}
	if requested.AllowNetworking && !allowed.AllowNetworking {
		d.deny("networking requested but policy denies it")
	}
	if requested.AllowFileSystem && !allowed.AllowFileSystem {
		d.deny("file system access requested but policy denies it")
	}
	for _, imp := range requested.AllowedImports {
		if !contains(allowed.AllowedImports, imp) {
			d.deny("import %q not permitted by policy", imp)
		}
	}

	if requested.MemoryLimit > warnMemoryBytes {
		d.warn("high memory limit requested")
	}
	if requested.CPUTimeLimit > warnCPUMillis {
		d.warn("high cpu time limit requested")
	}
	if requested.AllowNetworking {
		d.warn("network access requested")
	}

	return d
}

// EvaluateScriptExecution checks whether scripts may run at all in the
// requested mode.
func EvaluateScriptExecution(mode ExecutionMode, policy Policy) Decision {
	d := Decision{Allowed: true}

	if policy.Script.ExecutionMode == ExecutionNone {
		d.deny("script execution disabled by policy")
		return d
	}
	if mode == ExecutionTrusted && policy.Script.ExecutionMode != ExecutionTrusted {
		d.deny("trusted execution requested but policy allows only %q mode",
			policy.Script.ExecutionMode)
	}
	return d
}

// EvaluateAPI checks whether a named capability API is available to scripts.
func EvaluateAPI(name string, policy Policy) Decision {
	d := Decision{Allowed: true}
	if !contains(policy.Script.AllowedAPIs, name) {
		d.deny("api %q not permitted by script policy", name)
	}
	return d
}

// EvaluateHost checks an outbound host/port pair against the network policy.
// An empty allowed-hosts list permits no host; same for ports.
func EvaluateHost(host string, port int, policy Policy) Decision {
	d := Decision{Allowed: true}
	net := policy.Network

	if !net.AllowOutbound {
		d.deny("outbound network access denied by policy")
		return d
	}
	if !contains(net.AllowedHosts, host) {
		d.deny("host %q not in allowed host list", host)
	}
	if !containsInt(net.AllowedPorts, port) {
		d.deny("port %d not in allowed port list", port)
	}
	return d
}

// EvaluateStorage checks whether a storage facility may be used.
func EvaluateStorage(kind StorageKind, policy Policy) Decision {
	d := Decision{Allowed: true}

	var ok bool
	switch kind {
	case StorageLocal:
		ok = policy.Storage.AllowLocalStorage
	case StorageSession:
		ok = policy.Storage.AllowSessionStorage
	case StorageIndexed:
		ok = policy.Storage.AllowIndexedDB
	case StorageCookies:
		ok = policy.Storage.AllowCookies
	default:
		d.deny("unknown storage kind %q", kind)
		return d
	}

	if !ok {
		d.deny("%s storage access denied by policy", kind)
	}
	return d
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsInt(list []int, n int) bool {
	for _, v := range list {
		if v == n {
			return true
		}
	}
	return false
}

// Package dom provides a capability-restricted document surface for
// rendering untrusted content. Unlike the sandbox boundary, which rejects
// disallowed requests with explicit reasons, this surface silently drops or
// sanitizes them: it sits on the rendering path, where a policy denial must
// degrade the output rather than halt it.
package dom

// Package script hosts document scripts in an isolated JavaScript VM.
// Execution mode, capability APIs, and document access are all gated by the
// session security policy: mode is checked once at construction, each API
// at registration, and every document mutation flows through the
// capability-restricted surface.
package script

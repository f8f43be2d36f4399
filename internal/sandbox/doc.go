// Package sandbox owns the lifecycle of one isolated execution session:
// module admission against the session security policy, function dispatch
// through the communication bridge, statistics aggregation, and teardown.
//
// Failure philosophy: admission and fencing problems are explicit errors
// with reasons naming the violated dimension; execution problems (module
// not loaded, function not exported, remote failure, timeout) are structured
// ExecutionResult data so callers on the rendering path can branch on
// Success without exception handling.
package sandbox

// Package bridge implements the message-passing protocol between the host
// process and the sandboxed document environment.
//
// The boundary only supports one-directional frame delivery plus an
// asynchronous inbound callback, so the bridge fakes request/response on top
// of it with a correlation table: every outbound message that expects a
// reply registers a pending entry keyed by message ID, and exactly one of a
// matching response, the deadline, or session teardown resolves it. A
// heartbeat loop runs for the lifetime of the connection; inbound heartbeats
// update liveness state and are never forwarded to application handlers.
//
// The transport is injected as a Binding at construction; the bridge has no
// global state and multiple independent bridges may coexist in one process.
package bridge

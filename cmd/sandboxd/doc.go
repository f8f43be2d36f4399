// Command sandboxd hosts untrusted interactive document content. It
// accepts document-engine connections over WebSocket, runs each one in an
// isolated sandbox session governed by a security policy, and exposes a
// REST surface for module loading, function dispatch, and statistics.
package main

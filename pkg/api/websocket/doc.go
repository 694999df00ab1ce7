// Package websocket provides real-time event streaming via WebSocket.
//
// Clients connect to /api/v1/runs/ws?pathspec=<pathspec> to receive the
// lifecycle events of a run as they are published.
package websocket

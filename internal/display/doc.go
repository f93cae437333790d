// Package display provides the live WebSocket feed of broadcast ticks.
// Viewers receive the same JSON payload UDP clients get, once per tick.
package display

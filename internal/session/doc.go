// Package session provides the in-memory client registry.
// Sessions are keyed by source address and declared receive port and move
// between active and inactive as clients connect, disconnect and reconnect.
package session

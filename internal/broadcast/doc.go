// Package broadcast implements the periodic time broadcaster.
// Each tick snapshots the active sessions and fans the payload out with
// bounded concurrency, recording the outcome of every send.
package broadcast

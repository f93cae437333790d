// Package client implements the subscriber side of the time protocol.
//
// Dial binds the local receive port and announces it with CONNECT:<port>,
// Run feeds each decoded time string to a Display, and Close sends
// DISCONNECT:<port> before releasing the socket.
package client

// Package protocol implements the text control messages and the JSON time payload.
// Clients send CONNECT[:port] and DISCONNECT[:port] datagrams; the server answers
// with {"Time":"HH:MM:SS","Timestamp":...} on the declared port.
package protocol

// Package server implements the UDP time server and its HTTP admin API.
// The UDP side owns the socket lifecycle (start, stop, port change), the
// receive loop for control datagrams and the periodic broadcaster.
package server

// Package console provides the interactive terminal front end for the server.
package console

// Package `rawd` implements server application of a raw TCP relay:
// every byte received from any connected client is forwarded verbatim
// to all other connected clients.
//
// To compile the server locally, run from package directory:
//
//	go install .
//
// Server binary `rawd` will be placed into bin/ directory under Go projects root,
// identified with GOPATH environment variable.
//
// Or quickly launch server with command:
//
//	go run .
package main

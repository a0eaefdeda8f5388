// Package manager is a JSON-RPC 2.0 client for the MyMCAdmin management
// process.
//
// Every call opens a TCP connection, writes one request, half-closes the
// write side and reads a single newline-terminated response.
package manager

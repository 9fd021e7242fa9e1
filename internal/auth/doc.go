// Package auth validates bearer tokens on the HTTP API and enforces the
// read and control scopes.
//
// GET routes need the read scope. Attribute writes, command lines and the
// WebSocket channel need control. The health endpoint is always open.
package auth

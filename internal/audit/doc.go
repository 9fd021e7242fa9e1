// Package audit implements the command log of the camera control server.
//
// Every command dispatched from an entry point with command logging enabled
// is appended as one JSON line with its source, session, outcome and
// latency. Periodic status snapshots can be appended to the same log. The
// file is rotated by size.
package audit

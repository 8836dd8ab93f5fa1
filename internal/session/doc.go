// Package session owns the messaging client connection lifecycle.
//
// Ownership boundary:
// - connection status state machine
//
// - pairing artifact (QR payload) while pairing is pending
//
// - access credential issued on first ready
//
// - automatic re-initialization with backoff after failures
//
// One Lifecycle exists per process; it is constructed by the service and
// passed to the HTTP and tool surfaces. Readers get snapshots, never the
// mutable state.
package session

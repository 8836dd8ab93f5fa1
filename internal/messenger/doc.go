// Package messenger defines the boundary to the external messaging client.
//
// Ownership boundary:
// - capability interface consumed by session lifecycle and fetch chain
//
// - lifecycle event variants delivered to one observer
//
// - raw record shapes as the client reports them
//
// Implementations live in subpackages (see bridge). Nothing here knows how the
// client is driven.
package messenger

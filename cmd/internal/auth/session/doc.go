// Package session implements the dashboard's client session model.
//
// Each browser client owns one Store. A Store holds a State value and changes
// only through Dispatch, which applies the pure Reduce function to the
// previous state and an Event. Listeners observe every transition in order.
//
// Registry maps client IDs (carried in a PASETO v4.local cookie) to Stores and
// persists authenticated snapshots through a SnapshotStore (memory, Postgres
// or Redis). A restored snapshot comes back dirty: its identity has not been
// confirmed against the auth server in this process lifetime.
//
// Network calls live in the pipeline package. This package performs no I/O
// except through SnapshotStore.
package session

// Package types defines the shared data structures and the error taxonomy
// for the cloudcom replicated key-value store.
//
// The wire contract between controller and workers (and between workers
// themselves) is expressed entirely in these types: heartbeat and mapping
// envelopes, the value envelope stored on disk and shipped between peers,
// and the pull batch used by recovery. Keeping them in one leaf package
// keeps the dependency graph acyclic — the controller references workers by
// identifier and address only, never by object.
package types

// Package client provides typed HTTP clients for the two cloudcom APIs:
// the controller (mapping, heartbeat, registry listing) and workers
// (KV operations plus the peer replicate/pull surface). Every call carries
// the configured request timeout.
package client

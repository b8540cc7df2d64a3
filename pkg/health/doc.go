// Package health provides a small HTTP prober for cloudcom endpoints.
//
// The recovery dispatcher probes a pull target's /health before handing it
// a batch, and the status CLI probes every registered worker. Probes are
// point-in-time: there is no retry counter or monitoring loop here — the
// controller's failure detector owns liveness.
package health

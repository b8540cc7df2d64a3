// Package detector implements the controller's heartbeat-driven failure
// detector: a background loop that marks silent workers down and feeds the
// recovery dispatcher.
package detector

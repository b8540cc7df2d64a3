// Package events records the controller's liveness and recovery
// transitions. The log is deliberately not a pub/sub bus: the controller
// is its only consumer, so it is a bounded ring (served raw on /events)
// plus an undelivered queue the controller drains into the structured log.
package events

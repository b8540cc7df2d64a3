package types

import (
	"errors"
	"net/http"
)

// Protocol error taxonomy. Every error that crosses a node boundary is
// translated into one of these before it reaches the wire.
var (
	// ErrNoWorkers: mapping requested but no live worker exists
	ErrNoWorkers = errors.New("no live workers available")

	// ErrMappingUnavailable: a coordinator could not reach the controller
	ErrMappingUnavailable = errors.New("controller unreachable for mapping")

	// ErrQuorumNotMet: the local write landed but fewer than WRITE_QUORUM
	// acks arrived before the deadline; the local write is retained
	ErrQuorumNotMet = errors.New("write quorum not met")

	// ErrNotFound: GET for an unknown key
	ErrNotFound = errors.New("key not found")

	// ErrStorageFailure: local durable write failed
	ErrStorageFailure = errors.New("local storage failure")

	// ErrPeerTimeout: a replicate or pull target did not answer in time
	ErrPeerTimeout = errors.New("peer timed out")

	// ErrPeerUnreachable: a replicate or pull target could not be dialed
	ErrPeerUnreachable = errors.New("peer unreachable")
)

// HTTPStatus maps a taxonomy error to its wire status code.
// Unrecognized errors map to 500.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNoWorkers),
		errors.Is(err, ErrMappingUnavailable),
		errors.Is(err, ErrQuorumNotMet):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrPeerTimeout), errors.Is(err, ErrPeerUnreachable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

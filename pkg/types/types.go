package types

import (
	"time"
)

// WorkerStatus represents the controller's view of a worker's liveness
type WorkerStatus string

const (
	WorkerStatusUp   WorkerStatus = "up"
	WorkerStatusDown WorkerStatus = "down"
)

// Worker is a registry entry for a storage worker node.
// Entries are created on first heartbeat and never deleted; a failed
// worker stays in the registry with status down until it beats again.
type Worker struct {
	ID            string       `json:"id"`
	Address       string       `json:"address"`
	Status        WorkerStatus `json:"status"`
	LastHeartbeat time.Time    `json:"last_heartbeat"`
	FirstSeen     time.Time    `json:"first_seen"`
}

// Live reports whether the controller currently considers the worker up.
func (w *Worker) Live() bool {
	return w.Status == WorkerStatusUp
}

// HeartbeatRequest is the liveness message a worker posts to the controller
type HeartbeatRequest struct {
	ID      string `json:"id" binding:"required"`
	Address string `json:"address" binding:"required"`
}

// MapResponse is the controller's answer to a replica-set query
type MapResponse struct {
	Key      string   `json:"key"`
	Replicas []string `json:"replicas"`
}

// WorkerInfo is the public listing shape for a registry entry
type WorkerInfo struct {
	ID            string    `json:"id"`
	Address       string    `json:"address"`
	Live          bool      `json:"live"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// ValueEnvelope is the JSON value wrapper used on the wire and on disk
type ValueEnvelope struct {
	Value string `json:"value"`
}

// PutResponse is returned to the client once a coordinated write resolves
type PutResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Acks  int    `json:"acks"`
}

// PullRequest instructs a worker to copy a batch of keys from a donor peer
type PullRequest struct {
	Donor string   `json:"donor" binding:"required"`
	Keys  []string `json:"keys" binding:"required"`
}

// PullResponse summarizes a pull batch; a failed key never aborts the batch
type PullResponse struct {
	Pulled int `json:"pulled"`
	Failed int `json:"failed"`
}

// ControllerHealth is the controller's cheap health descriptor
type ControllerHealth struct {
	Status       string `json:"status"`
	WorkersCount int    `json:"workers_count"`
}

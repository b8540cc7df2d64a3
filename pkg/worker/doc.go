/*
Package worker implements a cloudcom storage node.

A worker owns one durable file-per-key store and plays four roles at once:

  - PUT coordinator: asks the controller for the key's replica set, writes
    locally, fans out to the other replicas, and answers the client as soon
    as the write quorum is met. Replication past the quorum is detached.
  - Replication receiver: applies replica writes from coordinating peers,
    durably, idempotently.
  - Pull responder: on instruction from the controller's recovery
    dispatcher, copies a batch of keys from a donor peer.
  - Heartbeat emitter: posts its identity to the controller on an interval
    so the failure detector can track it.

A worker that receives a PUT for a key it does not replicate forwards the
request to the primary and relays the result.
*/
package worker

package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/malluvkcr7/cloudcom/pkg/client"
	"github.com/malluvkcr7/cloudcom/pkg/config"
	"github.com/malluvkcr7/cloudcom/pkg/log"
	"github.com/malluvkcr7/cloudcom/pkg/metrics"
	"github.com/malluvkcr7/cloudcom/pkg/store"
	"github.com/malluvkcr7/cloudcom/pkg/types"
)

// Worker is one storage node: it owns a durable local store, coordinates
// quorum writes for the keys it receives, applies replica writes from
// peers, answers pull instructions from the controller's recovery path,
// and heartbeats the controller.
type Worker struct {
	cfg        config.WorkerConfig
	store      *store.Store
	controller *client.Controller
	peers      *client.Worker
	logger     zerolog.Logger
	stopCh     chan struct{}
	hbDone     chan struct{}
}

// New opens the data directory and wires the worker's clients.
func New(cfg config.WorkerConfig) (*Worker, error) {
	s, err := store.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	w := &Worker{
		cfg:        cfg,
		store:      s,
		controller: client.NewController(cfg.Controller, cfg.RequestTimeout),
		peers:      client.NewWorker(cfg.RequestTimeout),
		logger:     log.WithWorkerID(cfg.ID),
		stopCh:     make(chan struct{}),
		hbDone:     make(chan struct{}),
	}
	return w, nil
}

// Start launches the heartbeat emitter.
func (w *Worker) Start() {
	go w.heartbeatLoop()
	w.logger.Info().
		Str("address", w.cfg.Address).
		Str("data_dir", w.cfg.DataDir).
		Int("keys", w.store.Len()).
		Int("write_quorum", w.cfg.WriteQuorum).
		Msg("Worker started")
}

// Stop stops the background loops.
func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.hbDone
	w.logger.Info().Msg("Worker stopped")
}

// Put coordinates a client write: map lookup, local durable write, replica
// fan-out, and quorum accounting. The response carries the ack count the
// client observed; replication past the quorum continues in the
// background to each peer's own deadline.
func (w *Worker) Put(key, value string) (*types.PutResponse, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PutDuration)

	replicas, err := w.controller.Map(key)
	if err != nil {
		w.countPut(err)
		return nil, err
	}

	// A worker outside the replica set proxies to the primary rather than
	// keeping a copy the mapping would never route reads to.
	if !contains(replicas, w.cfg.Address) {
		metrics.PutsTotal.WithLabelValues("proxied").Inc()
		w.logger.Debug().Str("key", key).Str("primary", replicas[0]).Msg("Not a replica, forwarding to primary")
		return w.peers.Put(replicas[0], key, value)
	}

	if err := w.store.Put(key, value); err != nil {
		w.countPut(err)
		return nil, err
	}

	acks := w.fanOut(key, value, replicas)

	if acks < w.cfg.WriteQuorum {
		w.countPut(types.ErrQuorumNotMet)
		return nil, fmt.Errorf("%w: %d of %d acks", types.ErrQuorumNotMet, acks, w.cfg.WriteQuorum)
	}

	metrics.PutsTotal.WithLabelValues("ok").Inc()
	return &types.PutResponse{Key: key, Value: value, Acks: acks}, nil
}

// fanOut replicates to every other replica-set member concurrently and
// returns as soon as the quorum is met, the deadline expires, or every
// outcome is in. The local durable write counts as the first ack.
// Goroutines still in flight after return keep running to their own
// deadlines; their outcomes only feed logs and metrics.
func (w *Worker) fanOut(key, value string, replicas []string) int {
	var others []string
	for _, addr := range replicas {
		if addr != w.cfg.Address {
			others = append(others, addr)
		}
	}

	ackCh := make(chan bool, len(others))
	for _, addr := range others {
		go func(addr string) {
			err := w.peers.Replicate(context.Background(), addr, key, value)
			if err != nil {
				metrics.ReplicateSendsTotal.WithLabelValues("error").Inc()
				w.logger.Warn().Err(err).Str("key", key).Str("peer", addr).Msg("Replicate failed")
			} else {
				metrics.ReplicateSendsTotal.WithLabelValues("ok").Inc()
			}
			ackCh <- err == nil
		}(addr)
	}

	acks := 1 // local durable write
	deadline := time.NewTimer(w.cfg.RequestTimeout)
	defer deadline.Stop()

	for pending := len(others); pending > 0 && acks < w.cfg.WriteQuorum; pending-- {
		select {
		case ok := <-ackCh:
			if ok {
				acks++
			}
		case <-deadline.C:
			return acks
		}
	}
	return acks
}

// Get serves reads from the local store only.
func (w *Worker) Get(key string) (string, error) {
	return w.store.Get(key)
}

// Keys lists the keys held locally.
func (w *Worker) Keys() []string {
	return w.store.Keys()
}

// ReceiveReplica applies a replica write from a peer. Durable before the
// ack; repeated delivery of the same pair is a harmless rewrite.
func (w *Worker) ReceiveReplica(key, value string) error {
	if err := w.store.Put(key, value); err != nil {
		return err
	}
	metrics.ReplicateReceivesTotal.Inc()
	return nil
}

// pullConcurrency bounds how many donor GETs a pull batch keeps in flight.
const pullConcurrency = 4

// Pull copies each requested key from the donor into the local store, a
// bounded number of keys at a time. Best-effort: a failing key is counted
// and skipped, never fatal to the batch.
func (w *Worker) Pull(donor string, keys []string) *types.PullResponse {
	var pulled, failed atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(pullConcurrency)
	for _, key := range keys {
		g.Go(func() error {
			value, err := w.peers.Get(donor, key)
			if err != nil {
				w.logger.Warn().Err(err).Str("key", key).Str("donor", donor).Msg("Pull fetch failed")
				failed.Add(1)
				return nil
			}
			if err := w.store.Put(key, value); err != nil {
				w.logger.Error().Err(err).Str("key", key).Msg("Pull write failed")
				failed.Add(1)
				return nil
			}
			pulled.Add(1)
			return nil
		})
	}
	g.Wait()

	resp := &types.PullResponse{Pulled: int(pulled.Load()), Failed: int(failed.Load())}
	w.logger.Info().Str("donor", donor).Int("pulled", resp.Pulled).Int("failed", resp.Failed).Msg("Pull batch done")
	return resp
}

func (w *Worker) countPut(err error) {
	switch {
	case errors.Is(err, types.ErrNoWorkers):
		metrics.PutsTotal.WithLabelValues("no_workers").Inc()
	case errors.Is(err, types.ErrMappingUnavailable):
		metrics.PutsTotal.WithLabelValues("mapping_unavailable").Inc()
	case errors.Is(err, types.ErrQuorumNotMet):
		metrics.PutsTotal.WithLabelValues("quorum_not_met").Inc()
	case errors.Is(err, types.ErrStorageFailure):
		metrics.PutsTotal.WithLabelValues("storage_failure").Inc()
	default:
		metrics.PutsTotal.WithLabelValues("error").Inc()
	}
}

func contains(addrs []string, addr string) bool {
	for _, a := range addrs {
		if a == addr {
			return true
		}
	}
	return false
}

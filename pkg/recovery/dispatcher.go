package recovery

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/malluvkcr7/cloudcom/pkg/client"
	"github.com/malluvkcr7/cloudcom/pkg/events"
	"github.com/malluvkcr7/cloudcom/pkg/health"
	"github.com/malluvkcr7/cloudcom/pkg/log"
	"github.com/malluvkcr7/cloudcom/pkg/metrics"
	"github.com/malluvkcr7/cloudcom/pkg/partition"
	"github.com/malluvkcr7/cloudcom/pkg/registry"
	"github.com/malluvkcr7/cloudcom/pkg/types"
)

// Job asks the dispatcher to run a recovery cycle. WorkerID names the
// worker whose loss (or revival) triggered it; a sweep job has none.
type Job struct {
	WorkerID string
	Reason   string
}

// Dispatcher rebuilds replica sets after membership changes. A cycle takes
// a census of every live worker's keys, recomputes each key's ideal replica
// set under current membership, and instructs targets to pull missing keys
// from surviving holders. Cycles are idempotent, so overlapping jobs and
// parallel pulls of the same key are safe.
type Dispatcher struct {
	registry *registry.Registry
	workers  *client.Worker
	eventLog *events.Log
	replicas int
	logger   zerolog.Logger

	jobs    chan Job
	stopCh  chan struct{}
	doneCh  chan struct{}
	deficit atomic.Int64
}

// New creates a dispatcher. workers is the peer client used for key
// listings and pull instructions; replicas is the target replication
// factor.
func New(reg *registry.Registry, workers *client.Worker, eventLog *events.Log, replicas int) *Dispatcher {
	return &Dispatcher{
		registry: reg,
		workers:  workers,
		eventLog: eventLog,
		replicas: replicas,
		logger:   log.WithComponent("recovery"),
		jobs:     make(chan Job, 16),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins draining the job queue.
func (d *Dispatcher) Start() {
	go d.run()
}

// Stop stops the dispatcher and waits for the in-flight cycle to finish.
func (d *Dispatcher) Stop() {
	close(d.stopCh)
	<-d.doneCh
}

// Enqueue schedules a recovery cycle. Never blocks: with a full queue the
// job is dropped, since the detector re-enqueues while a deficit persists.
func (d *Dispatcher) Enqueue(job Job) {
	select {
	case d.jobs <- job:
	default:
		d.logger.Warn().Str("worker_id", job.WorkerID).Msg("Recovery queue full, dropping job")
	}
}

// Deficit reports the number of (key, replica) pairs still missing after
// the most recent cycle. The detector re-enqueues while this is non-zero.
func (d *Dispatcher) Deficit() int {
	return int(d.deficit.Load())
}

func (d *Dispatcher) run() {
	defer close(d.doneCh)
	d.logger.Info().Msg("Recovery dispatcher started")

	for {
		select {
		case job := <-d.jobs:
			d.logger.Info().
				Str("worker_id", job.WorkerID).
				Str("reason", job.Reason).
				Msg("Running recovery cycle")
			d.cycle()
		case <-d.stopCh:
			d.logger.Info().Msg("Recovery dispatcher stopped")
			return
		}
	}
}

// pullBatch is one pull instruction: target copies keys from donor.
type pullBatch struct {
	target string // worker ID
	donor  string // worker ID
	keys   []string
}

func (d *Dispatcher) cycle() {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.RecoveryDuration)
		metrics.RecoveryCyclesTotal.Inc()
	}()

	live := d.registry.Live()
	if len(live) == 0 {
		d.logger.Warn().Msg("No live workers, nothing to recover")
		d.setDeficit(0)
		return
	}

	holders, err := d.census(live)
	if err != nil {
		d.logger.Error().Err(err).Msg("Key census failed")
		// Leave the previous deficit in place so the detector retries; when
		// it was zero, count the failed census as one outstanding pair so a
		// sweep still runs on the next tick.
		if d.Deficit() == 0 {
			d.setDeficit(1)
		}
		return
	}

	liveIDs := make([]string, len(live))
	addrs := make(map[string]string, len(live))
	for i, w := range live {
		liveIDs[i] = w.ID
		addrs[w.ID] = w.Address
	}

	batches, deficit := d.plan(holders, liveIDs)

	remaining := 0
	for _, batch := range batches {
		remaining += d.dispatch(batch, addrs)
	}
	d.setDeficit(remaining)

	if deficit > 0 {
		d.eventLog.Publish(events.RecoveryDispatched, "",
			fmt.Sprintf("dispatched %d pull batches, %d key-replica pairs", len(batches), deficit))
	}
	d.logger.Info().
		Int("keys", len(holders)).
		Int("batches", len(batches)).
		Int("deficit_before", deficit).
		Int("deficit_after", remaining).
		Msg("Recovery cycle complete")
}

// census asks every live worker for its key listing concurrently and
// returns key → holder IDs. A single unreachable worker fails the census;
// dispatching pulls from a partial view could pick donors that are gone.
func (d *Dispatcher) census(live []types.Worker) (map[string][]string, error) {
	var mu sync.Mutex
	holders := make(map[string][]string)

	g := new(errgroup.Group)
	for _, w := range live {
		g.Go(func() error {
			keys, err := d.workers.Keys(w.Address)
			if err != nil {
				return fmt.Errorf("list keys on %s: %w", w.ID, err)
			}
			mu.Lock()
			for _, k := range keys {
				holders[k] = append(holders[k], w.ID)
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return holders, nil
}

// plan recomputes every key's ideal replica set and batches the missing
// (key, target) pairs per (target, donor). Returns the batches and the
// total deficit they cover.
func (d *Dispatcher) plan(holders map[string][]string, liveIDs []string) ([]pullBatch, int) {
	type pair struct{ target, donor string }
	grouped := make(map[pair][]string)
	deficit := 0

	for key, holderIDs := range holders {
		ideal, err := partition.ReplicaSet(key, liveIDs, d.replicas)
		if err != nil {
			continue
		}

		held := make(map[string]bool, len(holderIDs))
		for _, id := range holderIDs {
			held[id] = true
		}
		donor := holderIDs[0]

		for _, target := range ideal {
			if held[target] {
				continue
			}
			grouped[pair{target, donor}] = append(grouped[pair{target, donor}], key)
			deficit++
		}
	}

	batches := make([]pullBatch, 0, len(grouped))
	for p, keys := range grouped {
		batches = append(batches, pullBatch{target: p.target, donor: p.donor, keys: keys})
	}
	return batches, deficit
}

// dispatch issues one pull instruction and returns how many of its keys
// remain missing.
func (d *Dispatcher) dispatch(batch pullBatch, addrs map[string]string) int {
	targetAddr := addrs[batch.target]
	donorAddr := addrs[batch.donor]

	probe := health.NewHTTPChecker(targetAddr + "/health").Check(context.Background())
	if !probe.Healthy {
		d.logger.Warn().
			Str("target", batch.target).
			Str("probe", probe.Message).
			Msg("Pull target unhealthy, deferring batch")
		return len(batch.keys)
	}

	resp, err := d.workers.Pull(targetAddr, donorAddr, batch.keys)
	if err != nil {
		d.logger.Error().Err(err).
			Str("target", batch.target).
			Str("donor", batch.donor).
			Int("keys", len(batch.keys)).
			Msg("Pull dispatch failed")
		d.eventLog.Publish(events.RecoveryFailed, batch.target, err.Error())
		return len(batch.keys)
	}

	metrics.KeysPulledTotal.Add(float64(resp.Pulled))
	metrics.KeysPullFailedTotal.Add(float64(resp.Failed))
	d.logger.Info().
		Str("target", batch.target).
		Str("donor", batch.donor).
		Int("pulled", resp.Pulled).
		Int("failed", resp.Failed).
		Msg("Pull batch complete")
	return resp.Failed
}

func (d *Dispatcher) setDeficit(n int) {
	d.deficit.Store(int64(n))
	metrics.RecoveryDeficit.Set(float64(n))
}

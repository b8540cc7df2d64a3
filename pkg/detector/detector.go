package detector

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/malluvkcr7/cloudcom/pkg/events"
	"github.com/malluvkcr7/cloudcom/pkg/log"
	"github.com/malluvkcr7/cloudcom/pkg/metrics"
	"github.com/malluvkcr7/cloudcom/pkg/recovery"
	"github.com/malluvkcr7/cloudcom/pkg/registry"
)

// Detector is the controller's crash-stop failure detector. Every tick it
// flips workers whose heartbeat aged past the timeout to down and hands the
// recovery dispatcher a job for each. Detection latency is bounded by one
// tick after the timeout expires; a partitioned worker looks the same as a
// crashed one.
type Detector struct {
	registry   *registry.Registry
	eventLog   *events.Log
	dispatcher *recovery.Dispatcher
	timeout    time.Duration
	interval   time.Duration
	logger     zerolog.Logger
	stopCh     chan struct{}
	doneCh     chan struct{}
}

// New creates a detector with the given heartbeat timeout and check
// interval.
func New(reg *registry.Registry, eventLog *events.Log, dispatcher *recovery.Dispatcher, timeout, interval time.Duration) *Detector {
	return &Detector{
		registry:   reg,
		eventLog:   eventLog,
		dispatcher: dispatcher,
		timeout:    timeout,
		interval:   interval,
		logger:     log.WithComponent("detector"),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start begins the detection loop.
func (d *Detector) Start() {
	go d.run()
}

// Stop stops the detector and waits for the loop to exit.
func (d *Detector) Stop() {
	close(d.stopCh)
	<-d.doneCh
}

func (d *Detector) run() {
	defer close(d.doneCh)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.Info().
		Dur("timeout", d.timeout).
		Dur("interval", d.interval).
		Msg("Failure detector started")

	for {
		select {
		case <-ticker.C:
			d.tick()
		case <-d.stopCh:
			d.logger.Info().Msg("Failure detector stopped")
			return
		}
	}
}

// tick performs one detection pass.
func (d *Detector) tick() {
	for _, w := range d.registry.Stale(d.timeout) {
		if !d.registry.MarkDown(w.ID) {
			continue
		}
		metrics.DetectorDownMarkingsTotal.Inc()
		d.logger.Warn().
			Str("worker_id", w.ID).
			Time("last_heartbeat", w.LastHeartbeat).
			Msg("Worker missed heartbeat window, marking down")

		d.eventLog.Publish(events.WorkerDown, w.ID, "heartbeat timeout")
		d.dispatcher.Enqueue(recovery.Job{WorkerID: w.ID, Reason: "heartbeat timeout"})
	}

	// Failed or deferred pulls retry on later ticks for as long as the
	// dispatcher still observes a deficit.
	if d.dispatcher.Deficit() > 0 {
		d.dispatcher.Enqueue(recovery.Job{Reason: "deficit sweep"})
	}
}

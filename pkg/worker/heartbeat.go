package worker

import "time"

// heartbeatLoop beats once immediately so the controller learns about the
// worker before the first interval elapses, then on every tick. Failures
// are logged and dropped; the emitter never touches the request path.
func (w *Worker) heartbeatLoop() {
	defer close(w.hbDone)

	w.beat()

	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.beat()
		case <-w.stopCh:
			return
		}
	}
}

func (w *Worker) beat() {
	if err := w.controller.Heartbeat(w.cfg.ID, w.cfg.Address); err != nil {
		w.logger.Warn().Err(err).Msg("Heartbeat failed")
	}
}

package controller

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/malluvkcr7/cloudcom/pkg/client"
	"github.com/malluvkcr7/cloudcom/pkg/config"
	"github.com/malluvkcr7/cloudcom/pkg/detector"
	"github.com/malluvkcr7/cloudcom/pkg/events"
	"github.com/malluvkcr7/cloudcom/pkg/log"
	"github.com/malluvkcr7/cloudcom/pkg/metrics"
	"github.com/malluvkcr7/cloudcom/pkg/partition"
	"github.com/malluvkcr7/cloudcom/pkg/recovery"
	"github.com/malluvkcr7/cloudcom/pkg/registry"
	"github.com/malluvkcr7/cloudcom/pkg/types"
)

// Controller owns the worker registry and the partition function, answers
// mapping queries, ingests heartbeats, and drives failure detection and
// recovery.
type Controller struct {
	cfg        config.ControllerConfig
	registry   *registry.Registry
	eventLog   *events.Log
	detector   *detector.Detector
	dispatcher *recovery.Dispatcher
	logger     zerolog.Logger
	stopCh     chan struct{}
	eventsDone chan struct{}
}

// pullClientTimeout bounds recovery-side calls to workers. A pull batch
// fans out one donor GET per key, so it gets far more room than the
// per-request deadline workers use among themselves.
const pullClientTimeout = 30 * time.Second

// eventRetention is how many recent events /events serves.
const eventRetention = 256

// New wires a controller from its configuration.
func New(cfg config.ControllerConfig) *Controller {
	reg := registry.New()
	eventLog := events.NewLog(eventRetention)
	dispatcher := recovery.New(reg, client.NewWorker(pullClientTimeout), eventLog, cfg.Replicas)
	det := detector.New(reg, eventLog, dispatcher, cfg.HeartbeatTimeout, cfg.CheckInterval)

	return &Controller{
		cfg:        cfg,
		registry:   reg,
		eventLog:   eventLog,
		detector:   det,
		dispatcher: dispatcher,
		logger:     log.WithComponent("controller"),
		stopCh:     make(chan struct{}),
		eventsDone: make(chan struct{}),
	}
}

// Start launches the background tasks: recovery dispatcher, failure
// detector, and the event log consumer.
func (c *Controller) Start() {
	c.dispatcher.Start()
	c.detector.Start()
	go c.consumeEvents()
	c.logger.Info().
		Int("replicas", c.cfg.Replicas).
		Dur("heartbeat_timeout", c.cfg.HeartbeatTimeout).
		Dur("check_interval", c.cfg.CheckInterval).
		Msg("Controller started")
}

// Stop shuts the background tasks down: the detector first, then the
// recovery dispatcher, then the event log consumer.
func (c *Controller) Stop() {
	c.detector.Stop()
	c.dispatcher.Stop()
	close(c.stopCh)
	<-c.eventsDone
	c.logger.Info().Msg("Controller stopped")
}

// Router builds the controller's HTTP surface.
func (c *Controller) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// Permissive CORS so the browser console can talk to any node.
	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsCfg.AllowHeaders = []string{"Content-Type"}
	router.Use(cors.New(corsCfg))

	router.GET("/health", c.health)
	router.GET("/map", c.mapKey)
	router.GET("/workers", c.listWorkers)
	router.GET("/events", c.listEvents)
	router.POST("/heartbeat", c.heartbeat)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	return router
}

// health handles GET /health
func (c *Controller) health(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, types.ControllerHealth{
		Status:       "ok",
		WorkersCount: len(c.registry.Live()),
	})
}

// mapKey handles GET /map?key=K
func (c *Controller) mapKey(ctx *gin.Context) {
	key := ctx.Query("key")
	if key == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "key query parameter is required"})
		return
	}

	ids, err := partition.ReplicaSet(key, c.registry.LiveIDs(), c.cfg.Replicas)
	if err != nil {
		metrics.MapQueriesTotal.WithLabelValues("no_workers").Inc()
		ctx.JSON(types.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	addrs := make([]string, 0, len(ids))
	for _, id := range ids {
		if addr, ok := c.registry.Address(id); ok {
			addrs = append(addrs, addr)
		}
	}

	metrics.MapQueriesTotal.WithLabelValues("ok").Inc()
	ctx.JSON(http.StatusOK, types.MapResponse{Key: key, Replicas: addrs})
}

// listWorkers handles GET /workers
func (c *Controller) listWorkers(ctx *gin.Context) {
	snapshot := c.registry.Snapshot()
	out := make([]types.WorkerInfo, 0, len(snapshot))
	for _, w := range snapshot {
		out = append(out, types.WorkerInfo{
			ID:            w.ID,
			Address:       w.Address,
			Live:          w.Live(),
			LastHeartbeat: w.LastHeartbeat,
		})
	}
	ctx.JSON(http.StatusOK, out)
}

// listEvents handles GET /events
func (c *Controller) listEvents(ctx *gin.Context) {
	recent := c.eventLog.Recent(0)
	if recent == nil {
		recent = []events.Event{}
	}
	ctx.JSON(http.StatusOK, recent)
}

// heartbeat handles POST /heartbeat
func (c *Controller) heartbeat(ctx *gin.Context) {
	var req types.HeartbeatRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	metrics.HeartbeatsTotal.Inc()

	switch c.registry.Upsert(req.ID, req.Address) {
	case registry.UpsertNew:
		c.eventLog.Publish(events.WorkerUp, req.ID, "first heartbeat")
		// Growing membership changes ideal replica sets; let recovery
		// converge truncated sets onto the newcomer.
		c.dispatcher.Enqueue(recovery.Job{WorkerID: req.ID, Reason: "worker joined"})
	case registry.UpsertRevived:
		c.eventLog.Publish(events.WorkerRevived, req.ID, "heartbeat after down")
		c.dispatcher.Enqueue(recovery.Job{WorkerID: req.ID, Reason: "worker revived"})
	}

	ctx.JSON(http.StatusOK, gin.H{"ok": true})
}

// consumeEvents drains the event log into the structured log. One notify
// receipt may cover several events.
func (c *Controller) consumeEvents() {
	defer close(c.eventsDone)

	for {
		select {
		case <-c.eventLog.Notify():
			for _, ev := range c.eventLog.Drain() {
				c.logger.Info().
					Str("event", string(ev.Kind)).
					Str("worker_id", ev.WorkerID).
					Str("detail", ev.Detail).
					Msg("Cluster event")
			}
		case <-c.stopCh:
			return
		}
	}
}

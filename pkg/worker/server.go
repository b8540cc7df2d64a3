package worker

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/malluvkcr7/cloudcom/pkg/metrics"
	"github.com/malluvkcr7/cloudcom/pkg/types"
)

// Router builds the worker's HTTP surface: the client-facing KV API plus
// the peer endpoints used by replication and recovery.
func (w *Worker) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsCfg.AllowHeaders = []string{"Content-Type"}
	router.Use(cors.New(corsCfg))

	router.PUT("/kv/:key", w.handlePut)
	router.GET("/kv/:key", w.handleGet)
	router.GET("/keys", w.handleKeys)
	router.POST("/replicate/:key", w.handleReplicate)
	router.POST("/pull", w.handlePull)
	router.GET("/health", w.handleHealth)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	return router
}

// handlePut handles PUT /kv/:key
func (w *Worker) handlePut(ctx *gin.Context) {
	key := ctx.Param("key")

	var body types.ValueEnvelope
	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := w.Put(key, body.Value)
	if err != nil {
		ctx.JSON(types.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, resp)
}

// handleGet handles GET /kv/:key
func (w *Worker) handleGet(ctx *gin.Context) {
	value, err := w.Get(ctx.Param("key"))
	if err != nil {
		ctx.JSON(types.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, types.ValueEnvelope{Value: value})
}

// handleKeys handles GET /keys
func (w *Worker) handleKeys(ctx *gin.Context) {
	keys := w.Keys()
	if keys == nil {
		keys = []string{}
	}
	ctx.JSON(http.StatusOK, keys)
}

// handleReplicate handles POST /replicate/:key
func (w *Worker) handleReplicate(ctx *gin.Context) {
	key := ctx.Param("key")

	var body types.ValueEnvelope
	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := w.ReceiveReplica(key, body.Value); err != nil {
		ctx.JSON(types.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"ok": true})
}

// handlePull handles POST /pull
func (w *Worker) handlePull(ctx *gin.Context) {
	var req types.PullRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, w.Pull(req.Donor, req.Keys))
}

// handleHealth handles GET /health
func (w *Worker) handleHealth(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

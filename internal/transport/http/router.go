package opshttp

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"steward/internal/broker"
	"steward/internal/eod"
	"steward/internal/placement"
	"steward/internal/reconcile"
	"steward/internal/retry"
	"steward/internal/store"
	"steward/internal/store/journal"
	"steward/internal/verifier"

	"github.com/gin-gonic/gin"
)

// Router wires the handlers to their collaborators.
type Router struct {
	Placement *placement.Service
	Store     store.Store
	Broker    broker.Broker
	Verifier  *verifier.Verifier
	Retry     *retry.Engine
	Reconcile *reconcile.Engine
	EOD       *eod.Orchestrator
	Journal   *journal.Journal
}

// Register mounts the API under the given group.
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.POST("/orders", r.handlePlaceOrder)
	group.GET("/orders", r.handleListOrders)
	group.GET("/orders/:id", r.handleGetOrder)
	group.POST("/orders/:id/verify", r.handleVerifyOrder)
	group.GET("/scope", r.handleScope)
	group.POST("/reconcile/run", r.handleReconcileRun)
	group.POST("/retry/run", r.handleRetryRun)
	group.POST("/eod/run", r.handleEODRun)
	group.GET("/events", r.handleEvents)
}

func (r *Router) handlePlaceOrder(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, 1<<16))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reading body: " + err.Error()})
		return
	}
	o, err := r.Placement.PlaceRaw(c.Request.Context(), string(body))
	if err != nil {
		var verr *placement.ValidationError
		switch {
		case errors.As(err, &verr):
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
		case errors.Is(err, placement.ErrDuplicateOrder):
			c.JSON(http.StatusConflict, gin.H{
				"error": err.Error(),
				"order": toOrderView(o),
			})
		case broker.IsTransient(err):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusCreated, toOrderView(o))
}

func (r *Router) handleListOrders(c *gin.Context) {
	ctx := c.Request.Context()
	list, err := r.Store.ListNonTerminal(ctx)
	if c.Query("status") == "failed" {
		list, err = r.Store.ListFailed(ctx)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": toOrderViews(list)})
}

func (r *Router) handleGetOrder(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}
	o, err := r.Store.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toOrderView(o))
}

// handleVerifyOrder verifies one order synchronously by its broker id.
func (r *Router) handleVerifyOrder(c *gin.Context) {
	o, err := r.Verifier.VerifyOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		case broker.IsTransient(err):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, toOrderView(o))
}

func (r *Router) handleScope(c *gin.Context) {
	entries, err := r.Store.Scope(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	views := make([]scopeView, 0, len(entries))
	for _, e := range entries {
		views = append(views, toScopeView(e))
	}
	c.JSON(http.StatusOK, gin.H{"scope": views})
}

func (r *Router) handleReconcileRun(c *gin.Context) {
	ctx := c.Request.Context()
	holdings, err := r.Broker.Holdings(ctx)
	if err != nil {
		if broker.IsTransient(err) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	results, summary, err := r.Reconcile.Run(ctx, holdings)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "summary": summary})
}

func (r *Router) handleRetryRun(c *gin.Context) {
	sum, err := r.Retry.Run(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (r *Router) handleEvents(c *gin.Context) {
	if r.Journal == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event journal disabled"})
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	records, err := r.Journal.Recent(c.Request.Context(), limit, c.Query("kind"), c.Query("symbol"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": records})
}

func (r *Router) handleEODRun(c *gin.Context) {
	rep := r.EOD.Run(c.Request.Context())
	steps := make([]gin.H, 0, len(rep.Steps))
	for _, s := range rep.Steps {
		step := gin.H{"name": s.Name, "duration": s.Duration.String()}
		if s.Err != nil {
			step["error"] = s.Err.Error()
		}
		steps = append(steps, step)
	}
	c.JSON(http.StatusOK, gin.H{
		"started_at":      rep.StartedAt,
		"steps_completed": rep.StepsCompleted,
		"steps_failed":    rep.StepsFailed,
		"steps":           steps,
	})
}

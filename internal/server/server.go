// Package server exposes the pipeline's operational surface over HTTP:
// the producer write hand-off, queue introspection for the statistics
// layer, health for the external shutdown sequence, and Prometheus
// metrics. The core pipeline never depends on this package.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tfslab/tfsd/internal/consumer"
	"github.com/tfslab/tfsd/internal/infrastructure/config"
	"github.com/tfslab/tfsd/internal/infrastructure/monitoring"
	"github.com/tfslab/tfsd/internal/xfer"
)

// Server wraps the HTTP server and its dependencies.
type Server struct {
	router   *gin.Engine
	pipeline *xfer.Pipeline
	daemon   *consumer.Daemon
	logger   *zap.Logger
	metrics  *monitoring.Metrics
	http     *http.Server
}

// New creates the stats/control HTTP server.
func New(cfg *config.Config, pipeline *xfer.Pipeline, daemon *consumer.Daemon, logger *zap.Logger, metrics *monitoring.Metrics) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.Default())

	if cfg.RateLimit.Enabled {
		limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.Burst)
		router.Use(rateLimitMiddleware(limiter))
	}

	s := &Server{
		router:   router,
		pipeline: pipeline,
		daemon:   daemon,
		logger:   logger,
		metrics:  metrics,
	}

	router.GET("/health", s.health)
	router.GET("/stats", s.stats)
	router.GET("/queue", s.queue)
	router.POST("/write", s.write)

	if reg := metrics.Registry(); reg != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}

	s.http = &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.Port,
		Handler: router,
	}
	return s
}

// Run starts serving. Blocks until Shutdown or a listener error.
func (s *Server) Run() error {
	s.logger.Info("http server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"pipeline_id": s.pipeline.ID(),
		"queue_depth": s.pipeline.Count(),
		"daemon":      s.daemon.State().String(),
		"uptime_sec":  s.metrics.UptimeSeconds(),
	})
}

type statsResponse struct {
	monitoring.Snapshot
	Processed        uint64  `json:"transfers_processed"`
	UptimeSeconds    float64 `json:"uptime_seconds"`
	OutstandingUnits int64   `json:"outstanding_units"`
}

func (s *Server) stats(c *gin.Context) {
	resp := statsResponse{
		Snapshot:         s.metrics.GetSnapshot(),
		Processed:        s.daemon.Processed(),
		UptimeSeconds:    s.metrics.UptimeSeconds(),
		OutstandingUnits: s.pipeline.Pool().Outstanding(),
	}
	body, err := sonic.Marshal(resp)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", body)
}

func (s *Server) queue(c *gin.Context) {
	resp := gin.H{"count": s.pipeline.Count()}
	if ch, err := s.pipeline.OpenChannel(); err == nil {
		if info, err := ch.Peek(); err == nil {
			resp["head"] = info
		}
		ch.Close()
	}
	c.JSON(http.StatusOK, resp)
}

type writeRequest struct {
	Offset int64  `json:"offset"`
	Data   string `json:"data"`
}

// write is the producer hand-off used by the naming layer: it forwards
// the byte range into Pipeline.Write and reports the accepted length.
func (s *Server) write(c *gin.Context) {
	var req writeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	n, err := s.pipeline.Write(req.Offset, []byte(req.Data))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"bytes_written": n})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, xfer.ErrResourceExhausted):
		return http.StatusServiceUnavailable
	case errors.Is(err, xfer.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, xfer.ErrChannelUnavailable):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func rateLimitMiddleware(limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

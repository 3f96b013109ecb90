package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"signal-core/internal/events"
	"signal-core/internal/monitor"
	"signal-core/internal/order"
	"signal-core/internal/scanner"
	"signal-core/pkg/db"
)

// Scanner triggers one scan.
type Scanner interface {
	Scan(ctx context.Context, req scanner.Request) (*scanner.Report, error)
}

// Server wires HTTP endpoints around the pipeline.
type Server struct {
	Router   *gin.Engine
	Bus      *events.Bus
	DB       *db.Database
	Scanner  Scanner
	Executor order.Runner
	Metrics  *monitor.Metrics
	Meta     SystemMeta

	httpSrv *http.Server
}

// SystemMeta describes runtime status.
type SystemMeta struct {
	DryRun      bool     `json:"dry_run"`
	AutoExecute bool     `json:"auto_execute"`
	Testnet     bool     `json:"testnet"`
	Symbols     []string `json:"symbols"`
	Timeframes  []string `json:"timeframes"`
	UseMockFeed bool     `json:"use_mock_feed"`
	Version     string   `json:"version"`
}

// Options tune the middleware stack.
type Options struct {
	RateLimit      float64
	Burst          int
	RequestTimeout time.Duration
}

func NewServer(bus *events.Bus, database *db.Database, scan Scanner, exec order.Runner, metrics *monitor.Metrics, meta SystemMeta, opts Options) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())                                  // Panic recovery (first)
	r.Use(RequestIDMiddleware())                           // Request ID tracking
	r.Use(RequestLogger())                                 // Request logging (after ID is set)
	r.Use(RateLimitMiddleware(opts.RateLimit, opts.Burst)) // Rate limiting
	r.Use(CORSMiddleware())

	s := &Server{
		Router:   r,
		Bus:      bus,
		DB:       database,
		Scanner:  scan,
		Executor: exec,
		Metrics:  metrics,
		Meta:     meta,
	}
	s.httpSrv = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.routes(opts.RequestTimeout)
	return s
}

func (s *Server) routes(timeout time.Duration) {
	s.Router.GET("/health", s.health)
	s.Router.GET("/api/v1/ws", s.websocket)

	v1 := s.Router.Group("/api/v1")
	v1.Use(TimeoutMiddleware(timeout))
	{
		v1.GET("/system/status", s.getSystemStatus)
		v1.GET("/metrics", s.getMetrics)

		v1.POST("/scans", s.triggerScan)
		v1.GET("/signals", s.getSignals)
		v1.GET("/executions", s.getExecutions)
		v1.GET("/executions/:id", s.getExecution)
		v1.POST("/orders", s.createOrder)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start serves until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpSrv.Addr = addr
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

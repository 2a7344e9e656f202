package api

import (
	"context"
	"net/http"
	"time"

	"github.com/Aidin1998/amlwatch/internal/compliance/aml/jobs"
	"github.com/Aidin1998/amlwatch/internal/store"
	"github.com/Aidin1998/amlwatch/pkg/errors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const maxUploadBytes = 32 << 20

// JobService accepts analysis jobs and reports their results
type JobService interface {
	Submit(ctx context.Context, req jobs.Request) (*store.AnalysisJob, error)
	Poll(ctx context.Context, jobID string) (*jobs.Result, error)
}

// Server represents the API server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	logger     *zap.Logger
	store      store.Store
	jobs       JobService
	validator  *validator.Validate
}

// NewServer creates a new API server
func NewServer(logger *zap.Logger, st store.Store, jobService JobService) *Server {
	server := &Server{
		logger:    logger,
		store:     st,
		jobs:      jobService,
		validator: validator.New(),
	}

	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.MaxMultipartMemory = maxUploadBytes

	server.router = router
	server.registerRoutes()
	return server
}

// Start serves HTTP on addr until Shutdown is called
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting API server", zap.String("addr", addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router returns the internal Gin engine for testing purposes
func (s *Server) Router() *gin.Engine {
	return s.router
}

// registerRoutes registers all API routes
func (s *Server) registerRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/metrics", gin.WrapH(promhttp.Handler()))
		v1.GET("/health", s.healthCheck)

		ingest := v1.Group("/ingest")
		{
			ingest.POST("/batch", s.ingestBatch)
			ingest.POST("/upload-csv", s.uploadCSV)
			ingest.POST("/clear-all-data", s.clearAllData)
		}

		users := v1.Group("/users")
		{
			users.GET("", s.listUsers)
			users.GET("/:id", s.getUser)
			users.GET("/:id/transactions", s.listUserTransactions)
			users.POST("/:id/transactions", s.createDeposit)
			users.GET("/:id/alerts", s.listUserAlerts)
			users.POST("/:id/run-kyc-check", s.submitUserJob(store.JobKYCCheck))
			users.POST("/:id/run-graph-analysis", s.submitUserJob(store.JobGraphAnalysis))
		}

		advisor := v1.Group("/advisor")
		{
			advisor.POST("/explain-risk/:id", s.submitUserJob(store.JobExplainRisk))
			advisor.POST("/generate-sar/:id", s.submitUserJob(store.JobGenerateSAR))
		}

		v1.GET("/results/:job_id", s.getResult)

		admin := v1.Group("/admin")
		{
			admin.DELETE("/data", s.clearAllData)
		}
	}
}

// healthCheck handles the health check endpoint
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

// writeError renders err as problem details. Only server-side failures are
// logged at error level; the detail of those is never sent to the client.
func (s *Server) writeError(c *gin.Context, err error) {
	p := errors.Problem(err, c.Request.URL.Path)
	if p.Status >= http.StatusInternalServerError {
		s.logger.Error("handler error", zap.String("path", c.FullPath()), zap.Error(err))
	} else {
		s.logger.Debug("request rejected", zap.String("path", c.FullPath()), zap.Int("status", p.Status), zap.Error(err))
	}
	c.AbortWithStatusJSON(p.Status, p)
}

// bind decodes and validates a JSON body
func (s *Server) bind(c *gin.Context, dst interface{}) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		return errors.Invalid.Explain("invalid request body: %v", err)
	}
	return s.validate(dst)
}

func (s *Server) validate(v interface{}) error {
	err := s.validator.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return errors.Invalid.Explain("%v", err)
	}
	out := errors.Invalid.Explain("request validation failed")
	for _, fe := range fieldErrs {
		out = out.WithField(fe.Tag(), fe.Namespace(), fe.Error())
	}
	return out
}

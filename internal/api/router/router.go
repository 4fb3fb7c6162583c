package router

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/gallery-pipeline/internal/api/handler"
)

// Options configures the ambient endpoints of the router
type Options struct {
	ServiceName string
	// Observer records per-route request metrics; nil disables them
	Observer RequestObserver
	// MetricsHandler serves GET /metrics; nil disables the endpoint
	MetricsHandler http.Handler
	// HealthChecks are run by GET /health, keyed by dependency name
	HealthChecks map[string]HealthCheck
}

// HealthCheck reports whether a dependency is reachable
type HealthCheck func(ctx context.Context) error

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, opts Options) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	if opts.Observer != nil {
		r.Use(MetricsMiddleware(opts.Observer))
	}
	r.Use(CORSMiddleware())

	serviceName := opts.ServiceName
	if serviceName == "" {
		serviceName = "gallery-api-service"
	}

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		if len(opts.HealthChecks) == 0 {
			c.JSON(http.StatusOK, gin.H{
				"status":  "healthy",
				"service": serviceName,
			})
			return
		}

		status, code := "healthy", http.StatusOK
		checks := make(map[string]string, len(opts.HealthChecks))
		for name, check := range opts.HealthChecks {
			if err := check(c.Request.Context()); err != nil {
				checks[name] = err.Error()
				status, code = "unhealthy", http.StatusServiceUnavailable
				continue
			}
			checks[name] = "ok"
		}
		c.JSON(code, gin.H{
			"status":  status,
			"service": serviceName,
			"checks":  checks,
		})
	})

	if opts.MetricsHandler != nil {
		r.GET("/metrics", gin.WrapH(opts.MetricsHandler))
	}

	pipelineHandler := handler.NewPipelineHandler(deps)
	recordHandler := handler.NewRecordHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// GET /api/v1/process - Usage hint
		v1.GET("/process", pipelineHandler.ProcessInfo)

		// POST /api/v1/process - Run the pipeline once
		v1.POST("/process", pipelineHandler.Process)

		// POST /api/v1/process-next - Process the first pending record
		v1.POST("/process-next", pipelineHandler.ProcessNext)

		records := v1.Group("/records")
		{
			// POST /api/v1/records/query - Records created since a timestamp
			records.POST("/query", recordHandler.QueryRecords)

			// POST /api/v1/records/prompt - Replace a client prompt
			records.POST("/prompt", recordHandler.UpdatePrompt)
		}

		if deps.Runs != nil {
			runHandler := handler.NewRunHandler(deps)
			runs := v1.Group("/runs")
			{
				// GET /api/v1/runs - Run history with pagination
				runs.GET("", runHandler.ListRuns)

				// GET /api/v1/runs/:run_id - One run summary
				runs.GET("/:run_id", runHandler.GetRun)
			}
		}
	}

	return r
}

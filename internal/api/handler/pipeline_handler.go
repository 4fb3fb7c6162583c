package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/gallery-pipeline/internal/domain"
)

// ProcessInfo handles GET /api/v1/process
func (h *PipelineHandler) ProcessInfo(c *gin.Context) {
	c.String(http.StatusOK, "Scheduled processor endpoint. Use POST to manually trigger.")
}

// Process handles POST /api/v1/process
// Runs the pipeline once and returns the summary; a fatal failure answers 500 with the partial summary.
// The run is detached from the request so a client disconnect does not cut it short.
func (h *PipelineHandler) Process(c *gin.Context) {
	h.logger.Info("Process called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
	)

	summary, err := h.pipeline.Run(context.WithoutCancel(c.Request.Context()), domain.TriggerManual)
	if err != nil {
		h.logger.Error("Pipeline run failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, summary)
		return
	}

	c.JSON(http.StatusOK, summary)
}

// ProcessNext handles POST /api/v1/process-next
// Processes the first pending record and returns the mailto data for it
func (h *PipelineHandler) ProcessNext(c *gin.Context) {
	h.logger.Info("ProcessNext called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
	)

	result, err := h.pipeline.ProcessNext(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		h.logger.Error("Process next failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"status": "error",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, result)
}

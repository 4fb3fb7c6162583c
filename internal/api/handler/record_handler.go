package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/gallery-pipeline/internal/api/dto"
	"github.com/cuongbtq/gallery-pipeline/internal/domain"
)

const defaultQueryWindow = 24 * time.Hour

// QueryRecords handles POST /api/v1/records/query
// Lists records created since the given time, defaulting to the last 24 hours
func (h *RecordHandler) QueryRecords(c *gin.Context) {
	h.logger.Info("QueryRecords called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
	)

	var req dto.QueryRecordsRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	since := h.now().Add(-defaultQueryWindow).UTC()
	if req.Since != "" {
		parsed, err := time.Parse(time.RFC3339, req.Since)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "since must be an RFC 3339 timestamp",
			})
			return
		}
		since = parsed
	}

	records, err := h.records.ListSince(c.Request.Context(), since)
	if err != nil {
		h.logger.Error("Failed to list records", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}
	if records == nil {
		records = []domain.Record{}
	}

	c.JSON(http.StatusOK, dto.QueryRecordsResponse{
		Records: records,
		Count:   len(records),
		Since:   since.Format(time.RFC3339),
	})
}

// UpdatePrompt handles POST /api/v1/records/prompt
// Replaces the client prompt of one record
func (h *RecordHandler) UpdatePrompt(c *gin.Context) {
	h.logger.Info("UpdatePrompt called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
	)

	var req dto.UpdatePromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "recordId is required",
		})
		return
	}

	ctx := c.Request.Context()
	prompt := req.Prompt
	if err := h.records.Update(ctx, req.RecordID, domain.RecordUpdate{Prompt: &prompt}); err != nil {
		h.logger.Error("Failed to update prompt",
			slog.String("record_id", req.RecordID),
			slog.String("error", err.Error()),
		)
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrRecordNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{
			"error": err.Error(),
		})
		return
	}

	record, err := h.records.Get(ctx, req.RecordID)
	if err != nil {
		h.logger.Error("Failed to reload record",
			slog.String("record_id", req.RecordID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"record":  record,
	})
}

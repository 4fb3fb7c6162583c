package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/gallery-pipeline/internal/api/dto"
	"github.com/cuongbtq/gallery-pipeline/internal/api/model"
	"github.com/cuongbtq/gallery-pipeline/internal/api/storage"
	"github.com/cuongbtq/gallery-pipeline/internal/domain"
)

// ListRuns handles GET /api/v1/runs
// Lists pipeline runs newest first with keyset pagination
func (h *RunHandler) ListRuns(c *gin.Context) {
	h.logger.Info("ListRuns called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("query", c.Request.URL.RawQuery),
	)

	var req dto.ListRunsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}

	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeRunCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	runs, err := h.runs.ListRuns(c.Request.Context(), storage.RunFilter{
		Trigger:  req.Trigger,
		Outcome:  req.Outcome,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list runs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list runs",
		})
		return
	}

	hasMore := len(runs) > req.PageSize
	if hasMore {
		runs = runs[:req.PageSize]
	}

	response := dto.ListRunsResponse{Runs: make([]dto.RunDTO, len(runs))}
	for i, run := range runs {
		response.Runs[i] = toRunDTO(run)
	}

	if hasMore {
		last := runs[len(runs)-1]
		response.NextCursor = EncodeRunCursor(&storage.RunCursor{
			CreatedAt: last.CreatedAt,
			RunID:     last.RunID,
		})
	}

	c.JSON(http.StatusOK, response)
}

// GetRun handles GET /api/v1/runs/:run_id
func (h *RunHandler) GetRun(c *gin.Context) {
	runID := c.Param("run_id")

	run, err := h.runs.GetRunByID(c.Request.Context(), runID)
	if errors.Is(err, storage.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "run not found",
		})
		return
	}
	if err != nil {
		h.logger.Error("Failed to get run",
			slog.String("run_id", runID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get run",
		})
		return
	}

	c.JSON(http.StatusOK, toRunDTO(*run))
}

func toRunDTO(run model.Run) dto.RunDTO {
	out := dto.RunDTO{
		RunID:            run.RunID,
		Trigger:          run.Trigger,
		Outcome:          run.Outcome,
		RecordsFound:     run.RecordsFound,
		RecordsProcessed: run.RecordsProcessed,
		SuccessCount:     run.SuccessCount,
		ErrorCount:       run.ErrorCount,
		DurationMs:       run.DurationMs,
		CreatedAt:        run.CreatedAt.Format(time.RFC3339),
	}
	if err := json.Unmarshal([]byte(run.Errors), &out.Errors); err != nil || out.Errors == nil {
		out.Errors = []domain.ErrorEntry{}
	}
	if err := json.Unmarshal([]byte(run.Details), &out.Details); err != nil || out.Details == nil {
		out.Details = []domain.RecordDetail{}
	}
	return out
}

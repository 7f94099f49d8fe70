package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/onchainlabs1/sentinel/internal/classify"
	"github.com/onchainlabs1/sentinel/internal/models"
	"github.com/onchainlabs1/sentinel/internal/services"
	"github.com/onchainlabs1/sentinel/internal/store"
	"github.com/onchainlabs1/sentinel/internal/stream"
)

type handlers struct {
	logger *slog.Logger
	svc    *services.Service
	hub    *stream.Hub
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// reportSignal accepts a raw signal and returns the admitted incidents. A
// fully suppressed signal still returns 202 with an empty list.
func (h *handlers) reportSignal(c *gin.Context) {
	var sig models.Signal
	if err := c.ShouldBindJSON(&sig); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	incidents, err := h.svc.Report(c.Request.Context(), sig)
	if err != nil {
		if errors.Is(err, classify.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("signal intake failed", slog.Any("error", err))
		if errors.Is(err, services.ErrPartialIntake) {
			// The admitted incidents are already enqueued; the caller has
			// to know which ones made it in.
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":     "intake failed after partial admission",
				"incidents": incidents,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "intake failed"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"incidents": incidents})
}

func (h *handlers) listIncidents(c *gin.Context) {
	filter := store.Filter{
		Status:   models.Status(c.Query("status")),
		Severity: models.Severity(c.Query("severity")),
		Category: models.Category(c.Query("category")),
		Source:   c.Query("source"),
	}
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	incidents, err := h.svc.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("incident list failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"incidents": incidents, "count": len(incidents)})
}

func (h *handlers) getIncident(c *gin.Context) {
	inc, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
			return
		}
		h.logger.Error("incident lookup failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, inc)
}

func (h *handlers) reclassifyIncident(c *gin.Context) {
	inc, err := h.svc.Reclassify(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
			return
		}
		h.logger.Error("reclassify failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reclassify failed"})
		return
	}
	c.JSON(http.StatusOK, inc)
}

type resolveRequest struct {
	Note string `json:"note"`
}

func (h *handlers) resolveIncident(c *gin.Context) {
	var req resolveRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
	}

	inc, err := h.svc.Resolve(c.Request.Context(), c.Param("id"), req.Note)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, inc)
}

func (h *handlers) listPatterns(c *gin.Context) {
	patterns, err := h.svc.Patterns(c.Request.Context())
	if err != nil {
		h.logger.Error("pattern mining failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "pattern mining failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"patterns": patterns, "count": len(patterns)})
}

func (h *handlers) getStats(c *gin.Context) {
	stats, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		h.logger.Error("stats failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats failed"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *handlers) streamEvents(c *gin.Context) {
	if h.hub == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "event stream disabled"})
		return
	}
	h.hub.ServeHTTP(c.Writer, c.Request)
}

// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.

// Package handlers wires the HTTP boundary: request binding and admission
// control happen here, before the diagnostic core is invoked, and every
// failure leaves as a structured JSON body.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ColinMcArthur85/dns-diagnostic/internal/db"
	"github.com/ColinMcArthur85/dns-diagnostic/internal/diagnose"
	"github.com/ColinMcArthur85/dns-diagnostic/internal/middleware"
	"github.com/ColinMcArthur85/dns-diagnostic/internal/models"
)

const maxDomainInputLength = 253

type Handler struct {
	Diagnoser *diagnose.Diagnoser
	DB        *db.Database
	Limiter   middleware.RateLimiter
	Version   string
}

type diagnoseRequest struct {
	Domain   string        `json:"domain" binding:"required"`
	Platform string        `json:"platform" binding:"required"`
	Intent   models.Intent `json:"intent"`
	Sections []string      `json:"sections"`
}

// Diagnose handles POST /api/diagnose.
func (h *Handler) Diagnose(c *gin.Context) {
	var req diagnoseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Request must include a domain and a platform."})
		return
	}
	if len(req.Domain) > maxDomainInputLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Domain name is too long."})
		return
	}
	switch req.Intent.EmailChoice {
	case "", models.EmailChoicePlatform, models.EmailChoiceExternal, models.EmailChoiceNone:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "email_choice must be platform, external, or none."})
		return
	}

	if h.Limiter != nil {
		if result := h.Limiter.CheckAndRecord(c.ClientIP(), req.Domain); !result.Allowed {
			middleware.Reject(c, result)
			return
		}
	}

	result, err := h.Diagnoser.Diagnose(c.Request.Context(), diagnose.Request{
		Domain:   req.Domain,
		Platform: req.Platform,
		Intent:   req.Intent,
		Sections: req.Sections,
	})
	if err != nil {
		h.writeDiagnoseError(c, err)
		return
	}

	if h.DB != nil {
		go func(platform string, completed bool) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			h.DB.RecordDiagnosis(ctx, platform, completed)
		}(result.Platform, result.IsCompleted)
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) writeDiagnoseError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, diagnose.ErrInvalidDomain), errors.Is(err, diagnose.ErrUnsupportedPlatform):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, diagnose.ErrAtCapacity):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "System is currently at capacity. Please try again in a moment."})
	case errors.Is(err, diagnose.ErrAllLookupsFailed):
		c.JSON(http.StatusBadGateway, gin.H{"error": "DNS lookups for this domain failed. The domain may not exist, or the resolvers may be unreachable."})
	default:
		traceID, _ := c.Get("trace_id")
		slog.Error("Diagnosis failed", "trace_id", traceID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "An internal error occurred. Please try again."})
	}
}

// Healthz handles GET /healthz: process liveness plus the aggregate health of
// the resolvers and WHOIS endpoint, and the database when configured.
func (h *Handler) Healthz(c *gin.Context) {
	body := gin.H{
		"status":    "ok",
		"version":   h.Version,
		"endpoints": h.Diagnoser.Telemetry().AllStats(),
	}
	status := http.StatusOK

	if h.DB != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.DB.HealthCheck(ctx); err != nil {
			body["status"] = "degraded"
			body["database"] = "unreachable"
			status = http.StatusServiceUnavailable
		} else {
			body["database"] = "ok"
		}
	}

	c.JSON(status, body)
}

// Stats handles GET /api/stats: daily aggregate counters, newest first.
func (h *Handler) Stats(c *gin.Context) {
	if h.DB == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Stats are not enabled on this deployment."})
		return
	}

	days := 30
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 365 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be between 1 and 365"})
			return
		}
		days = n
	}

	stats, err := h.DB.GetStats(c.Request.Context(), days)
	if err != nil {
		traceID, _ := c.Get("trace_id")
		slog.Error("Failed to load stats", "trace_id", traceID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load stats."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"days": days, "stats": stats})
}

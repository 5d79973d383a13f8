// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.
package main

import (
	"log/slog"
	"os"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/ColinMcArthur85/dns-diagnostic/internal/config"
	"github.com/ColinMcArthur85/dns-diagnostic/internal/db"
	"github.com/ColinMcArthur85/dns-diagnostic/internal/diagnose"
	"github.com/ColinMcArthur85/dns-diagnostic/internal/dnsclient"
	"github.com/ColinMcArthur85/dns-diagnostic/internal/handlers"
	"github.com/ColinMcArthur85/dns-diagnostic/internal/middleware"
	"github.com/ColinMcArthur85/dns-diagnostic/internal/rules"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ruleSet, err := rules.Load(cfg.RulesPath)
	if err != nil {
		slog.Error("Failed to load domain rules", "error", err)
		os.Exit(1)
	}

	var database *db.Database
	if cfg.DatabaseURL != "" {
		database, err = db.Connect(cfg.DatabaseURL)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer database.Close()
	} else {
		slog.Info("DATABASE_URL not set, stats disabled")
	}

	diagnoser := diagnose.New(ruleSet,
		diagnose.WithMaxConcurrent(cfg.MaxConcurrent),
		diagnose.WithDNSClient(buildDNSClient(cfg)),
	)
	slog.Info("Diagnoser initialized", "max_concurrent", cfg.MaxConcurrent)

	rateLimiter := middleware.NewInMemoryRateLimiter()
	slog.Info("Rate limiter initialized", "backend", "in-memory",
		"max_requests", middleware.RateLimitMaxRequests, "window_seconds", middleware.RateLimitWindow)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.Recovery())
	router.Use(gzip.Gzip(gzip.DefaultCompression))
	router.Use(middleware.RequestContext())
	router.Use(middleware.SecurityHeaders())

	h := &handlers.Handler{
		Diagnoser: diagnoser,
		DB:        database,
		Limiter:   rateLimiter,
		Version:   cfg.AppVersion,
	}

	router.POST("/api/diagnose", h.Diagnose)
	router.GET("/api/stats", h.Stats)
	router.GET("/healthz", h.Healthz)

	slog.Info("Server starting", "port", cfg.Port, "version", cfg.AppVersion)
	if err := router.Run(":" + cfg.Port); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

// buildDNSClient applies the resolver and timeout overrides from the
// environment.
func buildDNSClient(cfg *config.Config) *dnsclient.Client {
	opts := []dnsclient.Option{dnsclient.WithTimeout(cfg.QueryTimeout)}
	if len(cfg.Resolvers) > 0 {
		resolvers := make([]dnsclient.ResolverConfig, 0, len(cfg.Resolvers))
		for _, ip := range cfg.Resolvers {
			resolvers = append(resolvers, dnsclient.ResolverConfig{Name: ip, IP: ip})
		}
		opts = append(opts, dnsclient.WithResolvers(resolvers))
	}
	return dnsclient.New(opts...)
}

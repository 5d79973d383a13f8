// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port          string
	DatabaseURL   string
	RulesPath     string
	Resolvers     []string
	QueryTimeout  time.Duration
	MaxConcurrent int
	AppVersion    string
	Testing       bool
}

// Load reads configuration from the environment. Only DATABASE_URL is
// optional infrastructure; the diagnostic pipeline itself needs nothing but
// the rules file, and that ships embedded.
func Load() (*Config, error) {
	port := os.Getenv("PORT")
	if port == "" {
		port = "5000"
	}

	var resolvers []string
	if raw := os.Getenv("DNS_RESOLVERS"); raw != "" {
		for _, ip := range strings.Split(raw, ",") {
			ip = strings.TrimSpace(ip)
			if ip != "" {
				resolvers = append(resolvers, ip)
			}
		}
		if len(resolvers) < 2 {
			return nil, fmt.Errorf("DNS_RESOLVERS needs at least two resolver IPs for the retry fallback, got %d", len(resolvers))
		}
	}

	timeout := 5 * time.Second
	if raw := os.Getenv("DNS_QUERY_TIMEOUT_SECONDS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid DNS_QUERY_TIMEOUT_SECONDS: %q", raw)
		}
		timeout = time.Duration(n) * time.Second
	}

	maxConcurrent := 6
	if raw := os.Getenv("MAX_CONCURRENT_DIAGNOSES"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid MAX_CONCURRENT_DIAGNOSES: %q", raw)
		}
		maxConcurrent = n
	}

	return &Config{
		Port:          port,
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RulesPath:     os.Getenv("RULES_PATH"),
		Resolvers:     resolvers,
		QueryTimeout:  timeout,
		MaxConcurrent: maxConcurrent,
		AppVersion:    "1.4.2",
		Testing:       false,
	}, nil
}

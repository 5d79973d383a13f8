// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.
package dnsclient

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/likexian/whois"
	whoisparser "github.com/likexian/whois-parser"

	"github.com/ColinMcArthur85/dns-diagnostic/internal/models"
	"github.com/ColinMcArthur85/dns-diagnostic/internal/telemetry"
)

const (
	whoisTimeout     = 8 * time.Second
	maxErrorLength   = 200
	whoisEndpointKey = "whois"
)

var (
	unixPathRe = regexp.MustCompile(`/[^\s]+/[^\s]+`)
	winPathRe  = regexp.MustCompile(`C:\\[^\s]+`)
	lineNumRe  = regexp.MustCompile(`line \d+`)
)

// WhoisClient performs best-effort registrar lookups. A failure never aborts
// a diagnosis; it yields an empty block with a sanitized error string.
type WhoisClient struct {
	client    *whois.Client
	telemetry *telemetry.Registry
}

func NewWhoisClient(reg *telemetry.Registry) *WhoisClient {
	c := whois.NewClient()
	c.SetTimeout(whoisTimeout)
	return &WhoisClient{client: c, telemetry: reg}
}

// Lookup fetches and parses WHOIS for domain. The context bounds the call on
// top of the client's own dial timeout.
func (w *WhoisClient) Lookup(ctx context.Context, domain string) models.WhoisInfo {
	if w.telemetry != nil && w.telemetry.InCooldown(whoisEndpointKey) {
		return models.WhoisInfo{NameServers: []string{}, Error: "WHOIS lookup unavailable"}
	}

	type whoisResult struct {
		raw string
		err error
	}
	ch := make(chan whoisResult, 1)
	start := time.Now()
	go func() {
		raw, err := w.client.Whois(domain)
		ch <- whoisResult{raw: raw, err: err}
	}()

	var raw string
	select {
	case res := <-ch:
		if res.err != nil {
			return w.failure(domain, res.err.Error())
		}
		raw = res.raw
	case <-ctx.Done():
		return w.failure(domain, "WHOIS lookup timed out")
	}

	parsed, err := whoisparser.Parse(raw)
	if err != nil {
		return w.failure(domain, err.Error())
	}
	if w.telemetry != nil {
		w.telemetry.RecordSuccess(whoisEndpointKey, time.Since(start))
	}

	info := models.WhoisInfo{NameServers: []string{}}
	if parsed.Registrar != nil {
		info.Registrar = strings.TrimSpace(parsed.Registrar.Name)
	}
	if parsed.Domain != nil {
		for _, ns := range parsed.Domain.NameServers {
			ns = strings.ToLower(strings.TrimRight(strings.TrimSpace(ns), "."))
			if ns != "" {
				info.NameServers = append(info.NameServers, ns)
			}
		}
	}
	return info
}

func (w *WhoisClient) failure(domain, errMsg string) models.WhoisInfo {
	sanitized := SanitizeError(errMsg)
	if w.telemetry != nil {
		w.telemetry.RecordFailure(whoisEndpointKey, sanitized)
	}
	slog.Warn("WHOIS lookup failed", "error", sanitized)
	return models.WhoisInfo{NameServers: []string{}, Error: sanitized}
}

// SanitizeError strips filesystem paths and line numbers from an error
// message and caps its length, so internal details never reach a caller.
func SanitizeError(msg string) string {
	msg = unixPathRe.ReplaceAllString(msg, "[PATH]")
	msg = winPathRe.ReplaceAllString(msg, "[PATH]")
	msg = lineNumRe.ReplaceAllString(msg, "line [N]")
	if len(msg) > maxErrorLength {
		msg = msg[:maxErrorLength] + "..."
	}
	return msg
}

// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.

// Package diagnose runs the full diagnostic pipeline for one domain: collect
// the snapshot, classify the email posture, evaluate the connection decision,
// and build the action plan. The pipeline is linear and every stage after the
// lookups is pure computation.
package diagnose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ColinMcArthur85/dns-diagnostic/internal/dnsclient"
	"github.com/ColinMcArthur85/dns-diagnostic/internal/email"
	"github.com/ColinMcArthur85/dns-diagnostic/internal/engine"
	"github.com/ColinMcArthur85/dns-diagnostic/internal/models"
	"github.com/ColinMcArthur85/dns-diagnostic/internal/plan"
	"github.com/ColinMcArthur85/dns-diagnostic/internal/rules"
	"github.com/ColinMcArthur85/dns-diagnostic/internal/snapshot"
	"github.com/ColinMcArthur85/dns-diagnostic/internal/telemetry"
)

// Fatal validation errors. Everything else degrades to a partial result.
var (
	ErrInvalidDomain       = errors.New("invalid domain")
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	ErrAllLookupsFailed    = errors.New("all DNS lookups failed")
	ErrAtCapacity          = errors.New("at capacity")
)

// Request is one validated diagnosis request.
type Request struct {
	Domain   string
	Platform string
	Intent   models.Intent
	Sections []string
}

type Diagnoser struct {
	rules      *rules.Set
	dns        *dnsclient.Client
	collector  *snapshot.Collector
	classifier *email.Classifier
	engine     *engine.Engine

	maxConcurrent int
	semaphore     chan struct{}
	acquireWait   time.Duration
}

type Option func(*Diagnoser)

func WithMaxConcurrent(n int) Option {
	return func(d *Diagnoser) {
		d.maxConcurrent = n
		d.semaphore = make(chan struct{}, n)
	}
}

func WithCollector(c *snapshot.Collector) Option {
	return func(d *Diagnoser) { d.collector = c }
}

// WithDNSClient supplies a preconfigured DNS client. The collector and the
// telemetry view both use it, so resolver overrides stay visible to the
// health endpoint.
func WithDNSClient(c *dnsclient.Client) Option {
	return func(d *Diagnoser) { d.dns = c }
}

func New(r *rules.Set, opts ...Option) *Diagnoser {
	d := &Diagnoser{
		rules:         r,
		classifier:    email.NewClassifier(&r.Email),
		engine:        engine.New(r),
		maxConcurrent: 6,
		semaphore:     make(chan struct{}, 6),
		acquireWait:   10 * time.Second,
	}
	for _, o := range opts {
		o(d)
	}
	if d.dns == nil {
		d.dns = dnsclient.New()
	}
	if d.collector == nil {
		d.collector = snapshot.NewCollector(d.dns, dnsclient.NewWhoisClient(d.dns.Telemetry()), r.Email.DKIMSelectors)
	}
	return d
}

// Telemetry exposes the resolver health registry for the health endpoint.
func (d *Diagnoser) Telemetry() *telemetry.Registry {
	return d.dns.Telemetry()
}

// Diagnose runs one diagnosis. Validation failures and total lookup failure
// return an error; every other degraded condition returns a flagged result.
func (d *Diagnoser) Diagnose(ctx context.Context, req Request) (*models.Result, error) {
	select {
	case d.semaphore <- struct{}{}:
		defer func() { <-d.semaphore }()
	case <-time.After(d.acquireWait):
		slog.Warn("Backpressure: rejected diagnosis", "domain", req.Domain)
		return nil, ErrAtCapacity
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	domain, err := d.validateDomain(req.Domain)
	if err != nil {
		return nil, err
	}

	platform, ok := d.rules.Platform(req.Platform)
	if !ok {
		ids := d.rules.PlatformIDs()
		sort.Strings(ids)
		return nil, fmt.Errorf("%w: %q (supported: %s)", ErrUnsupportedPlatform, req.Platform, strings.Join(ids, ", "))
	}

	start := time.Now()
	sections := req.Sections
	if len(sections) == 0 {
		sections = req.Intent.QueriedSections
	}

	snap := d.collector.Collect(ctx, domain, sections)
	if snapshot.AllRootQueriesFailed(snap) {
		slog.Error("Every requested lookup failed", "domain", domain)
		return nil, fmt.Errorf("%w for %s", ErrAllLookupsFailed, domain)
	}

	emailState := d.classifier.Classify(snap)
	decision := d.engine.Evaluate(domain, platform, req.Intent, emailState, snap)
	actionPlan := plan.Build(decision, platform, snap)

	result := &models.Result{
		Domain:                    domain,
		Platform:                  platform.ID,
		IsSubdomain:               decision.IsSubdomain,
		DNSSnapshot:               *snap,
		EmailState:                emailState,
		Intent:                    req.Intent,
		ConnectionOption:          decision.Option,
		Comparison:                decision.Comparisons,
		RecommendedActions:        actionPlan.Actions,
		PotentialIssues:           actionPlan.PotentialIssues,
		DelegateAccessRecommended: decision.DelegateAccessRecommended || req.Intent.DelegateDNSManagement,
		IsCompleted:               actionPlan.IsCompleted,
		StatusMessage:             actionPlan.StatusMessage,
		Warnings:                  dedupe(append(snap.Warnings, actionPlan.Warnings...)),
		DurationSeconds:           time.Since(start).Seconds(),
	}

	slog.Info("Diagnosis complete",
		"domain", domain,
		"platform", platform.ID,
		"option", decision.Option,
		"completed", result.IsCompleted,
		"duration_s", fmt.Sprintf("%.2f", result.DurationSeconds))
	return result, nil
}

func (d *Diagnoser) validateDomain(raw string) (string, error) {
	domain, err := dnsclient.DomainToASCII(strings.TrimSpace(strings.ToLower(raw)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDomain, err)
	}
	if dnsclient.IsBlockedDomain(domain) {
		return "", fmt.Errorf("%w: internal or private-range domains cannot be diagnosed", ErrInvalidDomain)
	}
	if !dnsclient.ValidateDomain(domain) {
		return "", fmt.Errorf("%w: %q is not a valid public hostname", ErrInvalidDomain, raw)
	}
	return domain, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

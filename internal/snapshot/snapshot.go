// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.

// Package snapshot collects and normalizes a domain's DNS and WHOIS state.
// The per-section queries run concurrently under one lifetime budget and are
// assembled keyed by section name, so the resulting snapshot is independent
// of the order in which queries complete.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ColinMcArthur85/dns-diagnostic/internal/dnsclient"
	"github.com/ColinMcArthur85/dns-diagnostic/internal/models"
)

// Querier is the slice of the DNS client the collector needs.
type Querier interface {
	Query(ctx context.Context, recordType, host string) *models.RecordSet
	ResolveCNAMEChain(ctx context.Context, host string) (string, []string, bool)
}

// WhoisLookuper is the slice of the WHOIS client the collector needs.
type WhoisLookuper interface {
	Lookup(ctx context.Context, domain string) models.WhoisInfo
}

// Pseudo-section names accepted in a request's sections filter, expanded to
// record types the same way the lookup layer groups them.
var sectionGroups = map[string][]string{
	"web":   {models.SectionA, models.SectionCNAME, models.SectionNS},
	"email": {models.SectionMX, models.SectionTXT, models.SectionDMARC, models.SectionDKIM},
	"SPF":   {models.SectionTXT},
}

var rootSections = []string{
	models.SectionA, models.SectionCNAME, models.SectionMX,
	models.SectionTXT, models.SectionNS, models.SectionSOA,
}

type Collector struct {
	DNS           Querier
	Whois         WhoisLookuper
	Lifetime      time.Duration
	DKIMSelectors []string
}

func NewCollector(dns Querier, whois WhoisLookuper, dkimSelectors []string) *Collector {
	return &Collector{
		DNS:           dns,
		Whois:         whois,
		Lifetime:      dnsclient.DefaultLifetime,
		DKIMSelectors: dkimSelectors,
	}
}

// ExpandSections resolves a sections filter into the concrete section set.
// Empty or "all" selects everything.
func ExpandSections(filter []string) map[string]bool {
	requested := make(map[string]bool)
	all := len(filter) == 0
	for _, s := range filter {
		if s == "all" {
			all = true
		}
	}
	if all {
		for _, s := range rootSections {
			requested[s] = true
		}
		requested[models.SectionDMARC] = true
		requested[models.SectionDKIM] = true
		return requested
	}
	for _, s := range filter {
		if group, ok := sectionGroups[s]; ok {
			for _, t := range group {
				requested[t] = true
			}
			continue
		}
		requested[strings.ToUpper(s)] = true
	}
	return requested
}

type namedResult struct {
	key string
	rs  *models.RecordSet
}

// Collect queries all requested sections for domain concurrently and returns
// the canonical snapshot. Exceeding the lifetime budget cancels outstanding
// queries; sections already answered are kept and the snapshot is marked
// incomplete instead of failing the call.
func (c *Collector) Collect(ctx context.Context, domain string, sectionsFilter []string) *models.DomainSnapshot {
	requested := ExpandSections(sectionsFilter)

	ctx, cancel := context.WithTimeout(ctx, c.Lifetime)
	defer cancel()

	snap := &models.DomainSnapshot{
		Domain:  domain,
		Records: make(map[string]*models.RecordSet),
	}

	tasks := make(map[string]func() *models.RecordSet)
	for _, section := range rootSections {
		if !requested[section] {
			continue
		}
		if section == models.SectionCNAME {
			tasks[section] = func() *models.RecordSet {
				return c.collectCNAME(ctx, domain)
			}
			continue
		}
		rtype := section
		tasks[section] = func() *models.RecordSet {
			return c.DNS.Query(ctx, rtype, domain)
		}
	}

	// www lookups ride along whenever the web records were requested and
	// the queried name is not itself a www host.
	if (requested[models.SectionA] || requested[models.SectionCNAME]) && !strings.HasPrefix(domain, "www.") {
		wwwHost := "www." + domain
		tasks[models.SectionWWWA] = func() *models.RecordSet {
			return c.DNS.Query(ctx, "A", wwwHost)
		}
		tasks[models.SectionWWWCNAME] = func() *models.RecordSet {
			return c.collectCNAME(ctx, wwwHost)
		}
	}

	if requested[models.SectionDMARC] {
		tasks[models.SectionDMARC] = func() *models.RecordSet {
			return c.DNS.Query(ctx, "TXT", "_dmarc."+domain)
		}
	}

	if requested[models.SectionDKIM] {
		tasks[models.SectionDKIM] = func() *models.RecordSet {
			return c.collectDKIM(ctx, domain)
		}
	}

	resultsCh := make(chan namedResult, len(tasks))
	for key, fn := range tasks {
		go func(key string, fn func() *models.RecordSet) {
			resultsCh <- namedResult{key: key, rs: fn()}
		}(key, fn)
	}

	whoisCh := make(chan models.WhoisInfo, 1)
	go func() {
		whoisCh <- c.Whois.Lookup(ctx, domain)
	}()

	start := time.Now()
	pending := len(tasks)
	for pending > 0 {
		select {
		case nr := <-resultsCh:
			snap.Records[nr.key] = nr.rs
			pending--
		case <-ctx.Done():
			snap.Incomplete = true
			snap.Warnings = append(snap.Warnings,
				fmt.Sprintf("lookup lifetime exceeded with %d section(s) outstanding", pending))
			slog.Warn("Snapshot collection cut off by lifetime budget",
				"outstanding", pending, "elapsed_s", fmt.Sprintf("%.2f", time.Since(start).Seconds()))
			pending = 0
		}
	}

	select {
	case snap.Whois = <-whoisCh:
	case <-ctx.Done():
		snap.Whois = models.WhoisInfo{NameServers: []string{}, Error: "WHOIS lookup timed out"}
	}

	normalize(snap)
	return snap
}

// collectCNAME resolves a host's CNAME and walks its chain so resolution
// loops surface as a warning instead of hanging the diagnosis.
func (c *Collector) collectCNAME(ctx context.Context, host string) *models.RecordSet {
	rs := c.DNS.Query(ctx, "CNAME", host)
	if rs.Error != "" || len(rs.Records) == 0 {
		return rs
	}
	if _, _, ok := c.DNS.ResolveCNAMEChain(ctx, rs.Records[0].Value); !ok {
		rs.Warning = dnsclient.WarnCNAMEDepth
	}
	return rs
}

// collectDKIM probes the configured common selectors. The first selector
// that resolves is reported; striking out on all of them is a normal
// best-effort outcome, not a failure.
func (c *Collector) collectDKIM(ctx context.Context, domain string) *models.RecordSet {
	combined := &models.RecordSet{}
	for _, selector := range c.DKIMSelectors {
		if ctx.Err() != nil {
			break
		}
		host := selector + "._domainkey." + domain
		for _, rtype := range []string{"TXT", "CNAME"} {
			rs := c.DNS.Query(ctx, rtype, host)
			if rs.Error != "" {
				continue
			}
			combined.Records = append(combined.Records, rs.Records...)
		}
		if len(combined.Records) > 0 {
			return combined
		}
	}
	combined.Error = models.ErrNoAnswer
	return combined
}

// normalize puts every record set into canonical form: values lowercased
// where DNS is case-insensitive, trailing dots stripped, MX ordered by
// priority, NS ordered by name.
func normalize(snap *models.DomainSnapshot) {
	for section, rs := range snap.Records {
		if rs == nil {
			continue
		}
		for i := range rs.Records {
			rs.Records[i].Value = strings.TrimSuffix(rs.Records[i].Value, ".")
			switch section {
			case models.SectionNS, models.SectionCNAME, models.SectionWWWCNAME, models.SectionMX:
				rs.Records[i].Value = strings.ToLower(rs.Records[i].Value)
			}
		}
		switch section {
		case models.SectionMX:
			sort.SliceStable(rs.Records, func(i, j int) bool {
				return rs.Records[i].Priority < rs.Records[j].Priority
			})
		case models.SectionNS:
			sort.SliceStable(rs.Records, func(i, j int) bool {
				return rs.Records[i].Value < rs.Records[j].Value
			})
		}
	}
}

// AllRootQueriesFailed reports whether every requested root section came back
// with a per-type error. This is the only snapshot condition that aborts a
// diagnosis; WHOIS failure alone never does.
func AllRootQueriesFailed(snap *models.DomainSnapshot) bool {
	checked := 0
	for _, section := range rootSections {
		rs, ok := snap.Records[section]
		if !ok {
			continue
		}
		checked++
		// An empty answer is still an answer; only transport failures and
		// a nonexistent domain count toward aborting.
		if rs.Error == "" || rs.Error == models.ErrNoAnswer {
			return false
		}
	}
	return checked > 0
}

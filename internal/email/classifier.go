// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.

// Package email classifies a domain's email posture from its snapshot: who
// hosts the mail, and whether SPF, DMARC, and DKIM are in place. Detection is
// informational only; it never produces remediation actions by itself.
package email

import (
	"strings"

	"github.com/ColinMcArthur85/dns-diagnostic/internal/models"
	"github.com/ColinMcArthur85/dns-diagnostic/internal/rules"
)

type Classifier struct {
	rules *rules.EmailRules
}

func NewClassifier(r *rules.EmailRules) *Classifier {
	return &Classifier{rules: r}
}

// Classify derives the email state from a snapshot. The same snapshot always
// yields the same state; no network activity happens here.
func (c *Classifier) Classify(snap *models.DomainSnapshot) models.EmailState {
	state := models.EmailState{Provider: models.ProviderUnknown}

	mx := snap.Section(models.SectionMX)
	state.HasCustomEmail = len(mx.Records) > 0
	if state.HasCustomEmail {
		if rule, ok := c.matchProvider(mx.Records); ok {
			state.Provider = rule.ID
			state.ProviderName = rule.DisplayName
		}
	}

	c.classifySPF(snap, &state)
	c.classifyDMARC(snap, &state)
	c.classifyDKIM(snap, &state)
	return state
}

// matchProvider walks the fingerprint table in declaration order and returns
// the first rule whose pattern appears as a substring of any MX hostname.
func (c *Classifier) matchProvider(mxRecords []models.RecordEntry) (rules.ProviderRule, bool) {
	for _, rule := range c.rules.Providers {
		for _, pattern := range rule.MXPatterns {
			p := strings.ToLower(pattern)
			for _, rec := range mxRecords {
				if strings.Contains(strings.ToLower(rec.Value), p) {
					return rule, true
				}
			}
		}
	}
	return rules.ProviderRule{}, false
}

func (c *Classifier) classifySPF(snap *models.DomainSnapshot, state *models.EmailState) {
	txt := snap.Section(models.SectionTXT)
	for _, rec := range txt.Records {
		value := strings.TrimSpace(rec.Value)
		if !strings.HasPrefix(strings.ToLower(value), strings.ToLower(c.rules.SPFIdentifier)) {
			continue
		}
		state.SPFPresent = true
		state.SPFRecord = value
		state.SPFValid = c.spfSyntaxValid(value)
		return
	}
}

// spfSyntaxValid checks the mechanism vocabulary of an SPF record. Every
// term after the version tag must be a known mechanism or modifier, with an
// optional qualifier prefix.
func (c *Classifier) spfSyntaxValid(record string) bool {
	terms := strings.Fields(record)
	if len(terms) == 0 {
		return false
	}
	for _, term := range terms[1:] {
		t := strings.ToLower(term)
		t = strings.TrimLeft(t, "+-~?")
		if idx := strings.IndexAny(t, ":=/"); idx >= 0 {
			t = t[:idx]
		}
		if t == "" {
			return false
		}
		if !c.knownMechanism(t) {
			return false
		}
	}
	return true
}

func (c *Classifier) knownMechanism(name string) bool {
	for _, m := range c.rules.SPFMechanisms {
		if name == m {
			return true
		}
	}
	return false
}

// classifyDMARC reads the _dmarc TXT lookup, falling back to any DMARC tag
// that ended up published at the root by mistake. The fallback still counts
// as present; publishing location is not this component's call to make.
func (c *Classifier) classifyDMARC(snap *models.DomainSnapshot, state *models.EmailState) {
	if rec, ok := findDMARC(snap.Section(models.SectionDMARC).Records); ok {
		state.DMARCPresent = true
		state.DMARCRecord = rec
		state.DMARCPolicy = dmarcPolicy(rec)
		return
	}
	if rec, ok := findDMARC(snap.Section(models.SectionTXT).Records); ok {
		state.DMARCPresent = true
		state.DMARCRecord = rec
		state.DMARCPolicy = dmarcPolicy(rec)
	}
}

func findDMARC(records []models.RecordEntry) (string, bool) {
	for _, rec := range records {
		value := strings.TrimSpace(rec.Value)
		if strings.HasPrefix(strings.ToLower(value), "v=dmarc1") {
			return value, true
		}
	}
	return "", false
}

// dmarcPolicy extracts the p= tag. Tags are semicolon-separated and may carry
// arbitrary whitespace around the separator.
func dmarcPolicy(record string) string {
	for _, part := range strings.Split(record, ";") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(strings.ToLower(part), "p=") {
			return strings.ToLower(strings.TrimSpace(part[2:]))
		}
	}
	return ""
}

// classifyDKIM is best-effort: the snapshot only probed the common selectors,
// so absence here never means DKIM is absent on the domain.
func (c *Classifier) classifyDKIM(snap *models.DomainSnapshot, state *models.EmailState) {
	for _, rec := range snap.Section(models.SectionDKIM).Records {
		value := strings.ToLower(strings.TrimSpace(rec.Value))
		host := strings.ToLower(rec.Host)
		isKey := rec.Type == "TXT" && strings.HasPrefix(value, "v=dkim1")
		isDelegation := rec.Type == "CNAME" && strings.Contains(value, "._domainkey.")
		if !isKey && !isDelegation {
			continue
		}
		state.DKIMPresent = true
		if idx := strings.Index(host, "._domainkey."); idx > 0 {
			state.DKIMSelector = host[:idx]
		}
		return
	}
}

// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.

// Package engine selects a connection strategy for a domain and compares its
// observed DNS state against the platform's required targets. Evaluate is a
// pure function of its inputs; it performs no network or storage access, so
// identical inputs always produce identical decisions.
package engine

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/ColinMcArthur85/dns-diagnostic/internal/models"
	"github.com/ColinMcArthur85/dns-diagnostic/internal/rules"
)

type Engine struct {
	rules *rules.Set
}

func New(r *rules.Set) *Engine {
	return &Engine{rules: r}
}

// Evaluate decides how the domain should connect to the platform and builds
// the current-vs-target comparison table.
func (e *Engine) Evaluate(domain string, platform rules.Platform, intent models.Intent, email models.EmailState, snap *models.DomainSnapshot) models.Decision {
	d := models.Decision{
		Domain:   domain,
		Platform: platform.ID,
		Warnings: []string{},
	}

	root, sub := SplitSubdomain(domain)
	d.IsSubdomain = sub != ""
	d.SubdomainHost = sub

	// Subdomains always connect with a single CNAME. Nameservers and email
	// records belong to the root domain and are never touched for this case.
	if d.IsSubdomain {
		d.Option = models.OptionRecordLevel
		e.evaluateSubdomain(&d, platform, snap)
		e.appendEmailRows(&d, email, snap)
		e.applyRegistrarFindings(&d, intent, snap)
		return d
	}

	// Strategy is a pure rule over intent and email state; current DNS only
	// decides whether the chosen strategy is already satisfied.
	thirdPartyMX := email.HasCustomEmail
	if intent.HasExternalDependencies || thirdPartyMX {
		d.Option = models.OptionRecordLevel
		if thirdPartyMX {
			d.Warnings = append(d.Warnings, e.rules.Warning("mx_override"))
		}
		e.evaluateNameservers(&d, platform, snap)
		e.evaluateRecordLevel(&d, root, platform, snap)
	} else {
		d.Option = models.OptionNameserverDelegation
		e.evaluateNameservers(&d, platform, snap)
	}

	e.appendEmailRows(&d, email, snap)
	e.applyRegistrarFindings(&d, intent, snap)
	return d
}

// SplitSubdomain returns the registrable root and, when the name is a
// subdomain of it, the subdomain label path. A www prefix is treated as the
// root domain, not as a subdomain connection.
func SplitSubdomain(domain string) (root, sub string) {
	domain = strings.ToLower(strings.TrimSuffix(domain, "."))
	root, err := publicsuffix.EffectiveTLDPlusOne(domain)
	if err != nil {
		return domain, ""
	}
	if domain == root {
		return root, ""
	}
	prefix := strings.TrimSuffix(domain, "."+root)
	if prefix == "www" {
		return root, ""
	}
	return root, prefix
}

// evaluateNameservers emits the nameserver row for root domains under either
// strategy. A zone carrying every required nameserver is matched even when
// extra nameservers sit alongside them; the row is required and recommended
// only under delegation, informational under record-level.
func (e *Engine) evaluateNameservers(d *models.Decision, platform rules.Platform, snap *models.DomainSnapshot) {
	current := currentNameservers(snap)
	required := normalizeSet(platform.Nameservers)
	delegation := d.Option == models.OptionNameserverDelegation

	var status string
	switch {
	case containsAll(current, required):
		status = models.StatusMatched
	case !delegation:
		status = models.StatusExternal
	case len(current) == 0:
		status = models.StatusMissing
	default:
		status = models.StatusDifferent
	}

	d.Comparisons = append(d.Comparisons, models.Comparison{
		Label:       "Nameservers",
		Current:     strings.Join(current, ", "),
		Target:      strings.Join(required, ", "),
		Status:      status,
		IsRequired:  delegation,
		Recommended: delegation,
	})
}

// currentNameservers merges the DNS NS answers with the WHOIS-reported set.
// WHOIS often still shows the delegation when the zone itself is unreachable.
func currentNameservers(snap *models.DomainSnapshot) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(ns string) {
		ns = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(ns), "."))
		if ns == "" || seen[ns] {
			return
		}
		seen[ns] = true
		out = append(out, ns)
	}
	for _, rec := range snap.Section(models.SectionNS).Records {
		add(rec.Value)
	}
	for _, ns := range snap.Whois.NameServers {
		add(ns)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) evaluateRecordLevel(d *models.Decision, root string, platform rules.Platform, snap *models.DomainSnapshot) {
	for _, req := range platform.RootRecords {
		target := strings.ReplaceAll(req.Value, "{root_domain}", root)
		host := req.Host

		var section, label string
		switch {
		case req.Type == "A" && host == "@":
			section, label = models.SectionA, "Root A record"
		case req.Type == "CNAME" && host == "www":
			section, label = models.SectionWWWCNAME, "www CNAME"
		default:
			section, label = req.Type, fmt.Sprintf("%s record at %s", req.Type, host)
		}

		row := compareRequired(label, snap.Section(section), target)
		row.RecordType = req.Type
		row.RecordHost = host
		row.RecordValue = target

		// A CNAME parked where the A record must go is a conflict in its
		// own right, even when no A answer came back.
		if req.Type == "A" && host == "@" && row.Status == models.StatusMissing {
			if cn := snap.Section(models.SectionCNAME); len(cn.Records) > 0 {
				row.Status = models.StatusConflict
				row.Current = "CNAME " + cn.Records[0].Value
			}
		}

		d.Comparisons = append(d.Comparisons, row)
	}
}

func (e *Engine) evaluateSubdomain(d *models.Decision, platform rules.Platform, snap *models.DomainSnapshot) {
	target := strings.ToLower(platform.SubdomainTarget)

	row := compareRequired("Subdomain CNAME", snap.Section(models.SectionCNAME), target)
	row.RecordType = "CNAME"
	row.RecordHost = d.SubdomainHost
	row.RecordValue = target
	d.Comparisons = append(d.Comparisons, row)

	// An A record on the same host prevents a CNAME from being added. Once
	// any CNAME exists the A answers are just the resolver following the
	// chain, so the conflict only applies when no CNAME is present at all.
	if a := snap.Section(models.SectionA); len(a.Records) > 0 && len(snap.Section(models.SectionCNAME).Records) == 0 {
		status := models.StatusConflict
		if !e.rules.Decision.SubdomainAConflictBlocking {
			status = models.StatusInfo
			d.Warnings = append(d.Warnings,
				"An A record exists on this subdomain and must be removed before the CNAME can take effect.")
		}
		d.Comparisons = append(d.Comparisons, models.Comparison{
			Label:      "Conflicting A record",
			Current:    a.Records[0].Value,
			Target:     "none",
			Status:     status,
			IsRequired: status == models.StatusConflict,
		})
	}
}

// compareRequired evaluates one required-record row against the observed set.
// Any answer matching the target counts as matched regardless of extras.
func compareRequired(label string, rs *models.RecordSet, target string) models.Comparison {
	row := models.Comparison{Label: label, Target: target, IsRequired: true}
	if len(rs.Records) == 0 {
		row.Status = models.StatusMissing
		row.Current = "none"
		return row
	}

	var values []string
	for _, rec := range rs.Records {
		v := strings.ToLower(strings.TrimSuffix(rec.Value, "."))
		values = append(values, rec.Value)
		if v == strings.ToLower(target) {
			row.Status = models.StatusMatched
			row.Current = rec.Value
			return row
		}
	}
	row.Status = models.StatusConflict
	row.Current = strings.Join(values, ", ")
	return row
}

// appendEmailRows adds informational rows for the email posture. These are
// never required and never produce actions; switching strategy never means
// rewriting someone's mail flow.
func (e *Engine) appendEmailRows(d *models.Decision, email models.EmailState, snap *models.DomainSnapshot) {
	if snap.HasSection(models.SectionMX) {
		current := "none"
		status := models.StatusInfo
		if email.HasCustomEmail {
			status = models.StatusExternal
			current = email.ProviderName
			if current == "" {
				current = "custom email (" + email.Provider + ")"
			}
			if d.Option == models.OptionRecordLevel {
				d.Warnings = append(d.Warnings, e.rules.Warning("mx_present"))
			}
		}
		d.Comparisons = append(d.Comparisons, models.Comparison{
			Label:   "Email provider",
			Current: current,
			Target:  "keep as-is",
			Status:  status,
		})
	}

	if snap.HasSection(models.SectionTXT) {
		d.Comparisons = append(d.Comparisons, models.Comparison{
			Label:   "SPF",
			Current: presenceLabel(email.SPFPresent, email.SPFValid),
			Target:  "informational",
			Status:  models.StatusInfo,
		})
	}
	if snap.HasSection(models.SectionDMARC) {
		current := "absent"
		if email.DMARCPresent {
			current = "present"
			if email.DMARCPolicy != "" {
				current = "p=" + email.DMARCPolicy
			}
		}
		d.Comparisons = append(d.Comparisons, models.Comparison{
			Label:   "DMARC",
			Current: current,
			Target:  "informational",
			Status:  models.StatusInfo,
		})
		// A reject/quarantine policy on a domain that no longer receives
		// mail silently kills anything the platform tries to send for it.
		if !email.HasCustomEmail && (email.DMARCPolicy == "reject" || email.DMARCPolicy == "quarantine") {
			d.Warnings = append(d.Warnings,
				"A strict DMARC policy is published but no MX records exist; mail sent on behalf of this domain may be rejected.")
		}
	}
	if snap.HasSection(models.SectionDKIM) {
		d.Comparisons = append(d.Comparisons, models.Comparison{
			Label:   "DKIM",
			Current: presenceLabel(email.DKIMPresent, true),
			Target:  "informational",
			Status:  models.StatusInfo,
		})
	}
}

// applyRegistrarFindings folds the WHOIS registrar into the decision: the
// partner-registrar advisory, the expired-delegation warning, and the
// delegate-access recommendation.
func (e *Engine) applyRegistrarFindings(d *models.Decision, intent models.Intent, snap *models.DomainSnapshot) {
	registrar := strings.ToLower(snap.Whois.Registrar)
	partner := e.rules.Partner

	if partner.NamePattern != "" && registrar != "" && strings.Contains(registrar, strings.ToLower(partner.NamePattern)) {
		d.RegistrarInternal = true
		d.Warnings = append(d.Warnings, partner.AdvisoryWarning)

		for _, expired := range partner.ExpiredNSList {
			for _, ns := range currentNameservers(snap) {
				if strings.EqualFold(ns, expired) {
					d.Warnings = append(d.Warnings, partner.ExpiredNSWarning)
					return
				}
			}
		}
		// A partner-registered domain is already managed on our side, so
		// there is nobody external to delegate access to.
		return
	}

	trig := e.rules.Delegate
	if (trig.RecommendIfRegistrarUnknown && !intent.RegistrarKnown) ||
		(trig.RecommendIfUncomfortable && !intent.ComfortableEditingDNS) {
		d.DelegateAccessRecommended = true
	}
}

func presenceLabel(present, valid bool) string {
	switch {
	case !present:
		return "absent"
	case !valid:
		return "present (syntax issues)"
	default:
		return "present"
	}
}

func normalizeSet(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToLower(strings.TrimSuffix(strings.TrimSpace(s), ".")))
	}
	sort.Strings(out)
	return out
}

// containsAll reports whether every member of required appears in current.
func containsAll(current, required []string) bool {
	if len(required) == 0 {
		return false
	}
	for _, want := range required {
		found := false
		for _, have := range current {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

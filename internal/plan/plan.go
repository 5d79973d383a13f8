// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.

// Package plan turns a decision into the ordered remediation steps a
// non-expert can follow, plus the completion verdict.
package plan

import (
	"github.com/ColinMcArthur85/dns-diagnostic/internal/models"
	"github.com/ColinMcArthur85/dns-diagnostic/internal/rules"
)

const (
	msgAllSet         = "All set! Your DNS records are correctly configured."
	msgActionRequired = "Action required: add the recommended DNS records to finish connecting your domain."
	msgNameservers    = "Action required: update your domain's nameservers at the registrar to finish connecting your domain."
	msgConflicts      = "Existing DNS records conflict with the required configuration and are blocking progress. Resolve the conflicts below before continuing."
	msgUnverified     = "Some lookups did not complete, so a few records could not be verified. Re-run the diagnosis or check the potential issues below."
)

// Build synthesizes the action plan from a decision. Nameserver mismatches
// collapse into a single change_nameservers action carrying the full required
// set; registrars apply nameserver changes atomically, so a partial diff would
// be meaningless. Record-level rows get exactly one add_record each.
func Build(d models.Decision, platform rules.Platform, snap *models.DomainSnapshot) models.ActionPlan {
	p := models.ActionPlan{
		Actions:  []models.Action{},
		Warnings: append([]string{}, d.Warnings...),
	}

	hasConflict := false
	hasUnverified := false

	for _, row := range d.Comparisons {
		if !row.IsRequired {
			continue
		}
		switch row.Status {
		case models.StatusMatched:
			continue
		case models.StatusConflict:
			hasConflict = true
		}

		var action models.Action
		if d.Option == models.OptionNameserverDelegation && row.RecordType == "" {
			action = models.Action{
				Kind:   models.ActionChangeNameservers,
				Values: append([]string{}, platform.Nameservers...),
			}
		} else {
			action = models.Action{
				Kind:  models.ActionAddRecord,
				Type:  row.RecordType,
				Host:  row.RecordHost,
				Value: row.RecordValue,
			}
			if action.Type == "" {
				// Conflict rows that carry no target record (an A record
				// blocking a subdomain CNAME) have nothing to add; removal
				// is the user's call, so they surface as issues instead.
				p.PotentialIssues = append(p.PotentialIssues, models.Action{
					Kind:  "remove_record",
					Type:  "A",
					Host:  d.SubdomainHost,
					Value: row.Current,
				})
				continue
			}
		}

		if section, ok := backingSection(d, row); ok {
			// A required record whose section was never queried is only
			// potentially missing; the caller asked us not to look.
			if !snap.HasSection(section) {
				p.PotentialIssues = append(p.PotentialIssues, action)
				continue
			}
			// A row derived from a failed lookup is unverified, not known
			// missing; pushing it as a hard action would tell the user to
			// add a record that may already exist.
			if lookupFailed(snap.Section(section)) {
				hasUnverified = true
				p.PotentialIssues = append(p.PotentialIssues, action)
				continue
			}
		}
		p.Actions = append(p.Actions, action)
	}

	p.IsCompleted = len(p.Actions) == 0 && !hasConflict && !hasUnverified
	p.StatusMessage = statusMessage(d, p, hasConflict, hasUnverified)
	return p
}

func statusMessage(d models.Decision, p models.ActionPlan, hasConflict, hasUnverified bool) string {
	switch {
	case p.IsCompleted:
		return msgAllSet
	case hasConflict:
		return msgConflicts
	case hasUnverified && len(p.Actions) == 0:
		return msgUnverified
	case d.Option == models.OptionNameserverDelegation:
		return msgNameservers
	default:
		return msgActionRequired
	}
}

// backingSection maps a required comparison row to the snapshot section whose
// lookup produced it.
func backingSection(d models.Decision, row models.Comparison) (string, bool) {
	switch {
	case d.Option == models.OptionNameserverDelegation && row.RecordType == "":
		return models.SectionNS, true
	case row.RecordType == "A":
		return models.SectionA, true
	case row.RecordType == "CNAME" && row.RecordHost == "www":
		return models.SectionWWWCNAME, true
	case row.RecordType == "CNAME":
		return models.SectionCNAME, true
	}
	return "", false
}

// lookupFailed reports whether a record set came back with a per-type error
// instead of an answer.
func lookupFailed(rs *models.RecordSet) bool {
	return rs.Error != "" && rs.Error != models.ErrNoAnswer && rs.Error != models.ErrNXDomain
}

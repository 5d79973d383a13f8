// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.

// Package models holds the data structures shared across the diagnostic
// pipeline. Every value here is built fresh per diagnosis call and discarded
// when the call returns; nothing is cached or persisted.
package models

// Record error kinds, tracked per record type. A failed type never aborts the
// diagnosis unless every requested type fails.
const (
	ErrTimeout  = "timeout"
	ErrServfail = "servfail"
	ErrNXDomain = "nxdomain"
	ErrNoAnswer = "no_answer"
)

// Snapshot section names. Pseudo-sections (WWW_*, DMARC, DKIM) carry lookups
// performed against derived hostnames.
const (
	SectionA        = "A"
	SectionCNAME    = "CNAME"
	SectionMX       = "MX"
	SectionTXT      = "TXT"
	SectionNS       = "NS"
	SectionSOA      = "SOA"
	SectionWWWA     = "WWW_A"
	SectionWWWCNAME = "WWW_CNAME"
	SectionDMARC    = "DMARC"
	SectionDKIM     = "DKIM"
)

// RecordEntry is one normalized DNS answer.
type RecordEntry struct {
	Type     string `json:"type"`
	Host     string `json:"host"`
	Value    string `json:"value"`
	TTL      uint32 `json:"ttl"`
	Priority uint16 `json:"priority,omitempty"`
}

// RecordSet is the ordered answer list for one section, capped at the
// per-type record limit. Truncation sets the flag instead of discarding
// silently; a per-type failure sets Error to one of the Err* kinds.
type RecordSet struct {
	Records   []RecordEntry `json:"records"`
	Truncated bool          `json:"truncated,omitempty"`
	Error     string        `json:"error,omitempty"`
	Warning   string        `json:"warning,omitempty"`
}

// WhoisInfo is the best-effort WHOIS block. On failure Registrar stays empty
// and Error carries a sanitized message.
type WhoisInfo struct {
	Registrar   string   `json:"registrar,omitempty"`
	NameServers []string `json:"name_servers"`
	Error       string   `json:"error,omitempty"`
}

// DomainSnapshot is the normalized view of a domain's DNS and WHOIS state at
// one point in time.
type DomainSnapshot struct {
	Domain     string                `json:"domain"`
	Records    map[string]*RecordSet `json:"records"`
	Whois      WhoisInfo             `json:"whois"`
	Incomplete bool                  `json:"incomplete,omitempty"`
	Warnings   []string              `json:"warnings,omitempty"`
}

// Section returns the record set for a section, or an empty set.
func (s *DomainSnapshot) Section(name string) *RecordSet {
	if rs, ok := s.Records[name]; ok && rs != nil {
		return rs
	}
	return &RecordSet{}
}

// HasSection reports whether a section was queried at all, regardless of
// whether it returned answers.
func (s *DomainSnapshot) HasSection(name string) bool {
	_, ok := s.Records[name]
	return ok
}

// EmailState is the classified email posture of a domain.
type EmailState struct {
	Provider       string `json:"provider"`
	ProviderName   string `json:"provider_display_name,omitempty"`
	HasCustomEmail bool   `json:"has_custom_email"`
	SPFPresent     bool   `json:"spf_present"`
	SPFValid       bool   `json:"spf_valid"`
	SPFRecord      string `json:"spf_record,omitempty"`
	DMARCPresent   bool   `json:"dmarc_present"`
	DMARCPolicy    string `json:"dmarc_policy,omitempty"`
	DMARCRecord    string `json:"dmarc_record,omitempty"`
	DKIMPresent    bool   `json:"dkim_present"`
	DKIMSelector   string `json:"dkim_selector,omitempty"`
}

// ProviderUnknown is the explicit fallback when no fingerprint rule matches.
const ProviderUnknown = "unknown"

// Email choices a user can declare.
const (
	EmailChoicePlatform = "platform"
	EmailChoiceExternal = "external"
	EmailChoiceNone     = "none"
)

// Intent captures what the user told us about their setup. It is echoed back
// unchanged in the result envelope.
type Intent struct {
	HasExternalDependencies bool     `json:"has_external_dependencies"`
	EmailManagedByPlatform  bool     `json:"email_managed_by_platform"`
	ComfortableEditingDNS   bool     `json:"comfortable_editing_dns"`
	RegistrarKnown          bool     `json:"registrar_known"`
	DelegateDNSManagement   bool     `json:"delegate_dns_management"`
	EmailChoice             string   `json:"email_choice,omitempty"`
	QueriedSections         []string `json:"queried_sections,omitempty"`
}

// Connection strategies.
const (
	OptionNameserverDelegation = "nameserver_delegation"
	OptionRecordLevel          = "record_level"
)

// Comparison row statuses.
const (
	StatusMatched   = "matched"
	StatusMissing   = "missing"
	StatusConflict  = "conflict"
	StatusDifferent = "different"
	StatusExternal  = "external"
	StatusInfo      = "info"
)

// Comparison is one row of the current-vs-target table.
type Comparison struct {
	Label       string `json:"label"`
	Current     string `json:"current"`
	Target      string `json:"target"`
	Status      string `json:"status"`
	IsRequired  bool   `json:"is_required"`
	Recommended bool   `json:"is_recommended,omitempty"`

	// Populated only for required rows so the plan builder can emit the
	// exact record without re-deriving it.
	RecordType  string `json:"-"`
	RecordHost  string `json:"-"`
	RecordValue string `json:"-"`
}

// Decision is the pure output of the decision engine for one evaluation.
type Decision struct {
	Domain                    string       `json:"domain"`
	Platform                  string       `json:"platform"`
	IsSubdomain               bool         `json:"is_subdomain"`
	SubdomainHost             string       `json:"subdomain_host,omitempty"`
	Option                    string       `json:"option"`
	Comparisons               []Comparison `json:"comparisons"`
	Warnings                  []string     `json:"warnings"`
	DelegateAccessRecommended bool         `json:"delegate_access_recommended"`
	RegistrarInternal         bool         `json:"registrar_internal,omitempty"`
}

// Action kinds.
const (
	ActionAddRecord         = "add_record"
	ActionChangeNameservers = "change_nameservers"
)

// Action is one concrete remediation step.
type Action struct {
	Kind   string   `json:"action"`
	Type   string   `json:"type,omitempty"`
	Host   string   `json:"host,omitempty"`
	Value  string   `json:"value,omitempty"`
	Values []string `json:"values,omitempty"`
}

// ActionPlan is the ordered remediation list plus the completion verdict.
type ActionPlan struct {
	Actions         []Action `json:"recommended_actions"`
	PotentialIssues []Action `json:"potential_issues"`
	IsCompleted     bool     `json:"is_completed"`
	StatusMessage   string   `json:"status_message"`
	Warnings        []string `json:"warnings"`
}

// Result is the single structured response of a diagnosis.
type Result struct {
	Domain                    string         `json:"domain"`
	Platform                  string         `json:"platform"`
	IsSubdomain               bool           `json:"is_subdomain"`
	DNSSnapshot               DomainSnapshot `json:"dns_snapshot"`
	EmailState                EmailState     `json:"email_state"`
	Intent                    Intent         `json:"intent"`
	ConnectionOption          string         `json:"connection_option"`
	Comparison                []Comparison   `json:"comparison"`
	RecommendedActions        []Action       `json:"recommended_actions"`
	PotentialIssues           []Action       `json:"potential_issues,omitempty"`
	DelegateAccessRecommended bool           `json:"delegate_access_recommended"`
	IsCompleted               bool           `json:"is_completed"`
	StatusMessage             string         `json:"status_message"`
	Warnings                  []string       `json:"warnings"`
	DurationSeconds           float64        `json:"analysis_duration,omitempty"`
}

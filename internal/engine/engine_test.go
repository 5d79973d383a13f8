// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.
package engine_test

import (
	"reflect"
	"strings"
	"testing"

	"github.com/ColinMcArthur85/dns-diagnostic/internal/engine"
	"github.com/ColinMcArthur85/dns-diagnostic/internal/models"
	"github.com/ColinMcArthur85/dns-diagnostic/internal/rules"
)

const testDomain = "example.com"

func loadRules(t *testing.T) *rules.Set {
	t.Helper()
	s, err := rules.Load("")
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func attractwell(t *testing.T, s *rules.Set) rules.Platform {
	t.Helper()
	p, ok := s.Platform("attractwell")
	if !ok {
		t.Fatal("attractwell platform missing from rules")
	}
	return p
}

func buildSnap(domain string, records map[string][]models.RecordEntry) *models.DomainSnapshot {
	snap := &models.DomainSnapshot{Domain: domain, Records: make(map[string]*models.RecordSet)}
	for section, recs := range records {
		snap.Records[section] = &models.RecordSet{Records: recs}
	}
	return snap
}

func rec(rtype, host, value string) models.RecordEntry {
	return models.RecordEntry{Type: rtype, Host: host, Value: value}
}

func comfortableIntent() models.Intent {
	return models.Intent{ComfortableEditingDNS: true, RegistrarKnown: true}
}

func findRow(t *testing.T, d models.Decision, label string) models.Comparison {
	t.Helper()
	for _, row := range d.Comparisons {
		if row.Label == label {
			return row
		}
	}
	t.Fatalf("no comparison row labeled %q in %+v", label, d.Comparisons)
	return models.Comparison{}
}

// Matching nameservers, no email, no external dependencies: delegation is
// chosen and everything is already in place.
func TestNameserverDelegationMatched(t *testing.T) {
	s := loadRules(t)
	eng := engine.New(s)

	snap := buildSnap(testDomain, map[string][]models.RecordEntry{
		models.SectionNS: {
			rec("NS", testDomain, "NS1.LIQUIDWEB.COM"),
			rec("NS", testDomain, "ns.liquidweb.com"),
		},
	})

	d := eng.Evaluate(testDomain, attractwell(t, s), comfortableIntent(), models.EmailState{}, snap)

	if d.Option != models.OptionNameserverDelegation {
		t.Fatalf("option = %q, want nameserver_delegation", d.Option)
	}
	row := findRow(t, d, "Nameservers")
	if row.Status != models.StatusMatched {
		t.Errorf("NS row status = %q, want matched (comparison must be case-insensitive and order-independent)", row.Status)
	}
}

// Third-party MX forces record-level even when the user declared no external
// dependencies, and a warning tells the operator to leave MX alone.
func TestThirdPartyMXForcesRecordLevel(t *testing.T) {
	s := loadRules(t)
	eng := engine.New(s)

	snap := buildSnap(testDomain, map[string][]models.RecordEntry{
		models.SectionA:        {rec("A", testDomain, "199.189.226.101")},
		models.SectionWWWCNAME: {rec("CNAME", "www."+testDomain, testDomain)},
		models.SectionMX:       {rec("MX", testDomain, "aspmx.l.google.com")},
	})
	emailState := models.EmailState{Provider: "google", ProviderName: "Google Workspace", HasCustomEmail: true}

	d := eng.Evaluate(testDomain, attractwell(t, s), comfortableIntent(), emailState, snap)

	if d.Option != models.OptionRecordLevel {
		t.Fatalf("option = %q, want record_level", d.Option)
	}
	if findRow(t, d, "Root A record").Status != models.StatusMatched {
		t.Error("root A should be matched")
	}
	if findRow(t, d, "www CNAME").Status != models.StatusMatched {
		t.Error("www CNAME should be matched")
	}
	foundMXWarning := false
	for _, w := range d.Warnings {
		if strings.Contains(w, "MX") || strings.Contains(strings.ToLower(w), "email") {
			foundMXWarning = true
		}
	}
	if !foundMXWarning {
		t.Errorf("no MX-preservation warning in %v", d.Warnings)
	}
}

// Wrong A value and missing www CNAME under record-level: one conflict row
// and one missing row.
func TestRecordLevelConflictAndMissing(t *testing.T) {
	s := loadRules(t)
	eng := engine.New(s)

	snap := buildSnap(testDomain, map[string][]models.RecordEntry{
		models.SectionA:        {rec("A", testDomain, "203.0.113.9")},
		models.SectionWWWCNAME: {},
	})
	intent := comfortableIntent()
	intent.HasExternalDependencies = true

	d := eng.Evaluate(testDomain, attractwell(t, s), intent, models.EmailState{}, snap)

	if got := findRow(t, d, "Root A record").Status; got != models.StatusConflict {
		t.Errorf("root A status = %q, want conflict", got)
	}
	if got := findRow(t, d, "www CNAME").Status; got != models.StatusMissing {
		t.Errorf("www CNAME status = %q, want missing", got)
	}
}

func TestSubdomainAlwaysUsesCNAME(t *testing.T) {
	s := loadRules(t)
	eng := engine.New(s)
	sub := "blog." + testDomain

	snap := buildSnap(sub, map[string][]models.RecordEntry{
		models.SectionCNAME: {},
		models.SectionNS:    {rec("NS", sub, "ns1.digitalocean.com")},
		models.SectionMX:    {rec("MX", sub, "mail.example.com")},
	})
	emailState := models.EmailState{HasCustomEmail: true, Provider: models.ProviderUnknown}

	d := eng.Evaluate(sub, attractwell(t, s), comfortableIntent(), emailState, snap)

	if !d.IsSubdomain {
		t.Fatal("IsSubdomain = false for blog.example.com")
	}
	if d.SubdomainHost != "blog" {
		t.Errorf("SubdomainHost = %q, want blog", d.SubdomainHost)
	}
	if d.Option != models.OptionRecordLevel {
		t.Errorf("option = %q; subdomains never delegate nameservers", d.Option)
	}
	row := findRow(t, d, "Subdomain CNAME")
	if row.Status != models.StatusMissing {
		t.Errorf("CNAME row status = %q, want missing", row.Status)
	}
	if row.RecordValue != "sites.attractwell.com" {
		t.Errorf("CNAME target = %q, want sites.attractwell.com", row.RecordValue)
	}
	for _, c := range d.Comparisons {
		if c.Label == "Nameservers" {
			t.Error("subdomain evaluation produced a nameserver comparison")
		}
	}
}

func TestSubdomainAConflictBlocks(t *testing.T) {
	s := loadRules(t)
	eng := engine.New(s)
	sub := "shop." + testDomain

	snap := buildSnap(sub, map[string][]models.RecordEntry{
		models.SectionCNAME: {},
		models.SectionA:     {rec("A", sub, "203.0.113.50")},
	})

	d := eng.Evaluate(sub, attractwell(t, s), comfortableIntent(), models.EmailState{}, snap)

	row := findRow(t, d, "Conflicting A record")
	if row.Status != models.StatusConflict {
		t.Errorf("A-conflict status = %q, want conflict under the blocking default", row.Status)
	}
}

func TestSubdomainAConflictNonBlockingConfig(t *testing.T) {
	s := loadRules(t)
	s.Decision.SubdomainAConflictBlocking = false
	eng := engine.New(s)
	sub := "shop." + testDomain

	snap := buildSnap(sub, map[string][]models.RecordEntry{
		models.SectionCNAME: {},
		models.SectionA:     {rec("A", sub, "203.0.113.50")},
	})

	d := eng.Evaluate(sub, attractwell(t, s), comfortableIntent(), models.EmailState{}, snap)

	row := findRow(t, d, "Conflicting A record")
	if row.Status != models.StatusInfo {
		t.Errorf("A-conflict status = %q, want info when configured non-blocking", row.Status)
	}
	if len(d.Warnings) == 0 {
		t.Error("non-blocking A conflict should still warn")
	}
}

func TestWWWIsRootNotSubdomain(t *testing.T) {
	root, sub := engine.SplitSubdomain("www." + testDomain)
	if root != testDomain || sub != "" {
		t.Errorf("SplitSubdomain(www.example.com) = (%q, %q), want (example.com, \"\")", root, sub)
	}
}

func TestSplitSubdomain(t *testing.T) {
	tests := []struct {
		domain string
		root   string
		sub    string
	}{
		{"example.com", "example.com", ""},
		{"blog.example.com", "example.com", "blog"},
		{"a.b.example.com", "example.com", "a.b"},
		{"example.co.uk", "example.co.uk", ""},
		{"shop.example.co.uk", "example.co.uk", "shop"},
	}
	for _, tt := range tests {
		root, sub := engine.SplitSubdomain(tt.domain)
		if root != tt.root || sub != tt.sub {
			t.Errorf("SplitSubdomain(%q) = (%q, %q), want (%q, %q)", tt.domain, root, sub, tt.root, tt.sub)
		}
	}
}

func TestDelegateAccessTriggers(t *testing.T) {
	s := loadRules(t)
	eng := engine.New(s)
	snap := buildSnap(testDomain, nil)
	platform := attractwell(t, s)

	tests := []struct {
		name   string
		intent models.Intent
		want   bool
	}{
		{"comfortable and known", models.Intent{ComfortableEditingDNS: true, RegistrarKnown: true}, false},
		{"registrar unknown", models.Intent{ComfortableEditingDNS: true, RegistrarKnown: false}, true},
		{"uncomfortable", models.Intent{ComfortableEditingDNS: false, RegistrarKnown: true}, true},
		{"both triggers", models.Intent{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := eng.Evaluate(testDomain, platform, tt.intent, models.EmailState{}, snap)
			if d.DelegateAccessRecommended != tt.want {
				t.Errorf("DelegateAccessRecommended = %v, want %v", d.DelegateAccessRecommended, tt.want)
			}
		})
	}
}

func TestPartnerRegistrarAdvisory(t *testing.T) {
	s := loadRules(t)
	eng := engine.New(s)

	snap := buildSnap(testDomain, nil)
	snap.Whois = models.WhoisInfo{
		Registrar:   "NameBright.com, Inc.",
		NameServers: []string{"expired1.namebrightdns.com", "expired2.namebrightdns.com"},
	}

	d := eng.Evaluate(testDomain, attractwell(t, s), models.Intent{}, models.EmailState{}, snap)

	if !d.RegistrarInternal {
		t.Fatal("RegistrarInternal = false for a NameBright-registered domain")
	}
	if d.DelegateAccessRecommended {
		t.Error("delegate access should be suppressed for the partner registrar")
	}
	sawExpired := false
	for _, w := range d.Warnings {
		if strings.Contains(w, "EXPIRED") {
			sawExpired = true
		}
	}
	if !sawExpired {
		t.Errorf("no expired-nameserver warning in %v", d.Warnings)
	}
}

func TestStrictDMARCWithoutMXWarns(t *testing.T) {
	s := loadRules(t)
	eng := engine.New(s)

	snap := buildSnap(testDomain, map[string][]models.RecordEntry{
		models.SectionMX:    {},
		models.SectionDMARC: {rec("TXT", "_dmarc."+testDomain, "v=DMARC1; p=reject")},
	})
	emailState := models.EmailState{DMARCPresent: true, DMARCPolicy: "reject", Provider: models.ProviderUnknown}

	d := eng.Evaluate(testDomain, attractwell(t, s), comfortableIntent(), emailState, snap)

	found := false
	for _, w := range d.Warnings {
		if strings.Contains(w, "DMARC") {
			found = true
		}
	}
	if !found {
		t.Errorf("no strict-DMARC warning in %v", d.Warnings)
	}
}

func TestEvaluateDeterminism(t *testing.T) {
	s := loadRules(t)
	eng := engine.New(s)

	snap := buildSnap(testDomain, map[string][]models.RecordEntry{
		models.SectionA:        {rec("A", testDomain, "203.0.113.9")},
		models.SectionWWWCNAME: {},
		models.SectionMX:       {rec("MX", testDomain, "aspmx.l.google.com")},
		models.SectionNS:       {rec("NS", testDomain, "ns1.example-dns.net")},
	})
	emailState := models.EmailState{Provider: "google", HasCustomEmail: true}
	intent := comfortableIntent()
	platform := attractwell(t, s)

	first := eng.Evaluate(testDomain, platform, intent, emailState, snap)
	for i := 0; i < 20; i++ {
		got := eng.Evaluate(testDomain, platform, intent, emailState, snap)
		if got.Option != first.Option {
			t.Fatalf("option changed between runs: %q vs %q", got.Option, first.Option)
		}
		if !reflect.DeepEqual(got.Comparisons, first.Comparisons) {
			t.Fatalf("comparisons changed between runs")
		}
	}
}

// Extra nameservers alongside the required set never block a match.
func TestNameserverExtrasStillMatch(t *testing.T) {
	s := loadRules(t)
	eng := engine.New(s)

	snap := buildSnap(testDomain, map[string][]models.RecordEntry{
		models.SectionNS: {
			rec("NS", testDomain, "ns.liquidweb.com"),
			rec("NS", testDomain, "ns1.liquidweb.com"),
			rec("NS", testDomain, "ns2.liquidweb.com"),
		},
	})

	d := eng.Evaluate(testDomain, attractwell(t, s), comfortableIntent(), models.EmailState{}, snap)

	row := findRow(t, d, "Nameservers")
	if row.Status != models.StatusMatched {
		t.Errorf("NS row status = %q, want matched when the required set is a subset of current", row.Status)
	}
	if !row.Recommended {
		t.Error("delegation NS row should carry the recommended flag")
	}
}

// Under record-level the nameserver row is informational: present, never
// required, never recommended.
func TestRecordLevelNameserverRowInformational(t *testing.T) {
	s := loadRules(t)
	eng := engine.New(s)

	snap := buildSnap(testDomain, map[string][]models.RecordEntry{
		models.SectionA:  {rec("A", testDomain, "199.189.226.101")},
		models.SectionNS: {rec("NS", testDomain, "ns1.wrong-host.net")},
	})
	intent := comfortableIntent()
	intent.HasExternalDependencies = true

	d := eng.Evaluate(testDomain, attractwell(t, s), intent, models.EmailState{}, snap)

	row := findRow(t, d, "Nameservers")
	if row.IsRequired || row.Recommended {
		t.Errorf("record-level NS row required=%v recommended=%v, want both false", row.IsRequired, row.Recommended)
	}
	if row.Status != models.StatusExternal {
		t.Errorf("record-level NS row status = %q, want external", row.Status)
	}
}

// A answers on a host that already carries a CNAME are the resolver following
// the chain, not a conflicting record, even when the CNAME target is wrong.
func TestSubdomainChainDerivedANotAConflict(t *testing.T) {
	s := loadRules(t)
	eng := engine.New(s)
	sub := "shop." + testDomain

	snap := buildSnap(sub, map[string][]models.RecordEntry{
		models.SectionCNAME: {rec("CNAME", sub, "pages.wronghost.net")},
		models.SectionA:     {rec("A", sub, "203.0.113.80")},
	})

	d := eng.Evaluate(sub, attractwell(t, s), comfortableIntent(), models.EmailState{}, snap)

	if got := findRow(t, d, "Subdomain CNAME").Status; got != models.StatusConflict {
		t.Errorf("CNAME row status = %q, want conflict for a wrong target", got)
	}
	for _, c := range d.Comparisons {
		if c.Label == "Conflicting A record" {
			t.Errorf("chain-derived A record reported as a conflict: %+v", c)
		}
	}
}

// Subdomain evaluations keep the email posture rows alongside the CNAME row.
func TestSubdomainKeepsEmailRows(t *testing.T) {
	s := loadRules(t)
	eng := engine.New(s)
	sub := "blog." + testDomain

	snap := buildSnap(sub, map[string][]models.RecordEntry{
		models.SectionCNAME: {},
		models.SectionMX:    {rec("MX", sub, "mail.example.com")},
		models.SectionTXT:   {},
	})
	emailState := models.EmailState{HasCustomEmail: true, Provider: models.ProviderUnknown}

	d := eng.Evaluate(sub, attractwell(t, s), comfortableIntent(), emailState, snap)

	if findRow(t, d, "Email provider").Status != models.StatusExternal {
		t.Error("custom email on a subdomain should surface as an external row")
	}
	findRow(t, d, "SPF")
	if len(d.Warnings) == 0 {
		t.Error("custom email on a subdomain should carry the MX-preservation warning")
	}
}

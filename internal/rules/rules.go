// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.

// Package rules loads the domain-rules configuration: platform connection
// targets, the ordered email-provider fingerprint table, delegate-access
// triggers, and warning texts. The rules are loaded once at process start
// into an immutable Set and injected into the decision engine and the email
// fingerprint matcher; neither component hardcodes targets.
package rules

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed domain_rules.yaml
var defaultRules []byte

// RequiredRecord is one record a platform needs at a given host. Value may
// contain the {root_domain} placeholder, expanded at evaluation time.
type RequiredRecord struct {
	Type  string `yaml:"type" validate:"required,oneof=A CNAME TXT"`
	Host  string `yaml:"host" validate:"required"`
	Value string `yaml:"value" validate:"required"`
}

// Platform describes the connection targets of one hosting platform.
type Platform struct {
	ID              string           `yaml:"id" validate:"required"`
	DisplayName     string           `yaml:"display_name" validate:"required"`
	Aliases         []string         `yaml:"aliases"`
	Nameservers     []string         `yaml:"nameservers" validate:"required,min=1"`
	RootRecords     []RequiredRecord `yaml:"root_records" validate:"required,min=1,dive"`
	SubdomainTarget string           `yaml:"subdomain_target" validate:"required,fqdn"`
}

// ProviderRule is one fingerprint rule. Rules are evaluated in declaration
// order, first match wins, so more specific providers must be declared before
// generic patterns.
type ProviderRule struct {
	ID          string   `yaml:"id" validate:"required"`
	DisplayName string   `yaml:"display_name" validate:"required"`
	MXPatterns  []string `yaml:"mx_patterns" validate:"required,min=1"`
}

// EmailRules holds the fingerprint table and record-parsing knobs.
type EmailRules struct {
	Providers     []ProviderRule `yaml:"providers" validate:"required,min=1,dive"`
	SPFIdentifier string         `yaml:"spf_identifier" validate:"required"`
	SPFMechanisms []string       `yaml:"spf_mechanisms" validate:"required,min=1"`
	DKIMSelectors []string       `yaml:"dkim_selectors" validate:"required,min=1"`
}

// DelegateAccess lists the intent conditions that trigger the delegate-access
// recommendation. Each trigger is independently sufficient.
type DelegateAccess struct {
	RecommendIfRegistrarUnknown bool `yaml:"recommend_if_registrar_unknown"`
	RecommendIfUncomfortable    bool `yaml:"recommend_if_uncomfortable_editing_dns"`
}

// PartnerRegistrar identifies the platforms' internal domain partner so the
// engine can surface the partner advisory and suppress delegate access.
type PartnerRegistrar struct {
	NamePattern      string   `yaml:"name_pattern" validate:"required"`
	ExpiredNSList    []string `yaml:"expired_nameservers"`
	AdvisoryWarning  string   `yaml:"advisory_warning" validate:"required"`
	ExpiredNSWarning string   `yaml:"expired_ns_warning" validate:"required"`
}

// DecisionRules carries the connection-option policy knobs.
type DecisionRules struct {
	// Whether an A record sitting where a subdomain CNAME must go blocks
	// completion (conflict) or only warns. Left configurable because the
	// upstream policy was never settled.
	SubdomainAConflictBlocking bool `yaml:"subdomain_a_conflict_blocking"`
}

// Set is the immutable rules configuration.
type Set struct {
	Platforms map[string]Platform `yaml:"platforms" validate:"required,min=1"`
	Email     EmailRules          `yaml:"email_rules"`
	Decision  DecisionRules       `yaml:"decision_rules"`
	Delegate  DelegateAccess      `yaml:"delegate_access"`
	Partner   PartnerRegistrar    `yaml:"partner_registrar"`
	Warnings  map[string]string   `yaml:"warnings"`

	aliasIndex map[string]string
}

// Load reads the rules file at path, or the embedded default when path is
// empty, validates it, and returns the immutable set.
func Load(path string) (*Set, error) {
	data := defaultRules
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read rules file: %w", err)
		}
		data = b
	}
	return Parse(data)
}

// Parse builds a Set from raw YAML. Exposed so tests can run against
// synthetic configurations.
func Parse(data []byte) (*Set, error) {
	var s Set
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}

	v := validator.New()
	if err := v.Struct(&s); err != nil {
		return nil, fmt.Errorf("invalid rules: %w", err)
	}

	s.aliasIndex = make(map[string]string)
	for key, p := range s.Platforms {
		if p.ID == "" {
			p.ID = key
		}
		s.aliasIndex[strings.ToLower(key)] = key
		s.aliasIndex[strings.ToLower(p.ID)] = key
		for _, alias := range p.Aliases {
			s.aliasIndex[strings.ToLower(alias)] = key
		}
		s.Platforms[key] = p
	}
	return &s, nil
}

// Platform resolves a platform by id or alias, case-insensitive.
func (s *Set) Platform(id string) (Platform, bool) {
	key, ok := s.aliasIndex[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return Platform{}, false
	}
	return s.Platforms[key], true
}

// PlatformIDs returns the canonical platform keys, for error messages.
func (s *Set) PlatformIDs() []string {
	ids := make([]string, 0, len(s.Platforms))
	for key := range s.Platforms {
		ids = append(ids, key)
	}
	return ids
}

// Warning returns a configured warning text, or empty when absent.
func (s *Set) Warning(key string) string {
	return s.Warnings[key]
}

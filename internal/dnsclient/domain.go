// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.
package dnsclient

import (
	"regexp"
	"strings"

	"golang.org/x/net/idna"
)

const maxDomainLength = 253

var (
	labelRegex = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)
	tldRegex   = regexp.MustCompile(`^[a-zA-Z]{2,}$`)
	asciiRegex = regexp.MustCompile(`^[a-zA-Z0-9.-]+$`)
)

// Internal and private-range names are rejected before any query is issued so
// the resolver can never be pointed at infrastructure targets.
var blockedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\.local$`),
	regexp.MustCompile(`(?i)\.internal$`),
	regexp.MustCompile(`(?i)\.corp$`),
	regexp.MustCompile(`(?i)\.intranet$`),
	regexp.MustCompile(`(?i)\.home$`),
	regexp.MustCompile(`(?i)\.lan$`),
	regexp.MustCompile(`(?i)^localhost$`),
	regexp.MustCompile(`^127\.`),
	regexp.MustCompile(`^10\.`),
	regexp.MustCompile(`^192\.168\.`),
	regexp.MustCompile(`^172\.(1[6-9]|2[0-9]|3[0-1])\.`),
	regexp.MustCompile(`^0\.`),
	regexp.MustCompile(`^169\.254\.`),
	regexp.MustCompile(`(?i)^::1$`),
	regexp.MustCompile(`(?i)^fc00:`),
	regexp.MustCompile(`(?i)^fe80:`),
}

// DomainToASCII maps an internationalized domain to its ASCII (punycode)
// form. Plain ASCII names that trip the IDNA profile (underscore prefixes,
// odd labels) fall back to manual label checks.
func DomainToASCII(domain string) (string, error) {
	domain = strings.TrimSpace(domain)
	domain = strings.TrimRight(domain, ".")

	p := idna.New(idna.MapForLookup(), idna.Transitional(false))
	ascii, err := p.ToASCII(domain)
	if err != nil {
		if asciiRegex.MatchString(domain) {
			for _, label := range strings.Split(domain, ".") {
				if label == "" || len(label) > 63 || strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
					return "", err
				}
			}
			return domain, nil
		}
		return "", err
	}
	return ascii, nil
}

// ValidateDomain reports whether domain is an RFC-1035-shaped public
// hostname. Internal TLDs, private address literals, and malformed labels are
// all rejected here, before the first query.
func ValidateDomain(domain string) bool {
	domain = strings.TrimSpace(strings.TrimRight(domain, "."))
	if domain == "" || len(domain) > maxDomainLength {
		return false
	}

	if IsBlockedDomain(domain) {
		return false
	}

	ascii, err := DomainToASCII(domain)
	if err != nil {
		return false
	}

	if strings.Contains(ascii, "..") || strings.HasPrefix(ascii, ".") || strings.HasPrefix(ascii, "-") {
		return false
	}

	labels := strings.Split(ascii, ".")
	if len(labels) < 2 {
		return false
	}

	if !validateLabels(labels) {
		return false
	}

	return validateTLD(labels[len(labels)-1])
}

// IsBlockedDomain reports whether the name matches an internal or
// private-range pattern.
func IsBlockedDomain(domain string) bool {
	lower := strings.ToLower(strings.TrimSpace(domain))
	for _, pat := range blockedPatterns {
		if pat.MatchString(lower) {
			return true
		}
	}
	return false
}

func validateLabels(labels []string) bool {
	for _, label := range labels {
		if label == "" || len(label) > 63 {
			return false
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return false
		}
		if !labelRegex.MatchString(label) {
			return false
		}
	}
	return true
}

func validateTLD(tld string) bool {
	return tldRegex.MatchString(tld) || strings.HasPrefix(tld, "xn--")
}

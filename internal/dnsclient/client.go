// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.
package dnsclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"codeberg.org/miekg/dns"
	"codeberg.org/miekg/dns/dnsutil"

	"github.com/ColinMcArthur85/dns-diagnostic/internal/models"
	"github.com/ColinMcArthur85/dns-diagnostic/internal/telemetry"
)

type ResolverConfig struct {
	Name string
	IP   string
}

var DefaultResolvers = []ResolverConfig{
	{Name: "Cloudflare", IP: "1.1.1.1"},
	{Name: "Google", IP: "8.8.8.8"},
}

const (
	// Per-query timeout and whole-snapshot lifetime. The lifetime is
	// enforced by the caller's context; the client only guarantees no
	// single query outlives the timeout.
	DefaultTimeout  = 5 * time.Second
	DefaultLifetime = 15 * time.Second

	// Record lists are capped to keep adversarial zones from exhausting
	// memory. Exceeding the cap sets Truncated, never an error.
	MaxRecordsPerType = 100

	// CNAME chains are followed manually; past this depth we assume a loop.
	CNAMEDepthLimit = 5
)

// WarnCNAMEDepth is attached to a record set when chain resolution hit the
// depth limit without terminating.
const WarnCNAMEDepth = "loop_or_depth_limit"

type Client struct {
	resolvers []ResolverConfig
	timeout   time.Duration
	telemetry *telemetry.Registry
}

type Option func(*Client)

func WithResolvers(r []ResolverConfig) Option {
	return func(c *Client) { c.resolvers = r }
}

func WithTimeout(t time.Duration) Option {
	return func(c *Client) { c.timeout = t }
}

func WithTelemetry(reg *telemetry.Registry) Option {
	return func(c *Client) { c.telemetry = reg }
}

func New(opts ...Option) *Client {
	c := &Client{
		resolvers: DefaultResolvers,
		timeout:   DefaultTimeout,
		telemetry: telemetry.NewRegistry(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Telemetry exposes the endpoint health registry for the health handler.
func (c *Client) Telemetry() *telemetry.Registry {
	return c.telemetry
}

func dnsTypeFromString(recordType string) (uint16, error) {
	switch strings.ToUpper(recordType) {
	case "A":
		return dns.TypeA, nil
	case "AAAA":
		return dns.TypeAAAA, nil
	case "MX":
		return dns.TypeMX, nil
	case "TXT":
		return dns.TypeTXT, nil
	case "NS":
		return dns.TypeNS, nil
	case "CNAME":
		return dns.TypeCNAME, nil
	case "SOA":
		return dns.TypeSOA, nil
	default:
		return 0, fmt.Errorf("unsupported record type: %s", recordType)
	}
}

func rrToEntry(rr dns.RR, recordType, host string) (models.RecordEntry, bool) {
	entry := models.RecordEntry{
		Type: strings.ToUpper(recordType),
		Host: host,
		TTL:  rr.Header().TTL,
	}
	switch v := rr.(type) {
	case *dns.A:
		entry.Value = v.A.Addr.String()
	case *dns.AAAA:
		entry.Value = v.AAAA.Addr.String()
	case *dns.MX:
		entry.Value = strings.TrimSuffix(v.MX.Mx, ".")
		entry.Priority = v.MX.Preference
	case *dns.TXT:
		entry.Value = strings.Join(v.TXT.Txt, "")
	case *dns.NS:
		entry.Value = strings.TrimSuffix(v.NS.Ns, ".")
	case *dns.CNAME:
		entry.Value = strings.TrimSuffix(v.CNAME.Target, ".")
	case *dns.SOA:
		entry.Value = fmt.Sprintf("%s %s %d %d %d %d %d", v.SOA.Ns, v.SOA.Mbox, v.SOA.Serial, v.SOA.Refresh, v.SOA.Retry, v.SOA.Expire, v.SOA.Minttl)
	default:
		hdr := rr.Header()
		full := rr.String()
		entry.Value = strings.TrimSpace(strings.TrimPrefix(full, hdr.String()))
	}
	if entry.Value == "" {
		return entry, false
	}
	return entry, true
}

// Query issues one bounded query for a record type. On a per-query timeout it
// retries exactly once against the next resolver endpoint before giving up on
// that record type. The returned RecordSet carries the per-type error kind
// (timeout, servfail, nxdomain, no_answer) instead of a Go error so one bad
// type never aborts a diagnosis.
func (c *Client) Query(ctx context.Context, recordType, host string) *models.RecordSet {
	qtype, err := dnsTypeFromString(recordType)
	if err != nil {
		return &models.RecordSet{Error: models.ErrNoAnswer, Warning: err.Error()}
	}

	rs, retriable := c.queryResolver(ctx, qtype, recordType, host, c.resolvers[0])
	if retriable && len(c.resolvers) > 1 {
		if ctx.Err() != nil {
			return rs
		}
		rs, _ = c.queryResolver(ctx, qtype, recordType, host, c.resolvers[1])
	}
	return rs
}

// queryResolver runs a single exchange. The bool result reports whether the
// failure is worth one retry on the fallback resolver (timeouts only; an
// authoritative NXDOMAIN or empty answer is the same everywhere).
func (c *Client) queryResolver(ctx context.Context, qtype uint16, recordType, host string, resolver ResolverConfig) (*models.RecordSet, bool) {
	fqdn := dnsutil.Fqdn(host)
	msg := dns.NewMsg(fqdn, qtype)
	msg.RecursionDesired = true

	client := newDNSClient(c.timeout)
	endpoint := "resolver:" + resolver.Name

	qctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	r, _, err := client.Exchange(qctx, msg, "udp", net.JoinHostPort(resolver.IP, "53"))
	if err != nil {
		if isTimeout(err) {
			c.telemetry.RecordFailure(endpoint, "timeout")
			slog.Debug("DNS query timed out", "resolver", resolver.Name, "record_type", recordType)
			return &models.RecordSet{Error: models.ErrTimeout}, true
		}
		c.telemetry.RecordFailure(endpoint, err.Error())
		return &models.RecordSet{Error: models.ErrServfail}, false
	}
	c.telemetry.RecordSuccess(endpoint, time.Since(start))

	switch r.Rcode {
	case dns.RcodeNameError:
		return &models.RecordSet{Error: models.ErrNXDomain}, false
	case dns.RcodeServerFailure:
		return &models.RecordSet{Error: models.ErrServfail}, false
	}

	rs := &models.RecordSet{}
	for _, rr := range r.Answer {
		if dns.RRToType(rr) != qtype {
			// Resolvers prepend the CNAME chain to A answers; those
			// entries belong to the CNAME section, not this one.
			continue
		}
		if len(rs.Records) >= MaxRecordsPerType {
			rs.Truncated = true
			slog.Warn("DNS response truncated", "record_type", recordType, "limit", MaxRecordsPerType)
			break
		}
		if entry, ok := rrToEntry(rr, recordType, host); ok {
			rs.Records = append(rs.Records, entry)
		}
	}

	if len(rs.Records) == 0 && !rs.Truncated {
		rs.Error = models.ErrNoAnswer
	}
	return rs, false
}

// ResolveCNAMEChain follows CNAMEs from host up to the depth limit and
// returns the final target plus the chain walked. Hitting the limit returns
// the partial chain with ok=false; the caller records a warning, never an
// error, so resolution loops cannot block a diagnosis.
func (c *Client) ResolveCNAMEChain(ctx context.Context, host string) (target string, chain []string, ok bool) {
	current := host
	for depth := 0; depth < CNAMEDepthLimit; depth++ {
		rs := c.Query(ctx, "CNAME", current)
		if rs.Error != "" || len(rs.Records) == 0 {
			return current, chain, true
		}
		next := strings.TrimSuffix(rs.Records[0].Value, ".")
		if next == "" || next == current {
			return current, chain, true
		}
		chain = append(chain, next)
		current = next
	}
	slog.Warn("CNAME chain depth limit reached", "depth", CNAMEDepthLimit)
	return current, chain, false
}

func newDNSClient(timeout time.Duration) *dns.Client {
	return &dns.Client{
		Transport: &dns.Transport{
			Dialer: &net.Dialer{
				Timeout: timeout,
			},
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		},
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

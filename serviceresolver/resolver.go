package serviceresolver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cloudenroll/policy-enrollment-backend/interfaces"
	"github.com/miekg/dns"
)

const (
	// DefaultResolverAddr queries the local stub resolver.
	DefaultResolverAddr = "127.0.0.53:53"

	// DefaultPort is assumed for endpoints discovered through plain host
	// lookups, which carry no port information.
	DefaultPort = 8443

	// srvService is the SRV label policy servers advertise under.
	srvService = "_policy._tcp."
)

// exchanger is the single DNS round trip the resolver needs. *dns.Client
// implements it.
type exchanger interface {
	ExchangeContext(ctx context.Context, m *dns.Msg, addr string) (*dns.Msg, time.Duration, error)
}

// Candidate is one discovered policy server endpoint.
type Candidate struct {
	Host     string
	Port     uint16
	Priority uint16
	Weight   uint16
}

// BaseURL renders the candidate as an HTTPS base URL.
func (c Candidate) BaseURL() string {
	return fmt.Sprintf("https://%s", net.JoinHostPort(c.Host, strconv.Itoa(int(c.Port))))
}

// Resolver discovers policy server endpoints for managed domains.
type Resolver struct {
	client exchanger
	server string
	log    *slog.Logger
}

// NewResolver creates a resolver querying resolverAddr, or the local stub
// resolver when resolverAddr is empty.
func NewResolver(resolverAddr string, log *slog.Logger) *Resolver {
	if resolverAddr == "" {
		resolverAddr = DefaultResolverAddr
	}
	return &Resolver{
		client: new(dns.Client),
		server: resolverAddr,
		log:    log,
	}
}

// ResolveDMServers discovers the policy server base URLs serving a domain,
// ordered the way clients should try them. SRV records under
// _policy._tcp.<domain> are preferred; when none exist the fallback is a
// plain host lookup of policy.<domain> on the default port.
func (r *Resolver) ResolveDMServers(ctx context.Context, domain interfaces.Domain) ([]string, error) {
	candidates, err := r.lookupSRV(ctx, domain)
	if err != nil {
		r.log.Debug("srv lookup failed, falling back to host lookup",
			slog.String("domain", domain.String()), "err", err)
	}

	if len(candidates) == 0 {
		candidates = r.lookupHosts(ctx, "policy."+domain.String())
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no policy service endpoints discovered for %s", domain)
	}

	sortCandidates(candidates)

	urls := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		urls = append(urls, candidate.BaseURL())
	}

	r.log.Debug("discovered policy servers",
		slog.String("domain", domain.String()),
		slog.Int("count", len(urls)))
	return urls, nil
}

func (r *Resolver) lookupSRV(ctx context.Context, domain interfaces.Domain) ([]Candidate, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(srvService+domain.String()), dns.TypeSRV)

	in, _, err := r.client.ExchangeContext(ctx, msg, r.server)
	if err != nil {
		return nil, fmt.Errorf("srv query failed: %w", err)
	}

	return candidatesFromSRV(in.Answer), nil
}

// lookupHosts resolves A and AAAA records for host, producing default-port
// candidates. Individual lookup failures are logged and skipped; discovery
// reports one error for the whole resolution instead.
func (r *Resolver) lookupHosts(ctx context.Context, host string) []Candidate {
	var candidates []Candidate
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(host), qtype)

		in, _, err := r.client.ExchangeContext(ctx, msg, r.server)
		if err != nil {
			r.log.Debug("host lookup failed", slog.String("host", host), "err", err)
			continue
		}
		candidates = append(candidates, candidatesFromHosts(in.Answer)...)
	}
	return candidates
}

// candidatesFromSRV extracts endpoint candidates from SRV answers. A target
// of "." marks the service as unavailable and is skipped.
func candidatesFromSRV(answers []dns.RR) []Candidate {
	candidates := make([]Candidate, 0, len(answers))
	for _, answer := range answers {
		srv, ok := answer.(*dns.SRV)
		if !ok {
			continue
		}
		host := strings.TrimSuffix(srv.Target, ".")
		if host == "" {
			continue
		}
		candidates = append(candidates, Candidate{
			Host:     host,
			Port:     srv.Port,
			Priority: srv.Priority,
			Weight:   srv.Weight,
		})
	}
	return candidates
}

// candidatesFromHosts extracts default-port candidates from A and AAAA
// answers.
func candidatesFromHosts(answers []dns.RR) []Candidate {
	var candidates []Candidate
	for _, answer := range answers {
		switch rr := answer.(type) {
		case *dns.A:
			candidates = append(candidates, Candidate{Host: rr.A.String(), Port: DefaultPort})
		case *dns.AAAA:
			candidates = append(candidates, Candidate{Host: rr.AAAA.String(), Port: DefaultPort})
		}
	}
	return candidates
}

// sortCandidates orders candidates lowest priority first, highest weight
// first within a priority.
func sortCandidates(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		return candidates[i].Weight > candidates[j].Weight
	})
}

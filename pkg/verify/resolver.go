package verify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/tendant/nodeclaim/pkg/domain"
)

// DefaultDNSTimeout bounds a single DNS exchange.
const DefaultDNSTimeout = 5 * time.Second

// errNoRecords reports an authoritative "nothing here" answer (NXDOMAIN or an
// empty answer section). It is distinct from resolver failure.
var errNoRecords = errors.New("no records")

// Resolver looks up the records the DNS method depends on.
type Resolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
	LookupIP(ctx context.Context, name string) ([]net.IP, error)
}

// DNSResolver queries a fixed list of recursive nameservers directly.
type DNSResolver struct {
	udp     *dns.Client
	tcp     *dns.Client
	servers []string
	timeout time.Duration
}

// NewDNSResolver creates a resolver for servers ("host:port"). With no servers
// it reads /etc/resolv.conf.
func NewDNSResolver(servers []string, timeout time.Duration) (*DNSResolver, error) {
	if timeout <= 0 {
		timeout = DefaultDNSTimeout
	}

	if len(servers) == 0 {
		conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
		if err != nil {
			return nil, fmt.Errorf("no DNS servers configured and resolv.conf unreadable: %w", err)
		}
		for _, s := range conf.Servers {
			servers = append(servers, net.JoinHostPort(s, conf.Port))
		}
	}
	if len(servers) == 0 {
		return nil, errors.New("no DNS servers available")
	}

	return &DNSResolver{
		udp:     &dns.Client{Net: "udp", Timeout: timeout},
		tcp:     &dns.Client{Net: "tcp", Timeout: timeout},
		servers: servers,
		timeout: timeout,
	}, nil
}

// LookupTXT returns every TXT string for name, with multi-segment records joined.
func (r *DNSResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	answers, err := r.query(ctx, name, dns.TypeTXT)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, rr := range answers {
		if txt, ok := rr.(*dns.TXT); ok {
			out = append(out, strings.Join(txt.Txt, ""))
		}
	}
	if len(out) == 0 {
		return nil, errNoRecords
	}
	return out, nil
}

// LookupIP returns the A and AAAA addresses of name, following whatever CNAME
// chain the recursive server includes in its answer.
func (r *DNSResolver) LookupIP(ctx context.Context, name string) ([]net.IP, error) {
	var ips []net.IP
	var firstErr error

	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		answers, err := r.query(ctx, name, qtype)
		if err != nil {
			if firstErr == nil || errors.Is(firstErr, errNoRecords) {
				firstErr = err
			}
			continue
		}
		for _, rr := range answers {
			switch v := rr.(type) {
			case *dns.A:
				ips = append(ips, v.A)
			case *dns.AAAA:
				ips = append(ips, v.AAAA)
			}
		}
	}

	if len(ips) > 0 {
		return ips, nil
	}
	if firstErr == nil {
		firstErr = errNoRecords
	}
	return nil, firstErr
}

func (r *DNSResolver) query(ctx context.Context, name string, qtype uint16) ([]dns.RR, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.RecursionDesired = true

	var lastErr error
	for _, server := range r.servers {
		ctx, cancel := context.WithTimeout(ctx, r.timeout)
		in, _, err := r.udp.ExchangeContext(ctx, msg, server)
		if err == nil && in.Truncated {
			in, _, err = r.tcp.ExchangeContext(ctx, msg, server)
		}
		cancel()

		if err != nil {
			lastErr = fmt.Errorf("%s: %w", server, err)
			continue
		}

		switch in.Rcode {
		case dns.RcodeSuccess:
			if len(in.Answer) == 0 {
				return nil, errNoRecords
			}
			return in.Answer, nil
		case dns.RcodeNameError:
			return nil, errNoRecords
		default:
			lastErr = fmt.Errorf("%s: %s", server, dns.RcodeToString[in.Rcode])
		}
	}
	return nil, fmt.Errorf("%w: %v", domain.ErrResolverUnavailable, lastErr)
}

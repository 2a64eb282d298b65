package payments

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/net/publicsuffix"
)

// Decision tells the embedded browsing surface what to do with a navigation.
type Decision string

const (
	// DecisionContinue lets the page keep loading. Intermediate gateway
	// callbacks must continue so the payment backend can settle them.
	DecisionContinue Decision = "continue"
	// DecisionTerminal is returned exactly once, for the first navigation to
	// the application's result endpoint.
	DecisionTerminal Decision = "terminal"
	// DecisionIgnored marks later result-endpoint matches.
	DecisionIgnored Decision = "ignored"
)

// Observation is the observer's reading of one navigation event.
type Observation struct {
	Decision Decision
	URL      *url.URL
	// GatewayCallback is set for continue decisions that land on the
	// gateway's own domain with query parameters.
	GatewayCallback bool
}

// Observer watches navigation during one payment attempt. Events may arrive
// from several paths (page-load and state-change hooks); only the first
// result-endpoint match is terminal.
type Observer struct {
	result        *url.URL
	gatewayDomain string

	mu    sync.Mutex
	fired bool
}

// NewObserver binds an observer to the result endpoint. initiationURL is the
// gateway URL the attempt started at and identifies gateway-domain callbacks.
func NewObserver(resultEndpoint, initiationURL string) (*Observer, error) {
	result, err := url.Parse(strings.TrimSpace(resultEndpoint))
	if err != nil || result.Scheme == "" || result.Host == "" {
		return nil, fmt.Errorf("payments: result endpoint must be an absolute URL: %q", resultEndpoint)
	}
	o := &Observer{result: result}
	if init, err := url.Parse(strings.TrimSpace(initiationURL)); err == nil && init.Host != "" {
		o.gatewayDomain = registrableDomain(init.Hostname())
	}
	return o, nil
}

// Observe classifies one navigation. Unparseable URLs continue.
func (o *Observer) Observe(raw string) Observation {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return Observation{Decision: DecisionContinue}
	}
	if !o.IsResultEndpoint(u) {
		return Observation{
			Decision:        DecisionContinue,
			URL:             u,
			GatewayCallback: o.gatewayDomain != "" && u.RawQuery != "" && registrableDomain(u.Hostname()) == o.gatewayDomain,
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fired {
		return Observation{Decision: DecisionIgnored, URL: u}
	}
	o.fired = true
	return Observation{Decision: DecisionTerminal, URL: u}
}

// Fired reports whether the terminal transition already happened.
func (o *Observer) Fired() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fired
}

// IsResultEndpoint matches scheme, host, port and path; query and fragment
// are ignored.
func (o *Observer) IsResultEndpoint(u *url.URL) bool {
	if u == nil {
		return false
	}
	if !strings.EqualFold(u.Scheme, o.result.Scheme) {
		return false
	}
	if !strings.EqualFold(u.Hostname(), o.result.Hostname()) {
		return false
	}
	if effectivePort(u) != effectivePort(o.result) {
		return false
	}
	return cleanPath(u.Path) == cleanPath(o.result.Path)
}

func effectivePort(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		return "443"
	case "http":
		return "80"
	}
	return ""
}

func cleanPath(p string) string {
	p = strings.TrimRight(p, "/")
	if p == "" {
		return "/"
	}
	return p
}

// registrableDomain returns eTLD+1, or the bare host for IPs and single-label
// hosts like localhost.
func registrableDomain(host string) string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "" || net.ParseIP(host) != nil {
		return host
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}

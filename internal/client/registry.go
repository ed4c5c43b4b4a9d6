package client

import (
	"net/url"
	"strings"
	"sync"
)

// Registry holds the live gateways, at most one per distinct host. It is
// owned by the application context rather than being process-global.
type Registry struct {
	mu       sync.Mutex
	gateways map[string]*Gateway
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{gateways: make(map[string]*Gateway)}
}

// NormalizeHost canonicalizes a host URI for registry keying: lowercased
// scheme and host, no trailing slash, no path.
func NormalizeHost(host string) string {
	u, err := url.Parse(strings.TrimSpace(host))
	if err != nil || u.Host == "" {
		return strings.TrimRight(strings.ToLower(strings.TrimSpace(host)), "/")
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

// Get returns the live gateway for a host, or nil.
func (r *Registry) Get(host string) *Gateway {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gateways[NormalizeHost(host)]
}

// Hosts lists the hosts with a live gateway.
func (r *Registry) Hosts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.gateways))
	for h := range r.gateways {
		out = append(out, h)
	}
	return out
}

// addIfAbsent registers g unless the host already has a live gateway, in
// which case the existing one wins and g is not registered. The check and
// the insert happen under one lock so concurrent connects to the same host
// cannot both register.
func (r *Registry) addIfAbsent(g *Gateway) (*Gateway, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing := r.gateways[g.host]; existing != nil {
		return existing, false
	}
	r.gateways[g.host] = g
	return g, true
}

func (r *Registry) remove(g *Gateway) {
	r.mu.Lock()
	if r.gateways[g.host] == g {
		delete(r.gateways, g.host)
	}
	r.mu.Unlock()
}

// CloseAll tears down every live gateway.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	gateways := make([]*Gateway, 0, len(r.gateways))
	for _, g := range r.gateways {
		gateways = append(gateways, g)
	}
	r.mu.Unlock()
	for _, g := range gateways {
		g.Close()
	}
}

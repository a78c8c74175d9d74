// Package identity models external sign-in providers as variants behind a
// single exchange contract, registered by name instead of hard-wired per
// provider.
package identity

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Profile is the raw claim set handed over by an external provider after its
// own verification step.
type Profile map[string]string

// Identity is the normalized result of a provider exchange.
type Identity struct {
	Email       string
	DisplayName string
	AvatarURL   string
}

// Provider converts a provider-specific profile into a normalized identity.
type Provider interface {
	Exchange(ctx context.Context, profile Profile) (Identity, error)
}

// Registry holds named providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry returns an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds or replaces a provider under the given name.
func (r *Registry) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

// Exchange dispatches to the named provider.
func (r *Registry) Exchange(ctx context.Context, name string, profile Profile) (Identity, error) {
	r.mu.RLock()
	p, ok := r.providers[name]
	r.mu.RUnlock()
	if !ok {
		return Identity{}, fmt.Errorf("unknown identity provider %q", name)
	}
	return p.Exchange(ctx, profile)
}

// Names lists the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ClaimMapper is a Provider that reads fixed claim keys from the profile.
// Most OAuth providers differ only in which claim carries which field.
type ClaimMapper struct {
	EmailClaim  string
	NameClaim   string
	AvatarClaim string
}

func (m ClaimMapper) Exchange(_ context.Context, profile Profile) (Identity, error) {
	email := profile[m.EmailClaim]
	if email == "" {
		return Identity{}, fmt.Errorf("profile is missing the %q claim", m.EmailClaim)
	}
	return Identity{
		Email:       email,
		DisplayName: profile[m.NameClaim],
		AvatarURL:   profile[m.AvatarClaim],
	}, nil
}

// DefaultRegistry registers the stock providers under their usual claim
// layouts.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("google", ClaimMapper{EmailClaim: "email", NameClaim: "name", AvatarClaim: "picture"})
	r.Register("github", ClaimMapper{EmailClaim: "email", NameClaim: "login", AvatarClaim: "avatar_url"})
	r.Register("facebook", ClaimMapper{EmailClaim: "email", NameClaim: "name", AvatarClaim: "picture"})
	return r
}

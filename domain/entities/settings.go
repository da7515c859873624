package entities

import (
	"fmt"
	"slices"
)

// LappSettings is the durable per-lapp configuration. It is the single
// source of truth for the capabilities a freshly loaded instance
// receives; a running instance keeps whatever it was instantiated with
// until the next unload/load cycle.
type LappSettings struct {
	Application ApplicationSettings `yaml:"application" json:"application"`
	Permissions PermissionsSettings `yaml:"permissions,omitempty" json:"permissions,omitempty"`
	Database    DatabaseSettings    `yaml:"database,omitempty" json:"database,omitempty"`
	Network     NetworkSettings     `yaml:"network,omitempty" json:"network,omitempty"`
}

// ApplicationSettings carries display metadata and the enabled flag.
// Enabled is orthogonal to load state: it gates automatic loading and
// dispatch, never the presence of a live instance.
type ApplicationSettings struct {
	Title   string `yaml:"title,omitempty" json:"title,omitempty"`
	Enabled bool   `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// PermissionsSettings is the capability declaration: required is fixed
// by the lapp author at package time, allowed is toggled at runtime by
// an administrator. Invariant: allowed is always a subset of required.
type PermissionsSettings struct {
	Required []Permission `yaml:"required,omitempty" json:"required,omitempty"`
	Allowed  []Permission `yaml:"allowed,omitempty" json:"allowed,omitempty"`
}

// DatabaseSettings names the lapp's SQLite database file. A relative
// path is resolved against the lapp's root directory.
type DatabaseSettings struct {
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
}

// NetworkSettings configures the lapp's outbound network access.
type NetworkSettings struct {
	HTTP HTTPSettings `yaml:"http,omitempty" json:"http,omitempty"`
}

// HTTPSettings bounds the invoke_http host function. AllowedHosts
// holds doublestar glob patterns matched against the request hostname;
// an empty list allows any host.
type HTTPSettings struct {
	TimeoutMs    int      `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitempty"`
	MaxBodyBytes int64    `yaml:"max_body_bytes,omitempty" json:"max_body_bytes,omitempty"`
	AllowedHosts []string `yaml:"allowed_hosts,omitempty" json:"allowed_hosts,omitempty"`
}

// IsRequired reports whether the lapp author declared p.
func (p *PermissionsSettings) IsRequired(perm Permission) bool {
	return slices.Contains(p.Required, perm)
}

// IsAllowed reports whether an administrator has granted p.
func (p *PermissionsSettings) IsAllowed(perm Permission) bool {
	return slices.Contains(p.Allowed, perm)
}

// Allow grants perm and reports whether the allowed set changed.
// Granting a permission that is not required is rejected as a no-op:
// the allowed set stays a subset of the required set.
func (p *PermissionsSettings) Allow(perm Permission) bool {
	if !p.IsRequired(perm) || p.IsAllowed(perm) {
		return false
	}
	p.Allowed = append(p.Allowed, perm)
	sortPermissions(p.Allowed)
	return true
}

// Deny revokes perm and reports whether the allowed set changed.
func (p *PermissionsSettings) Deny(perm Permission) bool {
	i := slices.Index(p.Allowed, perm)
	if i < 0 {
		return false
	}
	p.Allowed = slices.Delete(p.Allowed, i, i+1)
	return true
}

// Validate checks that every listed permission is a member of the
// closed set and that allowed ⊆ required.
func (p *PermissionsSettings) Validate() error {
	for _, perm := range p.Required {
		if !perm.Valid() {
			return fmt.Errorf("required permission %q is unknown", perm)
		}
	}
	for _, perm := range p.Allowed {
		if !perm.Valid() {
			return fmt.Errorf("allowed permission %q is unknown", perm)
		}
		if !p.IsRequired(perm) {
			return fmt.Errorf("allowed permission %q is not required", perm)
		}
	}
	return nil
}

// Validate checks the whole settings document.
func (s *LappSettings) Validate() error {
	if err := s.Permissions.Validate(); err != nil {
		return fmt.Errorf("permissions: %w", err)
	}
	if s.Network.HTTP.TimeoutMs < 0 {
		return fmt.Errorf("network.http.timeout_ms must not be negative")
	}
	if s.Network.HTTP.MaxBodyBytes < 0 {
		return fmt.Errorf("network.http.max_body_bytes must not be negative")
	}
	return nil
}

package service

import (
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"fabtrack.io/tracker/internal/domain"
)

// FanoutRule lists the rooms, beyond the entity room, that receive an event.
type FanoutRule struct {
	Roles  []domain.Role `yaml:"roles"`
	Global bool          `yaml:"global"`
}

// Policy is the data-driven part of status handling: the vocabulary, which
// roles may update which category, and who hears about it.
type Policy struct {
	Vocabulary  Vocabulary                               `yaml:"vocabulary"`
	Permissions map[domain.StatusCategory][]domain.Role `yaml:"permissions"`
	Fanout      map[domain.EventType]FanoutRule          `yaml:"fanout"`
	// CompletionNotify lists the roles notified when a project completes.
	CompletionNotify []domain.Role `yaml:"completion_notify"`
}

// DefaultPolicy returns the built-in policy.
func DefaultPolicy() *Policy {
	return &Policy{
		Vocabulary: DefaultVocabulary(),
		Permissions: map[domain.StatusCategory][]domain.Role{
			domain.CategoryOrder:    {domain.RoleAdmin, domain.RolePM},
			domain.CategoryPickup:   {domain.RoleAdmin, domain.RoleWarehouse},
			domain.CategoryDelivery: {domain.RoleAdmin, domain.RoleWarehouse},
			domain.CategoryCheck:    {domain.RoleAdmin, domain.RolePM},
		},
		Fanout: map[domain.EventType]FanoutRule{
			domain.EventStatusUpdated:  {Roles: []domain.Role{domain.RoleWarehouse, domain.RoleAdmin}},
			domain.EventProjectUpdated: {Global: true},
			domain.EventStatusCreated:  {Global: true},
			domain.EventStatusDeleted:  {Global: true},
		},
		CompletionNotify: []domain.Role{domain.RolePM, domain.RoleAdmin},
	}
}

// ParsePolicy decodes YAML over the default policy. Each category or event
// type named in the document replaces the default entry for that key; keys
// not named keep their defaults.
func ParsePolicy(data []byte) (*Policy, error) {
	p := DefaultPolicy()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}
	if err := p.Check(); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadPolicy reads a policy file. An empty path yields the default policy.
func LoadPolicy(path string) (*Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return ParsePolicy(data)
}

// Check reports inconsistencies in the policy.
func (p *Policy) Check() error {
	if err := p.Vocabulary.Check(); err != nil {
		return err
	}
	for cat, roles := range p.Permissions {
		if !cat.Valid() {
			return fmt.Errorf("permissions name unknown category %q", cat)
		}
		for _, r := range roles {
			if !r.Valid() {
				return fmt.Errorf("permissions for %s name unknown role %q", cat, r)
			}
		}
	}
	for t, rule := range p.Fanout {
		if !t.Known() {
			return fmt.Errorf("fanout names unknown event type %q", t)
		}
		for _, r := range rule.Roles {
			if !r.Valid() {
				return fmt.Errorf("fanout for %s names unknown role %q", t, r)
			}
		}
	}
	return nil
}

// IsAuthorized reports whether role may update category.
func (p *Policy) IsAuthorized(role domain.Role, category domain.StatusCategory) bool {
	return slices.Contains(p.Permissions[category], role)
}

// FanoutFor returns the fan-out rule for an event type. Unlisted types reach
// the entity room only.
func (p *Policy) FanoutFor(t domain.EventType) FanoutRule {
	return p.Fanout[t]
}

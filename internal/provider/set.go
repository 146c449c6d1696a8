package provider

import (
	"fmt"
	"sort"

	"github.com/Foodshareclub/foodshare-web-sub000/internal/domain"
)

// Set is the static, priority-ordered list of configured providers and
// their transport adapters.
type Set struct {
	configs    []domain.Provider
	byID       map[domain.ProviderID]domain.Provider
	transports map[domain.ProviderID]Provider
}

func NewSet(configs []domain.Provider, transports map[domain.ProviderID]Provider) (*Set, error) {
	if len(configs) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}

	ordered := make([]domain.Provider, len(configs))
	copy(ordered, configs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	byID := make(map[domain.ProviderID]domain.Provider, len(ordered))
	for _, cfg := range ordered {
		if _, dup := byID[cfg.ID]; dup {
			return nil, fmt.Errorf("duplicate provider %q", cfg.ID)
		}
		if transports[cfg.ID] == nil {
			return nil, fmt.Errorf("provider %q has no transport", cfg.ID)
		}
		byID[cfg.ID] = cfg
	}

	return &Set{
		configs:    ordered,
		byID:       byID,
		transports: transports,
	}, nil
}

// Configs returns providers in static priority order.
func (s *Set) Configs() []domain.Provider {
	out := make([]domain.Provider, len(s.configs))
	copy(out, s.configs)
	return out
}

func (s *Set) Config(id domain.ProviderID) (domain.Provider, bool) {
	cfg, ok := s.byID[id]
	return cfg, ok
}

func (s *Set) Transport(id domain.ProviderID) (Provider, bool) {
	p, ok := s.transports[id]
	return p, ok
}

package models

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/zhenhua32/mindformers/internal/api"
	"github.com/zhenhua32/mindformers/internal/logger"
)

// Registry holds the catalog of trainable models.
//
// The registry supports concurrent readers through an RWMutex. Cards
// are registered at init time by the family subpackages and looked up
// by the launch, convert, and show commands as well as the monitor's
// models endpoint.
type Registry struct {
	mu    sync.RWMutex
	cards map[string]*Card
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{cards: make(map[string]*Card)}
}

// Register adds a card, replacing any existing card with the same id.
// Invalid cards are rejected.
func (r *Registry) Register(c *Card) error {
	if c == nil {
		return fmt.Errorf("card cannot be nil")
	}
	if err := c.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cards[c.ID] = c
	return nil
}

// Get looks a card up by id. Lookup tolerates the common dash-for-
// underscore typo, so "llama-7b" finds "llama_7b".
func (r *Registry) Get(id string) (*Card, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if c, ok := r.cards[id]; ok {
		return c, nil
	}
	if c, ok := r.cards[strings.ReplaceAll(id, "-", "_")]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("model %s not found (try: %s)", id, strings.Join(r.idsLocked(), ", "))
}

// List returns every card sorted by family, then by id.
func (r *Registry) List() []*Card {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cards := make([]*Card, 0, len(r.cards))
	for _, c := range r.cards {
		cards = append(cards, c)
	}
	sort.Slice(cards, func(i, k int) bool {
		if cards[i].Family != cards[k].Family {
			return cards[i].Family < cards[k].Family
		}
		return cards[i].ID < cards[k].ID
	})
	return cards
}

// Infos projects every card into its API form, same order as List.
func (r *Registry) Infos() []api.ModelInfo {
	cards := r.List()
	infos := make([]api.ModelInfo, len(cards))
	for i, c := range cards {
		infos[i] = c.Info()
	}
	return infos
}

// Families returns the distinct family names, sorted.
func (r *Registry) Families() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var families []string
	for _, c := range r.cards {
		if !seen[c.Family] {
			seen[c.Family] = true
			families = append(families, c.Family)
		}
	}
	sort.Strings(families)
	return families
}

// idsLocked returns all ids sorted. Caller holds at least RLock.
func (r *Registry) idsLocked() []string {
	ids := make([]string, 0, len(r.cards))
	for id := range r.cards {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// defaultRegistry is the package-level singleton the family subpackages
// register into.
var defaultRegistry = NewRegistry()

// Default returns the singleton registry.
func Default() *Registry {
	return defaultRegistry
}

// Register adds a card to the singleton registry. Family subpackages
// call this from init(), so a broken card aborts startup loudly in the
// log rather than surfacing later as a missing model.
func Register(c *Card) {
	if err := defaultRegistry.Register(c); err != nil {
		logger.Error("Rejected model card: %v", err)
		return
	}
	logger.Debug("Registered model %s", c.ID)
}

// Get looks up a card in the singleton registry.
func Get(id string) (*Card, error) {
	return defaultRegistry.Get(id)
}

// List returns the singleton registry's cards.
func List() []*Card {
	return defaultRegistry.List()
}

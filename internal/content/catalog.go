package content

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openskirmish/skirmish-server-go/internal/game/status"
	"github.com/openskirmish/skirmish-server-go/internal/game/targeting"
)

// EffectKind names what a card does when it resolves.
type EffectKind string

const (
	// EffectDamage deals Magnitude damage to each target, absorbed by
	// guard stacks first.
	EffectDamage EffectKind = "DAMAGE"
	// EffectHeal restores Magnitude health to each target, capped at the
	// target's maximum.
	EffectHeal EffectKind = "HEAL"
	// EffectShield grants Magnitude guard stacks to each target.
	EffectShield EffectKind = "SHIELD"
	// EffectStatus applies Stacks stacks of the named Status to each
	// target.
	EffectStatus EffectKind = "STATUS"
)

// Effect is a card's resolved outcome.
type Effect struct {
	Kind      EffectKind `yaml:"kind"`
	Magnitude int        `yaml:"magnitude,omitempty"`
	Status    string     `yaml:"status,omitempty"`
	Stacks    int        `yaml:"stacks,omitempty"`
}

// Target is a card's targeting contract as written in the catalog.
type Target struct {
	Rule       string `yaml:"rule"`
	MaxTargets int    `yaml:"max_targets,omitempty"`
}

// Card is one playable card definition.
type Card struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Initiative int    `yaml:"initiative"`
	Cost       int    `yaml:"cost"`
	Effect     Effect `yaml:"effect"`
	Target     Target `yaml:"target"`
}

// Requirement translates the card's target block into the validator's form.
func (c Card) Requirement() targeting.Requirement {
	return targeting.Requirement{
		Rule:       targeting.Rule(strings.ToUpper(c.Target.Rule)),
		MaxTargets: c.Target.MaxTargets,
	}
}

// StatusKind returns the status the card applies. Only meaningful for
// EffectStatus cards.
func (c Card) StatusKind() status.Kind {
	return status.Kind(strings.ToUpper(c.Effect.Status))
}

func (c Card) validate() error {
	if c.ID == "" {
		return fmt.Errorf("card missing id")
	}
	if c.Name == "" {
		return fmt.Errorf("card %s: missing name", c.ID)
	}
	if c.Cost < 0 {
		return fmt.Errorf("card %s: negative cost %d", c.ID, c.Cost)
	}

	switch c.Effect.Kind {
	case EffectDamage, EffectHeal, EffectShield:
		if c.Effect.Magnitude <= 0 {
			return fmt.Errorf("card %s: effect %s needs a positive magnitude", c.ID, c.Effect.Kind)
		}
	case EffectStatus:
		switch c.StatusKind() {
		case status.KindBurn, status.KindGuard, status.KindWeaken:
		default:
			return fmt.Errorf("card %s: unknown status %q", c.ID, c.Effect.Status)
		}
		if c.Effect.Stacks <= 0 {
			return fmt.Errorf("card %s: status effect needs positive stacks", c.ID)
		}
	default:
		return fmt.Errorf("card %s: unknown effect kind %q", c.ID, c.Effect.Kind)
	}

	switch c.Requirement().Rule {
	case targeting.RuleSelf, targeting.RuleSingle, targeting.RuleMulti:
	default:
		return fmt.Errorf("card %s: unknown target rule %q", c.ID, c.Target.Rule)
	}
	if c.Target.MaxTargets < 0 {
		return fmt.Errorf("card %s: negative max_targets", c.ID)
	}
	return nil
}

// Catalog is an immutable card lookup built once at match setup.
type Catalog struct {
	cards map[string]Card
	order []string
}

// NewCatalog validates the cards and indexes them by id.
func NewCatalog(cards []Card) (*Catalog, error) {
	catalog := &Catalog{
		cards: make(map[string]Card, len(cards)),
		order: make([]string, 0, len(cards)),
	}
	for _, card := range cards {
		if err := card.validate(); err != nil {
			return nil, err
		}
		if _, exists := catalog.cards[card.ID]; exists {
			return nil, fmt.Errorf("duplicate card id %s", card.ID)
		}
		catalog.cards[card.ID] = card
		catalog.order = append(catalog.order, card.ID)
	}
	return catalog, nil
}

// Card looks up a card by id.
func (c *Catalog) Card(id string) (Card, bool) {
	card, ok := c.cards[id]
	return card, ok
}

// Cards returns every card in catalog order.
func (c *Catalog) Cards() []Card {
	cards := make([]Card, 0, len(c.order))
	for _, id := range c.order {
		cards = append(cards, c.cards[id])
	}
	return cards
}

// Len returns the number of cards in the catalog.
func (c *Catalog) Len() int {
	return len(c.cards)
}

type catalogFile struct {
	Cards []Card `yaml:"cards"`
}

// Load parses a catalog from YAML bytes.
func Load(raw []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("card catalog: %w", err)
	}
	if len(file.Cards) == 0 {
		return nil, fmt.Errorf("card catalog: no cards defined")
	}
	return NewCatalog(file.Cards)
}

// LoadFile reads a catalog from a YAML file.
func LoadFile(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("card catalog: %w", err)
	}
	return Load(raw)
}

var defaultCards = []Card{
	{
		ID:         "strike",
		Name:       "Strike",
		Initiative: 5,
		Cost:       2,
		Effect:     Effect{Kind: EffectDamage, Magnitude: 4},
		Target:     Target{Rule: "single"},
	},
	{
		ID:         "cleave",
		Name:       "Cleave",
		Initiative: 4,
		Cost:       3,
		Effect:     Effect{Kind: EffectDamage, Magnitude: 2},
		Target:     Target{Rule: "multi", MaxTargets: 3},
	},
	{
		ID:         "mend",
		Name:       "Mend",
		Initiative: 6,
		Cost:       2,
		Effect:     Effect{Kind: EffectHeal, Magnitude: 3},
		Target:     Target{Rule: "self"},
	},
	{
		ID:         "aegis",
		Name:       "Aegis",
		Initiative: 8,
		Cost:       2,
		Effect:     Effect{Kind: EffectShield, Magnitude: 3},
		Target:     Target{Rule: "self"},
	},
	{
		ID:         "ward",
		Name:       "Ward",
		Initiative: 7,
		Cost:       1,
		Effect:     Effect{Kind: EffectShield, Magnitude: 2},
		Target:     Target{Rule: "single"},
	},
	{
		ID:         "ignite",
		Name:       "Ignite",
		Initiative: 3,
		Cost:       1,
		Effect:     Effect{Kind: EffectStatus, Status: "burn", Stacks: 2},
		Target:     Target{Rule: "single"},
	},
	{
		ID:         "sunder",
		Name:       "Sunder",
		Initiative: 7,
		Cost:       2,
		Effect:     Effect{Kind: EffectStatus, Status: "weaken", Stacks: 2},
		Target:     Target{Rule: "single"},
	},
}

// Default returns the compiled-in card set used when no catalog file is
// configured.
func Default() *Catalog {
	catalog, err := NewCatalog(defaultCards)
	if err != nil {
		panic(fmt.Sprintf("default card catalog invalid: %v", err))
	}
	return catalog
}

package content

import (
	"strings"
	"testing"

	"github.com/openskirmish/skirmish-server-go/internal/game/status"
	"github.com/openskirmish/skirmish-server-go/internal/game/targeting"
)

const sampleCatalogYAML = `
cards:
  - id: jab
    name: Jab
    initiative: 6
    cost: 1
    effect:
      kind: DAMAGE
      magnitude: 2
    target:
      rule: single
  - id: rally
    name: Rally
    initiative: 2
    cost: 3
    effect:
      kind: HEAL
      magnitude: 2
    target:
      rule: multi
      max_targets: 2
  - id: kindle
    name: Kindle
    initiative: 4
    cost: 1
    effect:
      kind: STATUS
      status: burn
      stacks: 1
    target:
      rule: single
`

func TestLoadParsesCatalog(t *testing.T) {
	catalog, err := Load([]byte(sampleCatalogYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if catalog.Len() != 3 {
		t.Fatalf("expected 3 cards, got %d", catalog.Len())
	}

	jab, ok := catalog.Card("jab")
	if !ok {
		t.Fatal("jab should be in the catalog")
	}
	if jab.Initiative != 6 || jab.Cost != 1 {
		t.Fatalf("jab parsed wrong: %+v", jab)
	}
	if jab.Effect.Kind != EffectDamage || jab.Effect.Magnitude != 2 {
		t.Fatalf("jab effect parsed wrong: %+v", jab.Effect)
	}
	if req := jab.Requirement(); req.Rule != targeting.RuleSingle {
		t.Fatalf("jab target rule parsed wrong: %+v", req)
	}

	rally, _ := catalog.Card("rally")
	if req := rally.Requirement(); req.Rule != targeting.RuleMulti || req.MaxTargets != 2 {
		t.Fatalf("rally target parsed wrong: %+v", req)
	}

	kindle, _ := catalog.Card("kindle")
	if kindle.StatusKind() != status.KindBurn {
		t.Fatalf("kindle status parsed wrong: %q", kindle.StatusKind())
	}
}

func TestLoadPreservesCatalogOrder(t *testing.T) {
	catalog, err := Load([]byte(sampleCatalogYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	cards := catalog.Cards()
	wantOrder := []string{"jab", "rally", "kindle"}
	for i, id := range wantOrder {
		if cards[i].ID != id {
			t.Fatalf("cards[%d] = %s, want %s", i, cards[i].ID, id)
		}
	}
}

func TestLoadRejectsBadCatalogs(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "empty",
			yaml: "cards: []",
			want: "no cards",
		},
		{
			name: "duplicate ids",
			yaml: `
cards:
  - {id: jab, name: Jab, initiative: 1, cost: 1, effect: {kind: DAMAGE, magnitude: 1}, target: {rule: single}}
  - {id: jab, name: Jab, initiative: 1, cost: 1, effect: {kind: DAMAGE, magnitude: 1}, target: {rule: single}}
`,
			want: "duplicate card id",
		},
		{
			name: "missing magnitude",
			yaml: `
cards:
  - {id: jab, name: Jab, initiative: 1, cost: 1, effect: {kind: DAMAGE}, target: {rule: single}}
`,
			want: "positive magnitude",
		},
		{
			name: "unknown status",
			yaml: `
cards:
  - {id: hex, name: Hex, initiative: 1, cost: 1, effect: {kind: STATUS, status: doom, stacks: 1}, target: {rule: single}}
`,
			want: "unknown status",
		},
		{
			name: "unknown effect",
			yaml: `
cards:
  - {id: odd, name: Odd, initiative: 1, cost: 1, effect: {kind: BANISH, magnitude: 1}, target: {rule: single}}
`,
			want: "unknown effect kind",
		},
		{
			name: "unknown rule",
			yaml: `
cards:
  - {id: jab, name: Jab, initiative: 1, cost: 1, effect: {kind: DAMAGE, magnitude: 1}, target: {rule: everyone}}
`,
			want: "unknown target rule",
		},
		{
			name: "negative cost",
			yaml: `
cards:
  - {id: jab, name: Jab, initiative: 1, cost: -1, effect: {kind: DAMAGE, magnitude: 1}, target: {rule: single}}
`,
			want: "negative cost",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load([]byte(tc.yaml))
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestDefaultCatalogIsValid(t *testing.T) {
	catalog := Default()
	if catalog.Len() == 0 {
		t.Fatal("default catalog must not be empty")
	}
	for _, card := range catalog.Cards() {
		if err := card.validate(); err != nil {
			t.Fatalf("default card %s invalid: %v", card.ID, err)
		}
	}
	if _, ok := catalog.Card("strike"); !ok {
		t.Fatal("default catalog should carry strike")
	}
}

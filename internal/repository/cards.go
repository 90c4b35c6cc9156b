package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/openskirmish/skirmish-server-go/internal/content"
)

// CardRepository stores the card catalog so deck tooling and external
// services can read definitions without shipping the YAML around.
type CardRepository struct {
	db *DB
}

// NewCardRepository creates a repository backed by the given database.
func NewCardRepository(db *DB) *CardRepository {
	return &CardRepository{db: db}
}

// UpsertCards inserts or updates the given card definitions in one batch.
// It returns the number of cards written.
func (r *CardRepository) UpsertCards(ctx context.Context, cards []content.Card) (int, error) {
	if len(cards) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, c := range cards {
		batch.Queue(`
			INSERT INTO cards
				(id, name, initiative, cost, effect_kind, magnitude, status, stacks, target_rule, max_targets, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				initiative = EXCLUDED.initiative,
				cost = EXCLUDED.cost,
				effect_kind = EXCLUDED.effect_kind,
				magnitude = EXCLUDED.magnitude,
				status = EXCLUDED.status,
				stacks = EXCLUDED.stacks,
				target_rule = EXCLUDED.target_rule,
				max_targets = EXCLUDED.max_targets,
				updated_at = now()`,
			c.ID, c.Name, c.Initiative, c.Cost,
			string(c.Effect.Kind), c.Effect.Magnitude, c.Effect.Status, c.Effect.Stacks,
			c.Target.Rule, c.Target.MaxTargets,
		)
	}

	results := r.db.pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := range cards {
		if _, err := results.Exec(); err != nil {
			return i, fmt.Errorf("upserting card %s: %w", cards[i].ID, err)
		}
	}

	return len(cards), nil
}

// ListCards returns all stored card definitions ordered by id.
func (r *CardRepository) ListCards(ctx context.Context) ([]content.Card, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, name, initiative, cost, effect_kind, magnitude, status, stacks, target_rule, max_targets
		FROM cards
		ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying cards: %w", err)
	}
	defer rows.Close()

	var cards []content.Card
	for rows.Next() {
		var c content.Card
		var kind string
		if err := rows.Scan(
			&c.ID, &c.Name, &c.Initiative, &c.Cost,
			&kind, &c.Effect.Magnitude, &c.Effect.Status, &c.Effect.Stacks,
			&c.Target.Rule, &c.Target.MaxTargets,
		); err != nil {
			return nil, fmt.Errorf("scanning card: %w", err)
		}
		c.Effect.Kind = content.EffectKind(kind)
		cards = append(cards, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading cards: %w", err)
	}

	return cards, nil
}

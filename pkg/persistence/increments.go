package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"shopassist/pkg/tools"
)

// IncrementStore reads and writes purchase-quantity increment rules.
// Rules are normally loaded by a catalogue-sync job; the engine only
// looks them up.
type IncrementStore struct {
	store *Store
}

// Increments returns the increment-rule store.
func (s *Store) Increments() *IncrementStore {
	return &IncrementStore{store: s}
}

// LookupIncrement finds the rule for a product or variant id, nil when
// the entity is unconstrained.
func (i *IncrementStore) LookupIncrement(ctx context.Context, entityID string) (*tools.IncrementRule, error) {
	return i.scanRule(i.store.db.QueryRowContext(ctx, `
		SELECT entity_id, entity_type, title, increment
		FROM increment_rules WHERE entity_id = ?`, entityID))
}

// LookupIncrementByTitle finds a rule by exact product title.
func (i *IncrementStore) LookupIncrementByTitle(ctx context.Context, title string) (*tools.IncrementRule, error) {
	return i.scanRule(i.store.db.QueryRowContext(ctx, `
		SELECT entity_id, entity_type, title, increment
		FROM increment_rules WHERE title = ? LIMIT 1`, title))
}

// UpsertRule inserts or replaces a rule.
func (i *IncrementStore) UpsertRule(ctx context.Context, rule *tools.IncrementRule) error {
	_, err := i.store.db.ExecContext(ctx, `
		INSERT INTO increment_rules (entity_id, entity_type, title, increment)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			entity_type = excluded.entity_type,
			title       = excluded.title,
			increment   = excluded.increment`,
		rule.EntityID, rule.EntityType, rule.Title, rule.Increment)
	if err != nil {
		return fmt.Errorf("failed to upsert increment rule %s: %w", rule.EntityID, err)
	}
	return nil
}

// DeleteRule removes the rule for an entity.
func (i *IncrementStore) DeleteRule(ctx context.Context, entityID string) error {
	_, err := i.store.db.ExecContext(ctx, `
		DELETE FROM increment_rules WHERE entity_id = ?`, entityID)
	if err != nil {
		return fmt.Errorf("failed to delete increment rule %s: %w", entityID, err)
	}
	return nil
}

func (i *IncrementStore) scanRule(row *sql.Row) (*tools.IncrementRule, error) {
	var rule tools.IncrementRule
	err := row.Scan(&rule.EntityID, &rule.EntityType, &rule.Title, &rule.Increment)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan increment rule: %w", err)
	}
	return &rule, nil
}

package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"supplyrouter/internal/apperr"
	"supplyrouter/internal/domain"
	"supplyrouter/internal/events"
	"supplyrouter/internal/logger"
	"supplyrouter/internal/repo"
)

// CreateAPIKey issues a key that authenticates as actorID. Only the hash is
// stored; the plaintext is returned once.
func (e Engine) CreateAPIKey(ctx context.Context, actorID int64, name string, creatorID int64) (domain.APIKey, string, error) {
	if actorID <= 0 {
		return domain.APIKey{}, "", apperr.Validation("actor_id must be positive")
	}
	plain := "sr_" + strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: e.ts(),
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := e.events().AppendActivity(ctx, tx, creatorID, events.APIKeyCreated, fmt.Sprintf("API key %s issued for actor %d", key.ID, actorID)); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := repo.Commit(tx); err != nil {
		return domain.APIKey{}, "", err
	}
	e.log().Info("api key created", logger.Fields{"key_id": key.ID, "actor_id": actorID})
	return key, plain, nil
}

// ListAPIKeys lists issued keys, optionally for one actor.
func (e Engine) ListAPIKeys(ctx context.Context, actorID int64) ([]domain.APIKey, error) {
	return e.Repo.ListAPIKeys(ctx, actorID)
}

// RevokeAPIKey deletes a key by id.
func (e Engine) RevokeAPIKey(ctx context.Context, id string) error {
	return e.Repo.DeleteAPIKey(ctx, id)
}

package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Lolitsgin/minecraft-discord-bridge/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IdentityBindingRepository stores the durable Minecraft↔Discord mapping.
// The table's primary key and unique constraint make the mapping a partial
// bijection; violating either surfaces ErrConflict, never a duplicate row.
type IdentityBindingRepository struct {
	pool *pgxpool.Pool
}

func NewIdentityBindingRepository(pool *pgxpool.Pool) *IdentityBindingRepository {
	return &IdentityBindingRepository{pool: pool}
}

// Upsert creates the binding. A Discord user re-linking replaces their own
// previous binding; claiming a Minecraft UUID already bound to a different
// Discord user fails with ErrConflict.
func (r *IdentityBindingRepository) Upsert(ctx context.Context, b *model.IdentityBinding) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO identity_bindings (minecraft_uuid, discord_user_id, linked_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (discord_user_id)
		DO UPDATE SET minecraft_uuid = EXCLUDED.minecraft_uuid, linked_at = EXCLUDED.linked_at
	`, b.MinecraftUUID, b.DiscordUserID, b.LinkedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("minecraft account %s already linked: %w", b.MinecraftUUID, model.ErrConflict)
		}
		return err
	}
	return nil
}

func (r *IdentityBindingRepository) GetByUUID(ctx context.Context, minecraftUUID string) (*model.IdentityBinding, error) {
	return r.get(ctx, `
		SELECT minecraft_uuid, discord_user_id, linked_at
		FROM identity_bindings WHERE minecraft_uuid = $1
	`, minecraftUUID)
}

func (r *IdentityBindingRepository) GetByDiscordID(ctx context.Context, discordUserID string) (*model.IdentityBinding, error) {
	return r.get(ctx, `
		SELECT minecraft_uuid, discord_user_id, linked_at
		FROM identity_bindings WHERE discord_user_id = $1
	`, discordUserID)
}

func (r *IdentityBindingRepository) get(ctx context.Context, query, arg string) (*model.IdentityBinding, error) {
	var b model.IdentityBinding
	err := r.pool.QueryRow(ctx, query, arg).Scan(&b.MinecraftUUID, &b.DiscordUserID, &b.LinkedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *IdentityBindingRepository) DeleteByDiscordID(ctx context.Context, discordUserID string) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM identity_bindings WHERE discord_user_id = $1`, discordUserID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (r *IdentityBindingRepository) DeleteByUUID(ctx context.Context, minecraftUUID string) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM identity_bindings WHERE minecraft_uuid = $1`, minecraftUUID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

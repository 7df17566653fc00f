package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Lolitsgin/minecraft-discord-bridge/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres unique_violation.
const pgUniqueViolation = "23505"

// LinkSessionRepository stores link sessions with optimistic concurrency:
// every state transition is guarded by the expected current state.
type LinkSessionRepository struct {
	pool *pgxpool.Pool
}

func NewLinkSessionRepository(pool *pgxpool.Pool) *LinkSessionRepository {
	return &LinkSessionRepository{pool: pool}
}

func (r *LinkSessionRepository) Create(ctx context.Context, s *model.LinkSession) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO link_sessions (token, discord_user_id, state, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, s.Token, s.DiscordUserID, s.State, s.CreatedAt, s.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			if pgErr.ConstraintName == "link_sessions_pkey" {
				return model.ErrTokenCollision
			}
			return fmt.Errorf("active session exists for %s: %w", s.DiscordUserID, model.ErrConflict)
		}
		return err
	}
	return nil
}

func (r *LinkSessionRepository) GetByToken(ctx context.Context, token string) (*model.LinkSession, error) {
	var s model.LinkSession
	err := r.pool.QueryRow(ctx, `
		SELECT token, discord_user_id, minecraft_uuid, state, created_at, expires_at
		FROM link_sessions WHERE token = $1
	`, token).Scan(&s.Token, &s.DiscordUserID, &s.MinecraftUUID, &s.State, &s.CreatedAt, &s.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *LinkSessionRepository) GetActiveByDiscordID(ctx context.Context, discordUserID string) (*model.LinkSession, error) {
	var s model.LinkSession
	err := r.pool.QueryRow(ctx, `
		SELECT token, discord_user_id, minecraft_uuid, state, created_at, expires_at
		FROM link_sessions
		WHERE discord_user_id = $1 AND state IN ('PENDING', 'VERIFIED')
	`, discordUserID).Scan(&s.Token, &s.DiscordUserID, &s.MinecraftUUID, &s.State, &s.CreatedAt, &s.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// MarkVerified transitions PENDING→VERIFIED and records the Minecraft UUID
// in one statement. Losing the compare-and-swap returns ErrConflict.
func (r *LinkSessionRepository) MarkVerified(ctx context.Context, token, minecraftUUID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE link_sessions SET state = 'VERIFIED', minecraft_uuid = $2
		WHERE token = $1 AND state = 'PENDING'
	`, token, minecraftUUID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrConflict
	}
	return nil
}

// UpdateState is the generic guarded transition. RowsAffected()==0 means a
// concurrent operation already moved the session and the caller lost.
func (r *LinkSessionRepository) UpdateState(ctx context.Context, token string, expected, next model.SessionState) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE link_sessions SET state = $3
		WHERE token = $1 AND state = $2
	`, token, expected, next)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrConflict
	}
	return nil
}

// ExpireOlderThan moves every PENDING/VERIFIED session past its expiry to
// EXPIRED. Idempotent; safe to run concurrently with verification attempts
// because the state filter doubles as the compare-and-swap guard.
func (r *LinkSessionRepository) ExpireOlderThan(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE link_sessions SET state = 'EXPIRED'
		WHERE state IN ('PENDING', 'VERIFIED') AND expires_at < $1
	`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteTerminalBefore purges CONSUMED/EXPIRED history older than the cutoff.
func (r *LinkSessionRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM link_sessions
		WHERE state IN ('CONSUMED', 'EXPIRED') AND expires_at < $1
	`, cutoff)
	return err
}

func (r *LinkSessionRepository) ListActive(ctx context.Context) ([]model.LinkSession, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT token, discord_user_id, minecraft_uuid, state, created_at, expires_at
		FROM link_sessions
		WHERE state IN ('PENDING', 'VERIFIED')
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []model.LinkSession
	for rows.Next() {
		var s model.LinkSession
		if err := rows.Scan(&s.Token, &s.DiscordUserID, &s.MinecraftUUID, &s.State, &s.CreatedAt, &s.ExpiresAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

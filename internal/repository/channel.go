package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Lolitsgin/minecraft-discord-bridge/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// BridgeChannel is a Discord channel registered for chat relaying, together
// with the webhook the bridge posts through.
type BridgeChannel struct {
	ChannelID  string
	WebhookURL string
	AddedBy    string
	AddedAt    time.Time
}

type BridgeChannelRepository struct {
	pool *pgxpool.Pool
}

func NewBridgeChannelRepository(pool *pgxpool.Pool) *BridgeChannelRepository {
	return &BridgeChannelRepository{pool: pool}
}

func (r *BridgeChannelRepository) Add(ctx context.Context, ch *BridgeChannel) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO bridge_channels (channel_id, webhook_url, added_by, added_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (channel_id) DO UPDATE SET webhook_url = EXCLUDED.webhook_url
	`, ch.ChannelID, ch.WebhookURL, ch.AddedBy, ch.AddedAt)
	return err
}

// Remove deletes the registration and returns the webhook URL that was in
// use so the caller can delete the Discord-side webhook too.
func (r *BridgeChannelRepository) Remove(ctx context.Context, channelID string) (string, error) {
	var url string
	err := r.pool.QueryRow(ctx, `
		DELETE FROM bridge_channels WHERE channel_id = $1 RETURNING webhook_url
	`, channelID).Scan(&url)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", model.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return url, nil
}

func (r *BridgeChannelRepository) Get(ctx context.Context, channelID string) (*BridgeChannel, error) {
	var ch BridgeChannel
	err := r.pool.QueryRow(ctx, `
		SELECT channel_id, webhook_url, added_by, added_at
		FROM bridge_channels WHERE channel_id = $1
	`, channelID).Scan(&ch.ChannelID, &ch.WebhookURL, &ch.AddedBy, &ch.AddedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

func (r *BridgeChannelRepository) List(ctx context.Context) ([]BridgeChannel, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT channel_id, webhook_url, added_by, added_at
		FROM bridge_channels ORDER BY added_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []BridgeChannel
	for rows.Next() {
		var ch BridgeChannel
		if err := rows.Scan(&ch.ChannelID, &ch.WebhookURL, &ch.AddedBy, &ch.AddedAt); err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Lolitsgin/minecraft-discord-bridge/internal/model"

	"github.com/google/uuid"
)

const (
	tokenRetries      = 5
	maxCommitRetries  = 3
	terminalRetention = 24 * time.Hour
)

// SessionStore is the session half of the identity store. Implemented by
// repository.LinkSessionRepository.
type SessionStore interface {
	Create(ctx context.Context, s *model.LinkSession) error
	GetByToken(ctx context.Context, token string) (*model.LinkSession, error)
	GetActiveByDiscordID(ctx context.Context, discordUserID string) (*model.LinkSession, error)
	MarkVerified(ctx context.Context, token, minecraftUUID string) error
	UpdateState(ctx context.Context, token string, expected, next model.SessionState) error
	ExpireOlderThan(ctx context.Context, now time.Time) (int64, error)
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) error
	ListActive(ctx context.Context) ([]model.LinkSession, error)
}

// BindingStore is the durable-mapping half of the identity store.
type BindingStore interface {
	Upsert(ctx context.Context, b *model.IdentityBinding) error
	GetByUUID(ctx context.Context, minecraftUUID string) (*model.IdentityBinding, error)
	GetByDiscordID(ctx context.Context, discordUserID string) (*model.IdentityBinding, error)
	DeleteByDiscordID(ctx context.Context, discordUserID string) error
	DeleteByUUID(ctx context.Context, minecraftUUID string) error
}

// SessionManager owns the link-session state machine:
//
//	PENDING → VERIFIED → CONSUMED
//	PENDING → EXPIRED, VERIFIED → EXPIRED
//
// Every transition is a compare-and-swap in the store, so concurrent
// verification attempts on the same token cannot both succeed.
type SessionManager struct {
	sessions SessionStore
	bindings BindingStore
	proofs   *proofVerifier
	ttl      time.Duration
	clock    func() time.Time

	mu             sync.Mutex
	commitFailures map[string]int
}

func NewSessionManager(sessions SessionStore, bindings BindingStore, proofSecret string, ttl time.Duration) *SessionManager {
	return &SessionManager{
		sessions:       sessions,
		bindings:       bindings,
		proofs:         newProofVerifier(proofSecret),
		ttl:            ttl,
		clock:          time.Now,
		commitFailures: make(map[string]int),
	}
}

// CreateSession starts a new linking attempt for a Discord user. Fails with
// ErrConflict while a non-terminal session for that user exists. Token
// collisions are retried rather than assumed impossible.
func (m *SessionManager) CreateSession(ctx context.Context, discordUserID string) (*model.LinkSession, error) {
	if _, err := m.sessions.GetActiveByDiscordID(ctx, discordUserID); err == nil {
		return nil, fmt.Errorf("user %s already has an active session: %w", discordUserID, model.ErrConflict)
	} else if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	now := m.clock()
	for attempt := 0; attempt < tokenRetries; attempt++ {
		token, err := generateToken()
		if err != nil {
			return nil, err
		}
		s := &model.LinkSession{
			Token:         token,
			DiscordUserID: discordUserID,
			State:         model.StatePending,
			CreatedAt:     now,
			ExpiresAt:     now.Add(m.ttl),
		}
		err = m.sessions.Create(ctx, s)
		if errors.Is(err, model.ErrTokenCollision) {
			log.Printf("[session] token collision on attempt %d, regenerating", attempt+1)
			continue
		}
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("exhausted %d token generation attempts", tokenRetries)
}

// Lookup returns the session for a token, opportunistically expiring it if
// its TTL has lapsed.
func (m *SessionManager) Lookup(ctx context.Context, token string) (*model.LinkSession, error) {
	s, err := m.sessions.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if !s.State.Terminal() && s.Expired(m.clock()) {
		if err := m.sessions.UpdateState(ctx, token, s.State, model.StateExpired); err == nil {
			s.State = model.StateExpired
		}
	}
	return s, nil
}

// BeginVerification validates the proof and transitions PENDING→VERIFIED.
// Proof failure leaves the session PENDING so the player can retry until
// the TTL runs out.
func (m *SessionManager) BeginVerification(ctx context.Context, token, minecraftUUID, proof string) error {
	s, err := m.sessions.GetByToken(ctx, token)
	if err != nil {
		return err
	}
	if s.State.Terminal() {
		return model.ErrExpired
	}
	if s.Expired(m.clock()) {
		if err := m.sessions.UpdateState(ctx, token, s.State, model.StateExpired); err != nil && !errors.Is(err, model.ErrConflict) {
			log.Printf("[session] failed to expire %s: %v", token, err)
		}
		return model.ErrExpired
	}
	if s.State != model.StatePending {
		return model.ErrConflict
	}

	parsed, err := uuid.Parse(minecraftUUID)
	if err != nil {
		return fmt.Errorf("malformed minecraft uuid %q: %w", minecraftUUID, model.ErrProofInvalid)
	}
	canonical := parsed.String()

	if err := m.proofs.Verify(proof, token, canonical); err != nil {
		log.Printf("[session] proof rejected for token %s (state=%s): %v", token, s.State, err)
		return fmt.Errorf("%w: %v", model.ErrProofInvalid, err)
	}

	if err := m.sessions.MarkVerified(ctx, token, canonical); err != nil {
		return err
	}
	return nil
}

// Commit transitions VERIFIED→CONSUMED and persists the IdentityBinding as
// one logical step. An identity-store write failure rolls the session back
// to VERIFIED so Commit can be retried; after maxCommitRetries failures the
// session is forced EXPIRED and an operator alert is logged.
func (m *SessionManager) Commit(ctx context.Context, token string) (*model.IdentityBinding, error) {
	s, err := m.sessions.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if s.State.Terminal() {
		return nil, model.ErrExpired
	}
	if s.State != model.StateVerified || s.MinecraftUUID == nil {
		return nil, model.ErrConflict
	}
	if s.Expired(m.clock()) {
		if err := m.sessions.UpdateState(ctx, token, s.State, model.StateExpired); err != nil && !errors.Is(err, model.ErrConflict) {
			log.Printf("[session] failed to expire %s: %v", token, err)
		}
		return nil, model.ErrExpired
	}

	if err := m.sessions.UpdateState(ctx, token, model.StateVerified, model.StateConsumed); err != nil {
		return nil, err
	}

	binding := &model.IdentityBinding{
		MinecraftUUID: *s.MinecraftUUID,
		DiscordUserID: s.DiscordUserID,
		LinkedAt:      m.clock(),
	}
	err = m.bindings.Upsert(ctx, binding)
	if err == nil {
		m.mu.Lock()
		delete(m.commitFailures, token)
		m.mu.Unlock()
		log.Printf("[session] linked %s to discord user %s", binding.MinecraftUUID, binding.DiscordUserID)
		return binding, nil
	}

	if errors.Is(err, model.ErrConflict) {
		// The UUID belongs to another Discord user; this session can never
		// commit, so it is finished rather than left retryable.
		if rbErr := m.sessions.UpdateState(ctx, token, model.StateConsumed, model.StateExpired); rbErr != nil {
			log.Printf("[session] failed to close conflicted session %s: %v", token, rbErr)
		}
		return nil, err
	}

	// Write failure: roll back to VERIFIED (not PENDING) so Commit can retry.
	if rbErr := m.sessions.UpdateState(ctx, token, model.StateConsumed, model.StateVerified); rbErr != nil {
		log.Printf("[session] ALERT: rollback of %s after persistence failure also failed: %v", token, rbErr)
	}

	m.mu.Lock()
	m.commitFailures[token]++
	failures := m.commitFailures[token]
	if failures >= maxCommitRetries {
		delete(m.commitFailures, token)
	}
	m.mu.Unlock()

	if failures >= maxCommitRetries {
		if exErr := m.sessions.UpdateState(ctx, token, model.StateVerified, model.StateExpired); exErr != nil {
			log.Printf("[session] failed to expire %s after exhausted commits: %v", token, exErr)
		}
		log.Printf("[session] ALERT: identity store write failed %d times for token %s, giving up: %v", failures, token, err)
	}
	return nil, &model.PersistenceError{Op: "commit", Err: err}
}

// Unlink removes a binding by Discord id or Minecraft UUID (admin unlink).
func (m *SessionManager) Unlink(ctx context.Context, ref string) error {
	if parsed, err := uuid.Parse(ref); err == nil {
		return m.bindings.DeleteByUUID(ctx, parsed.String())
	}
	return m.bindings.DeleteByDiscordID(ctx, ref)
}

// Binding returns the binding for a Discord user, or ErrNotFound.
func (m *SessionManager) Binding(ctx context.Context, discordUserID string) (*model.IdentityBinding, error) {
	return m.bindings.GetByDiscordID(ctx, discordUserID)
}

// ListActive lists non-terminal sessions for the admin list-sessions verb.
func (m *SessionManager) ListActive(ctx context.Context) ([]model.LinkSession, error) {
	return m.sessions.ListActive(ctx)
}

// RunSweep periodically expires lapsed sessions and purges old terminal
// history. Cancellable mid-cycle; transitions are idempotent and guarded.
func (m *SessionManager) RunSweep(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepOnce(ctx)
		}
	}
}

func (m *SessionManager) sweepOnce(ctx context.Context) {
	now := m.clock()
	n, err := m.sessions.ExpireOlderThan(ctx, now)
	if err != nil {
		log.Printf("[session] sweep failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[session] expired %d lapsed sessions", n)
	}
	if err := m.sessions.DeleteTerminalBefore(ctx, now.Add(-terminalRetention)); err != nil {
		log.Printf("[session] terminal purge failed: %v", err)
	}
}

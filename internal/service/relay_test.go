package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Lolitsgin/minecraft-discord-bridge/internal/model"
)

// fakeMinecraft records sent chat lines and feeds events.
type fakeMinecraft struct {
	mu     sync.Mutex
	sent   []string
	sentAt []time.Time

	events    chan model.MinecraftEvent
	online    atomic.Bool
	failSends atomic.Int32
}

func newFakeMinecraft() *fakeMinecraft {
	f := &fakeMinecraft{events: make(chan model.MinecraftEvent, 16)}
	f.online.Store(true)
	return f
}

func (f *fakeMinecraft) SendChat(_ context.Context, text string) error {
	if f.failSends.Load() > 0 {
		f.failSends.Add(-1)
		return errors.New("connection reset")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	f.sentAt = append(f.sentAt, time.Now())
	return nil
}

func (f *fakeMinecraft) Events() <-chan model.MinecraftEvent { return f.events }
func (f *fakeMinecraft) BotUsername() string                 { return "BridgeBot" }
func (f *fakeMinecraft) Online() bool                        { return f.online.Load() }

func (f *fakeMinecraft) sentLines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeMinecraft) waitSent(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if lines := f.sentLines(); len(lines) >= n {
			return lines
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d sends (got %d)", n, len(f.sentLines()))
	return nil
}

// fakePublisher records published events.
type fakePublisher struct {
	mu     sync.Mutex
	events []model.MinecraftEvent
}

func (f *fakePublisher) PublishChat(username, minecraftUUID, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, model.MinecraftEvent{Type: model.EventChat, Author: username, Body: content})
}

func (f *fakePublisher) PublishEvent(ev model.MinecraftEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakePublisher) published() []model.MinecraftEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.MinecraftEvent(nil), f.events...)
}

func startRelay(t *testing.T, r *ChatRelay) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("relay did not stop after cancellation")
		}
	})
	return cancel
}

func TestRelayDeliversInOrderWithPacing(t *testing.T) {
	mc := newFakeMinecraft()
	relay := NewChatRelay(mc, &fakePublisher{}, 40*time.Millisecond, 16)
	startRelay(t, relay)

	for i := 0; i < 3; i++ {
		if err := relay.EnqueueDiscord("Steve", fmt.Sprintf("hello %d", i)); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	lines := mc.waitSent(t, 3)
	for i := 0; i < 3; i++ {
		want := fmt.Sprintf("Steve: hello %d", i)
		if lines[i] != want {
			t.Fatalf("send %d: got %q want %q", i, lines[i], want)
		}
	}

	mc.mu.Lock()
	gap := mc.sentAt[2].Sub(mc.sentAt[1])
	mc.mu.Unlock()
	if gap < 30*time.Millisecond {
		t.Fatalf("sends not paced: gap %v", gap)
	}
}

func TestRelayKeepsOrderAcrossSendFailure(t *testing.T) {
	mc := newFakeMinecraft()
	mc.failSends.Store(1)
	relay := NewChatRelay(mc, &fakePublisher{}, time.Millisecond, 16)
	relay.retryWait = 5 * time.Millisecond
	startRelay(t, relay)

	for i := 0; i < 3; i++ {
		if err := relay.EnqueueDiscord("Steve", fmt.Sprintf("msg %d", i)); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	// The first send fails once; the retry must deliver it before anything
	// that arrived later.
	lines := mc.waitSent(t, 3)
	for i := 0; i < 3; i++ {
		if want := fmt.Sprintf("Steve: msg %d", i); lines[i] != want {
			t.Fatalf("send %d: got %q want %q", i, lines[i], want)
		}
	}
}

func TestRelayRejectsDuplicateBody(t *testing.T) {
	mc := newFakeMinecraft()
	relay := NewChatRelay(mc, &fakePublisher{}, time.Millisecond, 16)

	if err := relay.EnqueueDiscord("Steve", "same thing"); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	err := relay.EnqueueDiscord("Steve", "same thing")
	if !errors.Is(err, model.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if relay.QueueLen() != 1 {
		t.Fatalf("duplicate was queued: len=%d", relay.QueueLen())
	}
}

func TestRelayDropsMessagesEmptyAfterSanitize(t *testing.T) {
	mc := newFakeMinecraft()
	relay := NewChatRelay(mc, &fakePublisher{}, time.Millisecond, 16)

	if err := relay.EnqueueDiscord("Steve", "\x00\x01\x02"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if relay.QueueLen() != 0 {
		t.Fatalf("empty message was queued: len=%d", relay.QueueLen())
	}
}

func TestRelayFiltersOwnAccount(t *testing.T) {
	mc := newFakeMinecraft()
	pub := &fakePublisher{}
	relay := NewChatRelay(mc, pub, time.Millisecond, 16)
	startRelay(t, relay)

	mc.events <- model.MinecraftEvent{Type: model.EventChat, Author: "bridgebot", Body: "echo"}
	mc.events <- model.MinecraftEvent{Type: model.EventChat, Author: "Alex", Body: "hi there"}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(pub.published()) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	evs := pub.published()
	if len(evs) != 1 {
		t.Fatalf("expected 1 published event, got %d", len(evs))
	}
	if evs[0].Author != "Alex" {
		t.Fatalf("loopback event leaked: %+v", evs[0])
	}
}

func TestRelayPauseHoldsTraffic(t *testing.T) {
	mc := newFakeMinecraft()
	pub := &fakePublisher{}
	relay := NewChatRelay(mc, pub, time.Millisecond, 16)
	relay.Pause()
	startRelay(t, relay)

	if err := relay.EnqueueDiscord("Steve", "held back"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	mc.events <- model.MinecraftEvent{Type: model.EventChat, Author: "Alex", Body: "discarded"}

	time.Sleep(100 * time.Millisecond)
	if got := mc.sentLines(); len(got) != 0 {
		t.Fatalf("paused relay sent %v", got)
	}
	if got := pub.published(); len(got) != 0 {
		t.Fatalf("paused relay published %v", got)
	}
	if !relay.Paused() {
		t.Fatal("Paused() reported false")
	}

	// Queued outbound traffic survives the pause and flows on resume.
	relay.Resume()
	lines := mc.waitSent(t, 1)
	if lines[0] != "Steve: held back" {
		t.Fatalf("got %q after resume", lines[0])
	}
}

func TestRelayQueuesWhileOffline(t *testing.T) {
	mc := newFakeMinecraft()
	mc.online.Store(false)
	relay := NewChatRelay(mc, &fakePublisher{}, time.Millisecond, 16)
	startRelay(t, relay)

	for i := 0; i < 3; i++ {
		if err := relay.EnqueueDiscord("Steve", fmt.Sprintf("offline %d", i)); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	time.Sleep(100 * time.Millisecond)
	if got := mc.sentLines(); len(got) != 0 {
		t.Fatalf("offline relay sent %v", got)
	}

	mc.online.Store(true)
	lines := mc.waitSent(t, 3)
	for i, line := range lines {
		if want := fmt.Sprintf("Steve: offline %d", i); line != want {
			t.Fatalf("send %d: got %q want %q", i, line, want)
		}
	}
}

func TestRelayDrainFlushesBacklog(t *testing.T) {
	mc := newFakeMinecraft()
	relay := NewChatRelay(mc, &fakePublisher{}, time.Millisecond, 16)

	for i := 0; i < 3; i++ {
		if err := relay.EnqueueDiscord("Steve", fmt.Sprintf("late %d", i)); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	relay.Drain(ctx)

	if got := len(mc.sentLines()); got != 3 {
		t.Fatalf("drain delivered %d of 3", got)
	}
	if relay.QueueLen() != 0 {
		t.Fatalf("queue not empty after drain: %d", relay.QueueLen())
	}
}

package service

import (
	"context"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Lolitsgin/minecraft-discord-bridge/internal/model"

	"golang.org/x/time/rate"
)

// MinecraftClient is the Minecraft protocol collaborator: it delivers
// inbound chat/join/leave/death events on a channel and accepts outbound
// chat text. Implemented by minecraft.Client.
type MinecraftClient interface {
	SendChat(ctx context.Context, text string) error
	Events() <-chan model.MinecraftEvent
	BotUsername() string
	Online() bool
}

// ChatPublisher is the Discord webhook collaborator. Sends are stateless
// and safely retryable, so they may run concurrently.
type ChatPublisher interface {
	PublishChat(username, minecraftUUID, content string)
	PublishEvent(ev model.MinecraftEvent)
}

// ChatRelay runs the two always-on pumps between Discord and Minecraft.
// The outbound (Discord→MC) queue has exactly one consumer paced by a
// leaky bucket; inbound (MC→Discord) events fan out to webhook goroutines.
// Each direction fails independently.
type ChatRelay struct {
	mc        MinecraftClient
	publisher ChatPublisher
	queue     *messageQueue
	limiter   *rate.Limiter
	retryWait time.Duration
	paused    atomic.Bool

	mu       sync.Mutex
	lastBody string

	console   *ConsoleHub
	analytics *AnalyticsShipper
}

func NewChatRelay(mc MinecraftClient, publisher ChatPublisher, messageDelay time.Duration, queueSize int) *ChatRelay {
	return &ChatRelay{
		mc:        mc,
		publisher: publisher,
		queue:     newMessageQueue(queueSize),
		limiter:   rate.NewLimiter(rate.Every(messageDelay), 1),
		retryWait: 5 * time.Second,
	}
}

// WithConsole mirrors relayed traffic to the admin live console.
func (r *ChatRelay) WithConsole(hub *ConsoleHub) *ChatRelay {
	r.console = hub
	return r
}

// WithAnalytics ships relayed chat to the analytics collaborator.
func (r *ChatRelay) WithAnalytics(a *AnalyticsShipper) *ChatRelay {
	r.analytics = a
	return r
}

// EnqueueDiscord accepts a Discord-originated message for delivery to
// Minecraft. The author is the sender's linked Minecraft username. Returns
// ErrRateLimited when the message repeats the previous one verbatim.
func (r *ChatRelay) EnqueueDiscord(author, body string) error {
	body = sanitizeForMinecraft(author, body)
	if body == "" {
		return nil
	}

	r.mu.Lock()
	if body == r.lastBody {
		r.mu.Unlock()
		return model.ErrRateLimited
	}
	r.lastBody = body
	r.mu.Unlock()

	r.queue.Push(model.ChatMessage{
		Direction: model.DirectionDiscordToMinecraft,
		Author:    author,
		Body:      body,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// Run starts both pumps and blocks until ctx is cancelled.
func (r *ChatRelay) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.runOutbound(ctx)
	}()
	go func() {
		defer wg.Done()
		r.runInbound(ctx)
	}()
	wg.Wait()
}

// runOutbound is the single consumer of the Discord→MC queue. Messages keep
// queueing while the connection is down or the relay is paused; pacing
// respects the server-side anti-spam tolerance.
func (r *ChatRelay) runOutbound(ctx context.Context) {
	for {
		msg, overflow, ok := r.queue.Pop(ctx)
		if !ok {
			return
		}
		if overflow > 0 {
			log.Printf("[relay] outbound queue overflowed, dropped %d oldest messages", overflow)
		}

		// A failed send retries in place: the message stays with the
		// consumer so later arrivals cannot overtake it.
		line := msg.Author + ": " + msg.Body
		for {
			if !r.waitSendable(ctx) {
				return
			}
			if err := r.limiter.Wait(ctx); err != nil {
				return
			}
			if err := r.mc.SendChat(ctx, line); err != nil {
				log.Printf("[relay] minecraft send failed (retrying): %v", err)
				if !sleepCtx(ctx, r.retryWait) {
					return
				}
				continue
			}
			break
		}

		r.mirror(msg)
		if r.analytics != nil {
			r.analytics.LogChatMessage("", msg.Author, msg.Body, line)
		}
	}
}

// waitSendable blocks while the relay is paused or the connection is down.
func (r *ChatRelay) waitSendable(ctx context.Context) bool {
	for r.paused.Load() || !r.mc.Online() {
		if !sleepCtx(ctx, 250*time.Millisecond) {
			return false
		}
	}
	return true
}

// runInbound forwards each Minecraft event as one Discord message. The
// bridge's own account is filtered to prevent echo loops.
func (r *ChatRelay) runInbound(ctx context.Context) {
	events := r.mc.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if strings.EqualFold(ev.Author, r.mc.BotUsername()) {
				continue
			}
			if r.paused.Load() {
				continue
			}

			// Webhook calls are stateless; run each concurrently.
			go r.publisher.PublishEvent(ev)

			r.mirror(model.ChatMessage{
				Direction: model.DirectionMinecraftToDiscord,
				Author:    ev.Author,
				Body:      ev.Body,
				Timestamp: ev.Timestamp,
			})
			if r.analytics != nil {
				switch ev.Type {
				case model.EventChat:
					r.analytics.LogChatMessage(ev.UUID, ev.Author, ev.Body, ev.Body)
				case model.EventJoin:
					r.analytics.LogConnection(ev.UUID, "CONNECTED")
				case model.EventLeave:
					r.analytics.LogConnection(ev.UUID, "DISCONNECTED")
				}
			}
		}
	}
}

// Drain delivers whatever is still queued, with pacing, until the deadline.
// Called during graceful shutdown.
func (r *ChatRelay) Drain(ctx context.Context) {
	for {
		msg, ok := r.queue.TryPop()
		if !ok {
			return
		}
		if !r.mc.Online() {
			log.Printf("[relay] dropping %d undeliverable messages at shutdown", r.queue.Len()+1)
			return
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return
		}
		if err := r.mc.SendChat(ctx, msg.Author+": "+msg.Body); err != nil {
			log.Printf("[relay] drain send failed: %v", err)
			return
		}
	}
}

// Pause stops both directions; the outbound queue keeps accepting.
func (r *ChatRelay) Pause()       { r.paused.Store(true) }
func (r *ChatRelay) Resume()      { r.paused.Store(false) }
func (r *ChatRelay) Paused() bool { return r.paused.Load() }

// QueueLen reports the current outbound backlog.
func (r *ChatRelay) QueueLen() int { return r.queue.Len() }

func (r *ChatRelay) mirror(msg model.ChatMessage) {
	if r.console != nil {
		r.console.Broadcast(msg)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

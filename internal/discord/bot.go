package discord

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/Lolitsgin/minecraft-discord-bridge/internal/model"

	"github.com/bwmarrin/discordgo"
)

const webhookName = "_minecraft"

// Relay is the Discord→Minecraft ingestion surface of the chat relay.
type Relay interface {
	EnqueueDiscord(author, body string) error
}

// NameResolver maps Minecraft UUIDs to usernames for outbound attribution.
type NameResolver interface {
	UsernameForUUID(ctx context.Context, id string) (string, error)
}

// Bot manages the Discord gateway connection: command ingestion, relay
// ingestion from registered channels, and webhook reconciliation on ready.
type Bot struct {
	session    *discordgo.Session
	dispatcher *Dispatcher
	sessions   SessionService
	relay      Relay
	channels   ChannelRegistry
	targets    WebhookTargets
	names      NameResolver
}

// NewBot creates and configures the bot. An empty token disables the bot,
// mirroring how optional collaborators are disabled elsewhere.
func NewBot(
	token string,
	dispatcher *Dispatcher,
	sessions SessionService,
	relay Relay,
	channels ChannelRegistry,
	targets WebhookTargets,
	names NameResolver,
) (*Bot, error) {
	if token == "" {
		log.Println("[discord-bot] No bot token configured, bot disabled")
		return nil, nil
	}

	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	bot := &Bot{
		session:    s,
		dispatcher: dispatcher,
		sessions:   sessions,
		relay:      relay,
		channels:   channels,
		targets:    targets,
		names:      names,
	}
	dispatcher.SetHookManager(bot)

	s.AddHandler(bot.onReady)
	s.AddHandler(bot.onMessageCreate)

	return bot, nil
}

// Start opens the Discord gateway connection.
func (b *Bot) Start() error {
	if b == nil || b.session == nil {
		return nil
	}
	if err := b.session.Open(); err != nil {
		return err
	}
	log.Println("[discord-bot] Bot connected to Discord")
	return nil
}

// Stop closes the Discord gateway connection.
func (b *Bot) Stop() {
	if b == nil || b.session == nil {
		return
	}
	_ = b.session.Close()
	log.Println("[discord-bot] Bot disconnected")
}

// onReady reconciles the webhook target set with the registered channels.
func (b *Bot) onReady(s *discordgo.Session, _ *discordgo.Ready) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	registered, err := b.channels.List(ctx)
	if err != nil {
		log.Printf("[discord-bot] listing bridge channels failed: %v", err)
		return
	}
	urls := make([]string, 0, len(registered))
	for _, ch := range registered {
		url, err := b.EnsureWebhook(ch.ChannelID)
		if err != nil {
			log.Printf("[discord-bot] webhook reconciliation for %s failed: %v", ch.ChannelID, err)
			continue
		}
		urls = append(urls, url)
	}
	b.targets.SetWebhooks(urls)
	log.Printf("[discord-bot] ready, relaying to %d channel(s)", len(urls))
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	// Never react to ourselves or to webhook/bot messages: webhook posts
	// are our own relayed traffic coming back around.
	if m.Author == nil || m.Author.ID == s.State.User.ID || m.Author.Bot {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if cmd := ParseCommand(m.Author.ID, m.ChannelID, m.Content); cmd != nil {
		reply := b.dispatcher.Dispatch(ctx, *cmd)
		b.reply(m, reply)
		return
	}

	b.relayMessage(ctx, m)
}

// relayMessage forwards a plain chat message from a registered bridge
// channel toward Minecraft. Unlinked users get a registration prompt.
func (b *Bot) relayMessage(ctx context.Context, m *discordgo.MessageCreate) {
	if _, err := b.channels.Get(ctx, m.ChannelID); err != nil {
		return
	}

	binding, err := b.sessions.Binding(ctx, m.Author.ID)
	if errors.Is(err, model.ErrNotFound) {
		b.dm(m.Author.ID,
			"Unable to send chat message: there is no Minecraft account linked to this Discord account. Please run `mc!register`.")
		return
	}
	if err != nil {
		log.Printf("[discord-bot] binding lookup for %s failed: %v", m.Author.ID, err)
		return
	}

	author, err := b.names.UsernameForUUID(ctx, binding.MinecraftUUID)
	if err != nil {
		log.Printf("[discord-bot] username lookup for %s failed: %v", binding.MinecraftUUID, err)
		author = binding.MinecraftUUID
	}

	err = b.relay.EnqueueDiscord(author, m.ContentWithMentionsReplaced())
	if errors.Is(err, model.ErrRateLimited) {
		b.dm(m.Author.ID, fmt.Sprintf("Your message %q has been rate-limited.", m.Content))
	}
}

func (b *Bot) reply(m *discordgo.MessageCreate, r Reply) {
	if r.Text == "" {
		return
	}
	if r.Private {
		b.dm(m.Author.ID, r.Text)
		return
	}
	if _, err := b.session.ChannelMessageSend(m.ChannelID, r.Text); err != nil {
		log.Printf("[discord-bot] reply in %s failed: %v", m.ChannelID, err)
	}
}

func (b *Bot) dm(userID, text string) {
	ch, err := b.session.UserChannelCreate(userID)
	if err != nil {
		log.Printf("[discord-bot] opening DM with %s failed: %v", userID, err)
		return
	}
	if _, err := b.session.ChannelMessageSend(ch.ID, text); err != nil {
		log.Printf("[discord-bot] DM to %s failed: %v", userID, err)
	}
}

// EnsureWebhook finds or creates the bridge webhook in a channel and
// returns its execution URL.
func (b *Bot) EnsureWebhook(channelID string) (string, error) {
	hooks, err := b.session.ChannelWebhooks(channelID)
	if err != nil {
		return "", err
	}
	for _, h := range hooks {
		if h.Name == webhookName {
			return webhookURL(h), nil
		}
	}
	h, err := b.session.WebhookCreate(channelID, webhookName, "")
	if err != nil {
		return "", err
	}
	return webhookURL(h), nil
}

// DeleteWebhook removes the bridge webhook from a channel.
func (b *Bot) DeleteWebhook(channelID string) error {
	hooks, err := b.session.ChannelWebhooks(channelID)
	if err != nil {
		return err
	}
	for _, h := range hooks {
		if h.Name == webhookName {
			return b.session.WebhookDelete(h.ID)
		}
	}
	return nil
}

func webhookURL(h *discordgo.Webhook) string {
	return fmt.Sprintf("https://discord.com/api/webhooks/%s/%s", h.ID, h.Token)
}

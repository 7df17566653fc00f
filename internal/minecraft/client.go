// Package minecraft adapts the go-mc protocol library to the bridge's
// collaborator contract: inbound chat/join/leave/death events surface on a
// channel, outbound chat is a single method, and a supervisor keeps the
// session alive across server restarts.
package minecraft

import (
	"context"
	"log"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Lolitsgin/minecraft-discord-bridge/internal/model"

	"github.com/Tnze/go-mc/bot"
	"github.com/Tnze/go-mc/bot/basic"
	"github.com/Tnze/go-mc/bot/msg"
	"github.com/Tnze/go-mc/bot/playerlist"
	"github.com/Tnze/go-mc/chat"
)

const (
	reconnectWait = 15 * time.Second
	eventBuffer   = 256
)

var chatPattern = regexp.MustCompile(`^<(.*?)> (.*)$`)

var deathSuffixes = []string{
	" was slain", " was shot", " was killed", " drowned", " fell",
	" burned to death", " blew up", " hit the ground", " died",
	" tried to swim in lava", " starved to death", " withered away",
}

// Client is the Minecraft protocol collaborator. One instance per bridge.
type Client struct {
	addr     string
	username string

	events    chan model.MinecraftEvent
	connected atomic.Bool

	mu      sync.Mutex
	manager *msg.Manager

	playersMu sync.RWMutex
	players   map[string]struct{}
}

func New(addr, username string) *Client {
	return &Client{
		addr:     addr,
		username: username,
		events:   make(chan model.MinecraftEvent, eventBuffer),
		players:  make(map[string]struct{}),
	}
}

// Events is the inbound event queue the relay drains.
func (c *Client) Events() <-chan model.MinecraftEvent { return c.events }

func (c *Client) BotUsername() string { return c.username }

func (c *Client) Online() bool { return c.connected.Load() }

// Players returns the currently known player names (tab list for mc!tab).
func (c *Client) Players() []string {
	c.playersMu.RLock()
	defer c.playersMu.RUnlock()
	names := make([]string, 0, len(c.players))
	for name := range c.players {
		names = append(names, name)
	}
	return names
}

// SendChat writes one chat line to the server. Callers are expected to have
// sanitized and paced the message already.
func (c *Client) SendChat(_ context.Context, text string) error {
	c.mu.Lock()
	manager := c.manager
	c.mu.Unlock()
	if manager == nil || !c.connected.Load() {
		return &DisconnectedError{}
	}
	return manager.SendMessage(text)
}

// Run supervises the connection until ctx is cancelled: wait for the server
// to answer a status ping, join, pump the game loop, and on any failure back
// off and start over. A dead Minecraft connection never stops the Discord
// side; the relay just sees Online() == false.
func (c *Client) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if !c.waitOnline(ctx) {
			return
		}
		if err := c.runSession(ctx); err != nil {
			log.Printf("[minecraft] session ended: %v", err)
		}
		c.connected.Store(false)
		if !sleepCtx(ctx, reconnectWait) {
			return
		}
	}
}

func (c *Client) waitOnline(ctx context.Context) bool {
	for {
		if _, _, err := bot.PingAndList(c.addr); err == nil {
			return true
		}
		log.Printf("[minecraft] server %s appears offline, waiting", c.addr)
		if !sleepCtx(ctx, reconnectWait) {
			return false
		}
	}
}

func (c *Client) runSession(ctx context.Context) error {
	client := bot.NewClient()
	client.Auth.Name = c.username

	var player *basic.Player
	player = basic.NewPlayer(client, basic.DefaultSettings, basic.EventsListener{
		GameStart: func() error {
			log.Printf("[minecraft] connected to %s as %s", c.addr, c.username)
			c.connected.Store(true)
			c.resetPlayers()
			return nil
		},
		Disconnect: func(reason chat.Message) error {
			log.Printf("[minecraft] disconnected: %s", reason.ClearString())
			c.connected.Store(false)
			return nil
		},
		Death: func() error {
			// The bot itself died; respawn quietly.
			log.Printf("[minecraft] bot died, respawning")
			return player.Respawn()
		},
	})

	manager := msg.New(client, player, playerlist.New(client), msg.EventsHandler{
		SystemChat: func(m chat.Message, overlay bool) error {
			if !overlay {
				c.handleSystemMessage(m.ClearString())
			}
			return nil
		},
		PlayerChatMessage: func(m chat.Message, _ bool) error {
			c.handleChatMessage(m.ClearString())
			return nil
		},
		DisguisedChat: func(m chat.Message) error {
			c.handleChatMessage(m.ClearString())
			return nil
		},
	})

	c.mu.Lock()
	c.manager = manager
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.manager = nil
		c.mu.Unlock()
	}()

	if err := client.JoinServer(c.addr); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- client.HandleGame() }()

	select {
	case <-ctx.Done():
		_ = client.Close()
		<-done
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// handleChatMessage parses "<name> body" lines the way the original bridge
// did; anything else is not a player chat line and is dropped here.
func (c *Client) handleChatMessage(line string) {
	match := chatPattern.FindStringSubmatch(line)
	if match == nil {
		return
	}
	author, body := match[1], match[2]
	if strings.EqualFold(author, c.username) {
		return
	}
	c.emit(model.MinecraftEvent{
		Type:      model.EventChat,
		Author:    author,
		Body:      body,
		Timestamp: time.Now().UTC(),
	})
}

// handleSystemMessage derives join/leave/death events from vanilla system
// chat lines.
func (c *Client) handleSystemMessage(line string) {
	line = strings.TrimSpace(line)
	switch {
	case strings.HasSuffix(line, " joined the game"):
		name := strings.TrimSuffix(line, " joined the game")
		if strings.EqualFold(name, c.username) {
			return
		}
		c.trackPlayer(name, true)
		c.emit(model.MinecraftEvent{Type: model.EventJoin, Author: name, Timestamp: time.Now().UTC()})
	case strings.HasSuffix(line, " left the game"):
		name := strings.TrimSuffix(line, " left the game")
		c.trackPlayer(name, false)
		c.emit(model.MinecraftEvent{Type: model.EventLeave, Author: name, Timestamp: time.Now().UTC()})
	default:
		if name, ok := c.matchDeathMessage(line); ok {
			c.emit(model.MinecraftEvent{Type: model.EventDeath, Author: name, Body: line, Timestamp: time.Now().UTC()})
		}
	}
}

func (c *Client) matchDeathMessage(line string) (string, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", false
	}
	name := fields[0]
	c.playersMu.RLock()
	_, known := c.players[name]
	c.playersMu.RUnlock()
	if !known {
		return "", false
	}
	for _, suffix := range deathSuffixes {
		if strings.Contains(line, suffix) {
			return name, true
		}
	}
	return "", false
}

// emit never blocks the protocol reader; the channel is bounded and events
// beyond it are dropped with a count.
func (c *Client) emit(ev model.MinecraftEvent) {
	select {
	case c.events <- ev:
	default:
		log.Printf("[minecraft] event buffer full, dropping %s event from %s", ev.Type, ev.Author)
	}
}

func (c *Client) trackPlayer(name string, present bool) {
	c.playersMu.Lock()
	defer c.playersMu.Unlock()
	if present {
		c.players[name] = struct{}{}
	} else {
		delete(c.players, name)
	}
}

func (c *Client) resetPlayers() {
	c.playersMu.Lock()
	c.players = make(map[string]struct{})
	c.playersMu.Unlock()
}

// DisconnectedError is returned by SendChat while no session is live;
// the relay treats it as transient and requeues.
type DisconnectedError struct{}

func (e *DisconnectedError) Error() string { return "minecraft connection is down" }

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

package handler

import (
	"time"

	"github.com/Lolitsgin/minecraft-discord-bridge/internal/service"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// ConsoleHandler upgrades admin connections to the live relay console.
// Authentication happens in the AdminKey middleware before this runs.
type ConsoleHandler struct {
	hub *service.ConsoleHub
}

func NewConsoleHandler(hub *service.ConsoleHub) *ConsoleHandler {
	return &ConsoleHandler{hub: hub}
}

func (h *ConsoleHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	return websocket.New(h.handleConnection)(c)
}

func (h *ConsoleHandler) handleConnection(c *websocket.Conn) {
	client := &service.ConsoleClient{
		Conn: c,
		Send: make(chan []byte, 64),
	}

	h.hub.Register(client)
	defer h.hub.Unregister(client)

	go func() {
		defer c.Close()
		for msg := range client.Send {
			if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// The console is broadcast-only; the read loop just keeps the
	// connection alive and notices the peer going away.
	c.SetReadDeadline(time.Now().Add(60 * time.Second))
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			break
		}
		c.SetReadDeadline(time.Now().Add(60 * time.Second))
	}
}

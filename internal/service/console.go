package service

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/Lolitsgin/minecraft-discord-bridge/internal/model"

	"github.com/gofiber/contrib/websocket"
)

// ConsoleClient is one admin websocket watching relay traffic live.
type ConsoleClient struct {
	Conn *websocket.Conn
	Send chan []byte
}

// ConsoleHub fans relayed messages out to connected admin consoles.
type ConsoleHub struct {
	clients    map[*ConsoleClient]bool
	register   chan *ConsoleClient
	unregister chan *ConsoleClient
	broadcast  chan []byte
	mu         sync.RWMutex
	done       chan struct{}
}

func NewConsoleHub() *ConsoleHub {
	return &ConsoleHub{
		clients:    make(map[*ConsoleClient]bool),
		register:   make(chan *ConsoleClient),
		unregister: make(chan *ConsoleClient),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
	}
}

func (h *ConsoleHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			log.Printf("[console] viewer connected (total: %d)", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			log.Printf("[console] viewer disconnected (total: %d)", n)

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.Send <- message:
				default:
					close(client.Send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()

		case <-h.done:
			return
		}
	}
}

func (h *ConsoleHub) Shutdown() {
	close(h.done)
}

func (h *ConsoleHub) Register(client *ConsoleClient) {
	h.register <- client
}

func (h *ConsoleHub) Unregister(client *ConsoleClient) {
	h.unregister <- client
}

// Broadcast mirrors one relayed message to every viewer. With nobody
// watching it returns before marshalling.
func (h *ConsoleHub) Broadcast(msg model.ChatMessage) {
	if h.ViewerCount() == 0 {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
	}
}

func (h *ConsoleHub) ViewerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

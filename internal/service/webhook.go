package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/Lolitsgin/minecraft-discord-bridge/internal/model"
)

const avatarURLFormat = "https://visage.surgeplay.com/face/160/%s"

// DiscordWebhookService posts Minecraft traffic to every registered bridge
// channel through its "_minecraft" webhook. Sends are fire-and-forget with
// one retry on transient failure; the webhook call is stateless so retries
// are safe.
type DiscordWebhookService struct {
	mu     sync.RWMutex
	urls   map[string]struct{}
	client *http.Client
}

func NewDiscordWebhookService() *DiscordWebhookService {
	return &DiscordWebhookService{
		urls:   make(map[string]struct{}),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// SetWebhooks replaces the target set (startup reconciliation).
func (s *DiscordWebhookService) SetWebhooks(urls []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.urls = make(map[string]struct{}, len(urls))
	for _, u := range urls {
		s.urls[u] = struct{}{}
	}
}

func (s *DiscordWebhookService) AddWebhook(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.urls[url] = struct{}{}
}

func (s *DiscordWebhookService) RemoveWebhook(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.urls, url)
}

type webhookEmbed struct {
	Title string `json:"title,omitempty"`
	Color int    `json:"color,omitempty"`
}

type webhookPayload struct {
	Username  string         `json:"username,omitempty"`
	AvatarURL string         `json:"avatar_url,omitempty"`
	Content   string         `json:"content"`
	Embeds    []webhookEmbed `json:"embeds,omitempty"`
}

// PublishChat posts a plain chat line under the player's name and avatar.
func (s *DiscordWebhookService) PublishChat(username, minecraftUUID, content string) {
	s.send(webhookPayload{
		Username:  username,
		AvatarURL: fmt.Sprintf(avatarURLFormat, minecraftUUID),
		Content:   escapeMarkdown(stripColour(content)),
	})
}

// PublishEvent renders a join/leave/death/chat event with its per-type
// template.
func (s *DiscordWebhookService) PublishEvent(ev model.MinecraftEvent) {
	switch ev.Type {
	case model.EventChat:
		s.PublishChat(ev.Author, ev.UUID, ev.Body)
	case model.EventJoin:
		s.send(webhookPayload{
			Username:  ev.Author,
			AvatarURL: fmt.Sprintf(avatarURLFormat, ev.UUID),
			Embeds:    []webhookEmbed{{Title: "**Joined the game**", Color: 0x00FF00}},
		})
	case model.EventLeave:
		s.send(webhookPayload{
			Username:  ev.Author,
			AvatarURL: fmt.Sprintf(avatarURLFormat, ev.UUID),
			Embeds:    []webhookEmbed{{Title: "**Left the game**", Color: 0xFF0000}},
		})
	case model.EventDeath:
		body := ev.Body
		if body == "" {
			body = "**Died**"
		}
		s.send(webhookPayload{
			Username:  ev.Author,
			AvatarURL: fmt.Sprintf(avatarURLFormat, ev.UUID),
			Embeds:    []webhookEmbed{{Title: escapeMarkdown(body), Color: 0x555555}},
		})
	}
}

func (s *DiscordWebhookService) send(payload webhookPayload) {
	s.mu.RLock()
	urls := make([]string, 0, len(s.urls))
	for u := range s.urls {
		urls = append(urls, u)
	}
	s.mu.RUnlock()

	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[discord-webhook] marshal error: %v", err)
		return
	}
	for _, url := range urls {
		go s.post(url, body)
	}
}

func (s *DiscordWebhookService) post(url string, body []byte) {
	for attempt := 0; attempt < 2; attempt++ {
		resp, err := s.client.Post(url, "application/json", bytes.NewReader(body))
		if err != nil {
			log.Printf("[discord-webhook] send error: %v", err)
			time.Sleep(time.Second)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 500 {
			log.Printf("[discord-webhook] HTTP %d, retrying", resp.StatusCode)
			time.Sleep(time.Second)
			continue
		}
		if resp.StatusCode >= 400 {
			log.Printf("[discord-webhook] HTTP %d for webhook", resp.StatusCode)
		}
		return
	}
}

package service

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Lolitsgin/minecraft-discord-bridge/internal/model"
)

func capturePayload(t *testing.T) (*DiscordWebhookService, chan webhookPayload) {
	t.Helper()
	received := make(chan webhookPayload, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p webhookPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		received <- p
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	svc := NewDiscordWebhookService()
	svc.AddWebhook(srv.URL)
	return svc, received
}

func awaitPayload(t *testing.T, ch chan webhookPayload) webhookPayload {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("no webhook delivery")
		return webhookPayload{}
	}
}

func TestPublishChatPayload(t *testing.T) {
	svc, received := capturePayload(t)

	svc.PublishChat("Alex", "853c80ef-3c37-49fd-aa49-938b674adae6", "§6hello *world*")
	p := awaitPayload(t, received)

	if p.Username != "Alex" {
		t.Fatalf("username %q", p.Username)
	}
	if want := "https://visage.surgeplay.com/face/160/853c80ef-3c37-49fd-aa49-938b674adae6"; p.AvatarURL != want {
		t.Fatalf("avatar %q", p.AvatarURL)
	}
	// Colour codes stripped, markdown escaped.
	if p.Content != `hello \*world\*` {
		t.Fatalf("content %q", p.Content)
	}
}

func TestPublishJoinLeaveEmbeds(t *testing.T) {
	svc, received := capturePayload(t)

	svc.PublishEvent(model.MinecraftEvent{Type: model.EventJoin, Author: "Alex", UUID: "u1"})
	join := awaitPayload(t, received)
	if len(join.Embeds) != 1 || join.Embeds[0].Title != "**Joined the game**" || join.Embeds[0].Color != 0x00FF00 {
		t.Fatalf("join embed %+v", join.Embeds)
	}

	svc.PublishEvent(model.MinecraftEvent{Type: model.EventLeave, Author: "Alex", UUID: "u1"})
	leave := awaitPayload(t, received)
	if len(leave.Embeds) != 1 || leave.Embeds[0].Title != "**Left the game**" || leave.Embeds[0].Color != 0xFF0000 {
		t.Fatalf("leave embed %+v", leave.Embeds)
	}
}

func TestPublishDeathEmbed(t *testing.T) {
	svc, received := capturePayload(t)

	svc.PublishEvent(model.MinecraftEvent{Type: model.EventDeath, Author: "Alex", UUID: "u1", Body: "Alex fell from a high place"})
	p := awaitPayload(t, received)
	if len(p.Embeds) != 1 || p.Embeds[0].Color != 0x555555 {
		t.Fatalf("death embed %+v", p.Embeds)
	}
	if p.Embeds[0].Title != "Alex fell from a high place" {
		t.Fatalf("death title %q", p.Embeds[0].Title)
	}
}

func TestPublishFansOutToAllWebhooks(t *testing.T) {
	svc, first := capturePayload(t)

	second := make(chan webhookPayload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p webhookPayload
		_ = json.NewDecoder(r.Body).Decode(&p)
		second <- p
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	svc.AddWebhook(srv.URL)

	svc.PublishChat("Alex", "u1", "fan out")
	awaitPayload(t, first)
	awaitPayload(t, second)
}

func TestRemovedWebhookStopsReceiving(t *testing.T) {
	received := make(chan webhookPayload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- webhookPayload{}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	svc := NewDiscordWebhookService()
	svc.AddWebhook(srv.URL)
	svc.RemoveWebhook(srv.URL)

	svc.PublishChat("Alex", "u1", "dropped")
	select {
	case <-received:
		t.Fatal("removed webhook still received traffic")
	case <-time.After(150 * time.Millisecond):
	}
}

package minecraft

import (
	"context"
	"testing"

	"github.com/Lolitsgin/minecraft-discord-bridge/internal/model"
)

func drainEvent(t *testing.T, c *Client) model.MinecraftEvent {
	t.Helper()
	select {
	case ev := <-c.Events():
		return ev
	default:
		t.Fatal("no event emitted")
		return model.MinecraftEvent{}
	}
}

func assertNoEvent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case ev := <-c.Events():
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestHandleChatMessage(t *testing.T) {
	c := New("mc.example.com:25565", "BridgeBot")

	c.handleChatMessage("<Steve> hello there")
	ev := drainEvent(t, c)
	if ev.Type != model.EventChat || ev.Author != "Steve" || ev.Body != "hello there" {
		t.Fatalf("got %+v", ev)
	}

	// Angle brackets inside the body stay in the body.
	c.handleChatMessage("<Alex> use <F3> to debug")
	ev = drainEvent(t, c)
	if ev.Author != "Alex" || ev.Body != "use <F3> to debug" {
		t.Fatalf("got %+v", ev)
	}
}

func TestHandleChatMessageIgnoresNonChatLines(t *testing.T) {
	c := New("mc.example.com:25565", "BridgeBot")
	c.handleChatMessage("Server restarting in 5 minutes")
	assertNoEvent(t, c)
}

func TestHandleChatMessageFiltersOwnName(t *testing.T) {
	c := New("mc.example.com:25565", "BridgeBot")
	c.handleChatMessage("<bridgebot> relayed text")
	assertNoEvent(t, c)
}

func TestJoinLeaveTracking(t *testing.T) {
	c := New("mc.example.com:25565", "BridgeBot")

	c.handleSystemMessage("Steve joined the game")
	ev := drainEvent(t, c)
	if ev.Type != model.EventJoin || ev.Author != "Steve" {
		t.Fatalf("got %+v", ev)
	}
	if players := c.Players(); len(players) != 1 || players[0] != "Steve" {
		t.Fatalf("players %v", players)
	}

	c.handleSystemMessage("Steve left the game")
	ev = drainEvent(t, c)
	if ev.Type != model.EventLeave || ev.Author != "Steve" {
		t.Fatalf("got %+v", ev)
	}
	if players := c.Players(); len(players) != 0 {
		t.Fatalf("players %v", players)
	}
}

func TestOwnJoinNotPublished(t *testing.T) {
	c := New("mc.example.com:25565", "BridgeBot")
	c.handleSystemMessage("BridgeBot joined the game")
	assertNoEvent(t, c)
}

func TestDeathMessageForKnownPlayer(t *testing.T) {
	c := New("mc.example.com:25565", "BridgeBot")
	c.handleSystemMessage("Steve joined the game")
	drainEvent(t, c)

	c.handleSystemMessage("Steve fell from a high place")
	ev := drainEvent(t, c)
	if ev.Type != model.EventDeath || ev.Author != "Steve" {
		t.Fatalf("got %+v", ev)
	}
	if ev.Body != "Steve fell from a high place" {
		t.Fatalf("body %q", ev.Body)
	}
}

func TestDeathMessageForUnknownPlayerIgnored(t *testing.T) {
	c := New("mc.example.com:25565", "BridgeBot")
	// "Herobrine" never joined, so the line is just server noise.
	c.handleSystemMessage("Herobrine fell from a high place")
	assertNoEvent(t, c)
}

func TestSendChatWhileDisconnected(t *testing.T) {
	c := New("mc.example.com:25565", "BridgeBot")
	err := c.SendChat(context.Background(), "hello")
	if _, ok := err.(*DisconnectedError); !ok {
		t.Fatalf("expected DisconnectedError, got %v", err)
	}
}

package handler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"

	"github.com/Lolitsgin/minecraft-discord-bridge/internal/model"

	"github.com/gofiber/fiber/v2"
)

// SessionService is the slice of the session manager the rendezvous
// endpoint needs.
type SessionService interface {
	Lookup(ctx context.Context, token string) (*model.LinkSession, error)
	BeginVerification(ctx context.Context, token, minecraftUUID, proof string) error
	Commit(ctx context.Context, token string) (*model.IdentityBinding, error)
}

// RendezvousHandler serves the per-token hostnames under the wildcard
// domain. The hostname's first label is the capability token; the remainder
// must match the configured domain so tokens cannot be replayed against a
// different deployment.
type RendezvousHandler struct {
	sessions SessionService
	domain   string
}

func NewRendezvousHandler(sessions SessionService, wildcardDomain string) *RendezvousHandler {
	return &RendezvousHandler{sessions: sessions, domain: wildcardDomain}
}

// tokenFromHost splits "<token>.<domain>[:port]" and validates the domain.
func (h *RendezvousHandler) tokenFromHost(host string) (string, error) {
	if hostOnly, _, err := net.SplitHostPort(host); err == nil {
		host = hostOnly
	}
	label, rest, found := strings.Cut(host, ".")
	if !found || !strings.EqualFold(rest, h.domain) {
		return "", fmt.Errorf("host %q is not under %q", host, h.domain)
	}
	if label == "" {
		return "", fmt.Errorf("empty token label in %q", host)
	}
	return strings.ToLower(label), nil
}

// Landing renders the verification instructions for a live session.
func (h *RendezvousHandler) Landing(c *fiber.Ctx) error {
	token, err := h.tokenFromHost(c.Hostname())
	if err != nil {
		return c.Status(fiber.StatusBadRequest).SendString("This is not a valid verification address.\n")
	}

	s, err := h.sessions.Lookup(c.Context(), token)
	if errors.Is(err, model.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).SendString("Unknown verification token.\n")
	}
	if err != nil {
		log.Printf("[rendezvous] lookup %s failed: %v", token, err)
		return c.Status(fiber.StatusInternalServerError).SendString("Something went wrong, please try again.\n")
	}
	if s.State.Terminal() {
		return c.Status(fiber.StatusGone).SendString("This verification link has expired or was already used.\n")
	}

	return c.SendString(
		"Minecraft account verification\n\n" +
			"Join the verification server from your Minecraft account, then follow\n" +
			"the link it gives you to finish connecting your Discord account.\n")
}

// Verify completes the challenge: BeginVerification then Commit.
func (h *RendezvousHandler) Verify(c *fiber.Ctx) error {
	token, err := h.tokenFromHost(c.Hostname())
	if err != nil {
		return c.Status(fiber.StatusBadRequest).SendString("This is not a valid verification address.\n")
	}

	minecraftUUID := c.Query("uuid")
	proof := c.Query("proof")
	if minecraftUUID == "" || proof == "" {
		return c.Status(fiber.StatusBadRequest).SendString("Missing uuid or proof.\n")
	}

	err = h.sessions.BeginVerification(c.Context(), token, minecraftUUID, proof)
	switch {
	case errors.Is(err, model.ErrNotFound):
		return c.Status(fiber.StatusNotFound).SendString("Unknown verification token.\n")
	case errors.Is(err, model.ErrExpired):
		return c.Status(fiber.StatusGone).SendString("This verification link has expired or was already used.\n")
	case errors.Is(err, model.ErrProofInvalid):
		return c.Status(fiber.StatusConflict).SendString("Verification proof rejected. Check the link and try again.\n")
	case errors.Is(err, model.ErrConflict):
		return c.Status(fiber.StatusConflict).SendString("Another verification attempt is already in progress.\n")
	case err != nil:
		log.Printf("[rendezvous] verification for %s failed: %v", token, err)
		return c.Status(fiber.StatusInternalServerError).SendString("Something went wrong, please try again.\n")
	}

	_, err = h.sessions.Commit(c.Context(), token)
	switch {
	case model.IsPersistence(err):
		log.Printf("[rendezvous] commit for %s hit the identity store: %v", token, err)
		c.Set(fiber.HeaderRetryAfter, "5")
		return c.Status(fiber.StatusInternalServerError).
			SendString("Could not save your account link. Please retry in a few seconds.\n")
	case errors.Is(err, model.ErrConflict):
		return c.Status(fiber.StatusConflict).
			SendString("That Minecraft account is already linked to a different Discord account.\n")
	case errors.Is(err, model.ErrExpired):
		return c.Status(fiber.StatusGone).SendString("This verification link has expired or was already used.\n")
	case err != nil:
		log.Printf("[rendezvous] commit for %s failed: %v", token, err)
		return c.Status(fiber.StatusInternalServerError).SendString("Something went wrong, please try again.\n")
	}

	return c.SendString("Your Minecraft account has successfully been linked to your Discord account!\n")
}

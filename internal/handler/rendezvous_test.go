package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Lolitsgin/minecraft-discord-bridge/internal/model"

	"github.com/gofiber/fiber/v2"
)

type fakeSessions struct {
	lookupFn func(ctx context.Context, token string) (*model.LinkSession, error)
	verifyFn func(ctx context.Context, token, uuid, proof string) error
	commitFn func(ctx context.Context, token string) (*model.IdentityBinding, error)
}

func (f *fakeSessions) Lookup(ctx context.Context, token string) (*model.LinkSession, error) {
	if f.lookupFn != nil {
		return f.lookupFn(ctx, token)
	}
	return nil, model.ErrNotFound
}

func (f *fakeSessions) BeginVerification(ctx context.Context, token, uuid, proof string) error {
	if f.verifyFn != nil {
		return f.verifyFn(ctx, token, uuid, proof)
	}
	return nil
}

func (f *fakeSessions) Commit(ctx context.Context, token string) (*model.IdentityBinding, error) {
	if f.commitFn != nil {
		return f.commitFn(ctx, token)
	}
	return &model.IdentityBinding{}, nil
}

const (
	testDomain = "link.example.com"
	testToken  = "abcdefghijklmnopqrstuvwxyz"
)

func newApp(sessions *fakeSessions) *fiber.App {
	h := NewRendezvousHandler(sessions, testDomain)
	app := fiber.New()
	app.Get("/", h.Landing)
	app.Get("/verify", h.Verify)
	return app
}

func request(t *testing.T, app *fiber.App, host, path string) (*http.Response, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Host = host
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request %s%s: %v", host, path, err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	return resp, string(body)
}

func TestLandingRejectsForeignHost(t *testing.T) {
	app := newApp(&fakeSessions{})
	resp, _ := request(t, app, testToken+".evil.example.org", "/")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d", resp.StatusCode)
	}

	// The bare domain carries no token label.
	resp, _ = request(t, app, testDomain, "/")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d for bare domain", resp.StatusCode)
	}
}

func TestLandingUnknownToken(t *testing.T) {
	app := newApp(&fakeSessions{})
	resp, _ := request(t, app, testToken+"."+testDomain, "/")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestLandingLiveSession(t *testing.T) {
	sessions := &fakeSessions{
		lookupFn: func(_ context.Context, token string) (*model.LinkSession, error) {
			if token != testToken {
				return nil, model.ErrNotFound
			}
			return &model.LinkSession{Token: token, State: model.StatePending}, nil
		},
	}
	app := newApp(sessions)
	resp, body := request(t, app, testToken+"."+testDomain, "/")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if !strings.Contains(body, "verification") {
		t.Fatalf("body %q", body)
	}
}

func TestLandingHostMatchingIsCaseInsensitive(t *testing.T) {
	var looked string
	sessions := &fakeSessions{
		lookupFn: func(_ context.Context, token string) (*model.LinkSession, error) {
			looked = token
			return &model.LinkSession{Token: token, State: model.StatePending}, nil
		},
	}
	app := newApp(sessions)
	resp, _ := request(t, app, strings.ToUpper(testToken)+".LINK.Example.COM", "/")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if looked != testToken {
		t.Fatalf("token not lowercased: %q", looked)
	}
}

func TestLandingTerminalSessionGone(t *testing.T) {
	sessions := &fakeSessions{
		lookupFn: func(_ context.Context, token string) (*model.LinkSession, error) {
			return &model.LinkSession{Token: token, State: model.StateConsumed}, nil
		},
	}
	app := newApp(sessions)
	resp, _ := request(t, app, testToken+"."+testDomain, "/")
	if resp.StatusCode != http.StatusGone {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestVerifyMissingParams(t *testing.T) {
	app := newApp(&fakeSessions{})
	resp, _ := request(t, app, testToken+"."+testDomain, "/verify?uuid=some-uuid")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d", resp.StatusCode)
	}
	resp, _ = request(t, app, testToken+"."+testDomain, "/verify?proof=some-proof")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestVerifySuccess(t *testing.T) {
	var verified, committed bool
	sessions := &fakeSessions{
		verifyFn: func(_ context.Context, token, uuid, proof string) error {
			if token != testToken || uuid != "some-uuid" || proof != "some-proof" {
				t.Errorf("verify got token=%q uuid=%q proof=%q", token, uuid, proof)
			}
			verified = true
			return nil
		},
		commitFn: func(_ context.Context, token string) (*model.IdentityBinding, error) {
			committed = true
			return &model.IdentityBinding{MinecraftUUID: "some-uuid"}, nil
		},
	}
	app := newApp(sessions)
	resp, body := request(t, app, testToken+"."+testDomain, "/verify?uuid=some-uuid&proof=some-proof")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d body %q", resp.StatusCode, body)
	}
	if !verified || !committed {
		t.Fatalf("verified=%v committed=%v", verified, committed)
	}
	if !strings.Contains(body, "successfully been linked") {
		t.Fatalf("body %q", body)
	}
}

func TestVerifyErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"unknown token", model.ErrNotFound, http.StatusNotFound},
		{"expired", model.ErrExpired, http.StatusGone},
		{"bad proof", model.ErrProofInvalid, http.StatusConflict},
		{"concurrent attempt", model.ErrConflict, http.StatusConflict},
		{"store error", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sessions := &fakeSessions{
				verifyFn: func(_ context.Context, _, _, _ string) error { return tc.err },
			}
			app := newApp(sessions)
			resp, _ := request(t, app, testToken+"."+testDomain, "/verify?uuid=u&proof=p")
			if resp.StatusCode != tc.status {
				t.Fatalf("status %d, want %d", resp.StatusCode, tc.status)
			}
		})
	}
}

func TestVerifyCommitPersistenceFailureIsRetryable(t *testing.T) {
	sessions := &fakeSessions{
		commitFn: func(_ context.Context, token string) (*model.IdentityBinding, error) {
			return nil, &model.PersistenceError{Op: "commit", Err: errors.New("connection refused")}
		},
	}
	app := newApp(sessions)
	resp, _ := request(t, app, testToken+"."+testDomain, "/verify?uuid=u&proof=p")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") != "5" {
		t.Fatalf("Retry-After %q", resp.Header.Get("Retry-After"))
	}
}

func TestVerifyCommitConflict(t *testing.T) {
	sessions := &fakeSessions{
		commitFn: func(_ context.Context, token string) (*model.IdentityBinding, error) {
			return nil, model.ErrConflict
		},
	}
	app := newApp(sessions)
	resp, body := request(t, app, testToken+"."+testDomain, "/verify?uuid=u&proof=p")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if !strings.Contains(body, "different Discord account") {
		t.Fatalf("body %q", body)
	}
}

func TestVerifyReplayAfterConsumeIsGone(t *testing.T) {
	sessions := &fakeSessions{
		verifyFn: func(_ context.Context, _, _, _ string) error { return model.ErrExpired },
	}
	app := newApp(sessions)
	resp, _ := request(t, app, testToken+"."+testDomain, "/verify?uuid=u&proof=p")
	if resp.StatusCode != http.StatusGone {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

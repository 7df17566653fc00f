package service

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"time"
)

// AnalyticsShipper posts connection and chat documents to Elasticsearch.
// A nil shipper is valid and does nothing, so callers never branch on
// whether analytics is configured.
type AnalyticsShipper struct {
	url      string
	username string
	password string
	client   *http.Client
}

func NewAnalyticsShipper(url, username, password string) *AnalyticsShipper {
	if url == "" {
		return nil
	}
	return &AnalyticsShipper{
		url:      url,
		username: username,
		password: password,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// LogConnection records a player connect/disconnect.
func (a *AnalyticsShipper) LogConnection(minecraftUUID, reason string) {
	if a == nil {
		return
	}
	a.post("connections/_doc/", map[string]interface{}{
		"uuid":   minecraftUUID,
		"time":   time.Now().UnixMilli(),
		"reason": reason,
	})
}

// LogChatMessage records one relayed chat message.
func (a *AnalyticsShipper) LogChatMessage(minecraftUUID, displayName, message, raw string) {
	if a == nil {
		return
	}
	a.post("chat_messages/_doc/", map[string]interface{}{
		"uuid":                minecraftUUID,
		"display_name":        displayName,
		"message":             message,
		"message_unformatted": raw,
		"time":                time.Now().UnixMilli(),
	})
}

func (a *AnalyticsShipper) post(endpoint string, payload map[string]interface{}) {
	go func() {
		body, err := json.Marshal(payload)
		if err != nil {
			return
		}
		req, err := http.NewRequest(http.MethodPost, a.url+endpoint, bytes.NewReader(body))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "application/json")
		if a.username != "" {
			req.SetBasicAuth(a.username, a.password)
		}
		resp, err := a.client.Do(req)
		if err != nil {
			log.Printf("[analytics] ship error: %v", err)
			return
		}
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			log.Printf("[analytics] HTTP %d shipping to %s", resp.StatusCode, endpoint)
		}
	}()
}

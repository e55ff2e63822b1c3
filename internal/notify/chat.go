package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"

	"trackline/internal/engine"
)

// ChatClient posts incoming-webhook messages to the team chat. A zero
// WebhookURL disables posting without erroring.
type ChatClient struct {
	WebhookURL string
	HTTP       *http.Client
}

func NewChatClient(webhookURL string, timeout time.Duration) ChatClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return ChatClient{
		WebhookURL: webhookURL,
		HTTP:       &http.Client{Timeout: timeout},
	}
}

func urgencyColor(u engine.Urgency) string {
	switch u {
	case engine.UrgencyLow:
		return "good"
	case engine.UrgencyMedium, engine.UrgencyHigh:
		return "warning"
	case engine.UrgencyCritical:
		return "danger"
	}
	return "warning"
}

func urgencyEmoji(u engine.Urgency) string {
	switch u {
	case engine.UrgencyLow:
		return "\U0001F535"
	case engine.UrgencyMedium:
		return "\U0001F7E1"
	case engine.UrgencyHigh:
		return "\U0001F7E0"
	case engine.UrgencyCritical:
		return "\U0001F534"
	}
	return "\U0001F7E1"
}

// PostBlocks sends a block-style message: a header plus a field list.
// Fields render in key order so payloads are stable.
func (c ChatClient) PostBlocks(ctx context.Context, title string, fields map[string]string) error {
	if c.WebhookURL == "" {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fieldObjs := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		fieldObjs = append(fieldObjs, map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*%s:* %s", k, fields[k]),
		})
	}
	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{"type": "plain_text", "text": title, "emoji": true},
		},
	}
	if len(fieldObjs) > 0 {
		blocks = append(blocks, map[string]any{"type": "section", "fields": fieldObjs})
	}
	return c.post(ctx, map[string]any{"blocks": blocks})
}

// PostAlert sends an attachment-style alert colored by urgency.
func (c ChatClient) PostAlert(ctx context.Context, urgency engine.Urgency, title, message string) error {
	if c.WebhookURL == "" {
		return nil
	}
	payload := map[string]any{
		"attachments": []map[string]any{
			{
				"color": urgencyColor(urgency),
				"title": fmt.Sprintf("%s %s", urgencyEmoji(urgency), title),
				"text":  message,
			},
		},
	}
	return c.post(ctx, payload)
}

func (c ChatClient) post(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal chat payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Trackline-Delivery", uuid.NewString())
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("chat webhook returned %s", resp.Status)
	}
	return nil
}

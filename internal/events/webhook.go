package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"workdesk/internal/config"
	"workdesk/internal/domain"
)

const defaultWebhookTimeout = 5 * time.Second

// WebhookPublisher POSTs each event to every configured webhook whose filter
// matches, concurrently. One failing hook fails the event.
type WebhookPublisher struct {
	Hooks  []config.Webhook
	Client *http.Client
}

func NewWebhookPublisher(hooks []config.Webhook) WebhookPublisher {
	return WebhookPublisher{Hooks: hooks, Client: &http.Client{Timeout: defaultWebhookTimeout}}
}

type webhookEvent struct {
	EventID       string          `json:"event_id"`
	Type          string          `json:"type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   int64           `json:"aggregate_id"`
	Version       int64           `json:"version"`
	OccurredAt    string          `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}

func (p WebhookPublisher) Publish(ctx context.Context, evt domain.OutboxEvent) error {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	body, err := json.Marshal(webhookEvent{
		EventID:       evt.EventID,
		Type:          evt.EventType,
		AggregateType: evt.AggregateType,
		AggregateID:   evt.AggregateID,
		Version:       evt.Version,
		OccurredAt:    evt.OccurredAt.UTC().Format(time.RFC3339Nano),
		Payload:       payload,
	})
	if err != nil {
		return err
	}

	var (
		mu   sync.Mutex
		errs []error
		wg   = conc.NewWaitGroup()
	)
	for _, hook := range p.Hooks {
		if strings.TrimSpace(hook.URL) == "" || !newEventFilter(hook.Events).match(evt.EventType) {
			continue
		}
		hook := hook
		wg.Go(func() {
			if err := p.post(ctx, hook, evt, body); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("webhook %s: %w", hook.URL, err))
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (p WebhookPublisher) post(ctx context.Context, hook config.Webhook, evt domain.OutboxEvent, body []byte) error {
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Workdesk-Event", evt.EventType)
	req.Header.Set("X-Workdesk-Delivery", evt.EventID)
	if secret := strings.TrimSpace(hook.Secret); secret != "" {
		req.Header.Set("X-Workdesk-Signature", "sha256="+Sign(secret, body))
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		if key := strings.TrimSpace(evt); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}

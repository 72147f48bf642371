// Package notify moves alert delivery off the request path: the control
// plane enqueues raised alerts, a worker delivers them to a webhook with
// asynq's retry machinery.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hibiken/asynq"

	"intelligence-control-plane/internal/hub"
)

const TaskAlertNotify = "alert.notify"

type alertPayload struct {
	ID        string    `json:"id"`
	Service   string    `json:"service"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Enqueuer hands raised alerts to the worker queue. Safe to call from the
// hub's alert hook.
type Enqueuer struct {
	client *asynq.Client
	queue  string
}

func NewEnqueuer(redisOpt asynq.RedisClientOpt, queue string) *Enqueuer {
	return &Enqueuer{client: asynq.NewClient(redisOpt), queue: queue}
}

func (e *Enqueuer) Close() error { return e.client.Close() }

func (e *Enqueuer) Enqueue(alert hub.Alert) error {
	payload, err := json.Marshal(alertPayload{
		ID:        alert.ID,
		Service:   alert.Service,
		Severity:  string(alert.Severity),
		Message:   alert.Message,
		Timestamp: alert.Timestamp,
	})
	if err != nil {
		return err
	}
	task := asynq.NewTask(TaskAlertNotify, payload, asynq.Queue(e.queue), asynq.MaxRetry(5))
	_, err = e.client.Enqueue(task)
	return err
}

// WebhookHandler posts each alert to a configured endpoint. Non-2xx responses
// return an error so asynq retries with backoff.
type WebhookHandler struct {
	URL    string
	Client *http.Client
}

func NewWebhookHandler(url string) *WebhookHandler {
	return &WebhookHandler{URL: url, Client: &http.Client{Timeout: 10 * time.Second}}
}

func (h *WebhookHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload alertPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode alert payload: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d for alert %s", resp.StatusCode, payload.ID)
	}
	return nil
}

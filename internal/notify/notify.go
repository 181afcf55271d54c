package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rowjay/tier-archiver/internal/config"
)

// Event summarizes one archival run for external consumers.
type Event struct {
	Type          string    `json:"type"`
	Status        string    `json:"status"`
	Bucket        string    `json:"bucket"`
	Segments      int       `json:"segments"`
	Objects       int       `json:"objects"`
	BytesArchived int64     `json:"bytes_archived"`
	Stage         string    `json:"stage,omitempty"` // stage that failed, on abort
	StartedAt     time.Time `json:"started_at"`
	EndedAt       time.Time `json:"ended_at"`
	Duration      string    `json:"duration"`
	Error         string    `json:"error,omitempty"`
}

type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

type Multi struct {
	Targets []Notifier
}

func (m Multi) Notify(ctx context.Context, event Event) error {
	var err error
	for _, target := range m.Targets {
		if target == nil {
			continue
		}
		if nerr := target.Notify(ctx, event); nerr != nil {
			err = nerr
		}
	}
	return err
}

type Webhook struct {
	Name    string
	URL     string
	Headers map[string]string
}

func (w Webhook) Notify(ctx context.Context, event Event) error {
	body, _ := json.Marshal(event)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.Headers {
		req.Header.Set(k, v)
	}
	resp, err := httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s returned %s", w.Name, resp.Status)
	}
	return nil
}

type Mattermost struct {
	Name string
	URL  string
}

func (m Mattermost) Notify(ctx context.Context, event Event) error {
	text := fmt.Sprintf("[%s] archive run: %d segments, %d objects, %d bytes", event.Status, event.Segments, event.Objects, event.BytesArchived)
	if event.Error != "" {
		text = fmt.Sprintf("%s — failed at %s: %s", text, event.Stage, event.Error)
	}
	payload := map[string]string{"text": text}
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("mattermost %s returned %s", m.Name, resp.Status)
	}
	return nil
}

// FromConfig assembles the configured notifier fan-out; nil when no
// targets are configured.
func FromConfig(cfg config.NotificationsConfig) Notifier {
	targets := []Notifier{}
	for _, hook := range cfg.Webhooks {
		targets = append(targets, Webhook{Name: hook.Name, URL: hook.URL, Headers: hook.Headers})
	}
	for _, hook := range cfg.Mattermost {
		targets = append(targets, Mattermost{Name: hook.Name, URL: hook.URL})
	}
	if len(targets) == 0 {
		return nil
	}
	return Multi{Targets: targets}
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 15 * time.Second}
}

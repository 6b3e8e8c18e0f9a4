package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sitepack/sitepack/internal/config"
)

// Event describes the outcome of one migration operation.
type Event struct {
	Type      string    `json:"type"` // backup or restore
	Message   string    `json:"message"`
	Status    string    `json:"status"`
	Domain    string    `json:"domain"`
	Key       string    `json:"key,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Duration  string    `json:"duration"`
	Error     string    `json:"error,omitempty"`
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

// FromConfig builds a notifier fan-out; nil when nothing is configured.
func FromConfig(cfg config.NotificationsConfig) Notifier {
	targets := []Notifier{}
	for _, hook := range cfg.Webhooks {
		targets = append(targets, Webhook{Name: hook.Name, URL: hook.URL, Headers: hook.Headers})
	}
	if len(targets) == 0 {
		return nil
	}
	return Multi{Targets: targets}
}

var (
	clientOnce sync.Once
	client     *http.Client
)

func httpClient() *http.Client {
	clientOnce.Do(func() {
		client = &http.Client{Timeout: 10 * time.Second}
	})
	return client
}

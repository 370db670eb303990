package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"mediaguard/internal/config"
)

const userAgent = "mediaguard/0.1.0"

// Event identifies the alert being published.
type Event string

const (
	EventScoringError   Event = "scoring_error"
	EventRetryExhausted Event = "retry_exhausted"
	EventSweepCompleted Event = "sweep_completed"
	EventError          Event = "error"
	EventTest           Event = "test"
)

// Payload carries event fields. Keys are event specific.
type Payload map[string]any

// Service defines the notification surface exposed to pipeline components.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventScoringError:   cfg.Notifications.ScoringErrors,
			EventRetryExhausted: cfg.Notifications.RetryExhausted,
			EventSweepCompleted: cfg.Notifications.Sweeps,
			EventError:          true,
			EventTest:           true,
		},
		dedupWindow: time.Duration(cfg.Notifications.DedupWindowSeconds) * time.Second,
		lastSent:    make(map[string]time.Time),
		now:         time.Now,
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool

	dedupWindow time.Duration
	mu          sync.Mutex
	lastSent    map[string]time.Time
	now         func() time.Time
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if n == nil || n.client == nil {
		return nil
	}
	if !n.enabled[event] {
		return nil
	}
	msg, ok := format(event, payload)
	if !ok {
		return fmt.Errorf("unsupported notification event %q", event)
	}
	if n.suppressed(string(event) + "|" + msg.body) {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) suppressed(key string) bool {
	if n.dedupWindow <= 0 {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	now := n.now()
	if last, ok := n.lastSent[key]; ok && now.Sub(last) < n.dedupWindow {
		return true
	}
	n.lastSent[key] = now
	for k, at := range n.lastSent {
		if now.Sub(at) >= n.dedupWindow {
			delete(n.lastSent, k)
		}
	}
	return false
}

func format(event Event, payload Payload) (message, bool) {
	switch event {
	case EventScoringError:
		return message{
			title:    "mediaguard - Scoring Error",
			body:     fmt.Sprintf("Scoring failed for upload %s: %s\nRecord left pending", field(payload, "uploadID"), field(payload, "error")),
			tags:     []string{"mediaguard", "scoring", "error"},
			priority: "high",
		}, true
	case EventRetryExhausted:
		body := fmt.Sprintf("Job %s exhausted retries: %s", field(payload, "job"), field(payload, "error"))
		if id := field(payload, "uploadID"); id != "" {
			body = fmt.Sprintf("%s\nUpload: %s", body, id)
		}
		return message{
			title:    "mediaguard - Retries Exhausted",
			body:     body,
			tags:     []string{"mediaguard", "jobs", "failed"},
			priority: "high",
		}, true
	case EventSweepCompleted:
		return message{
			title: "mediaguard - Sweep Complete",
			body:  fmt.Sprintf("%s: %s", field(payload, "sweep"), field(payload, "summary")),
			tags:  []string{"mediaguard", "maintenance", "completed"},
		}, true
	case EventError:
		var builder strings.Builder
		builder.WriteString("Error")
		if label := field(payload, "context"); label != "" {
			builder.WriteString(" with ")
			builder.WriteString(label)
		}
		builder.WriteString(": ")
		if detail := field(payload, "error"); detail != "" {
			builder.WriteString(detail)
		} else {
			builder.WriteString("unknown")
		}
		return message{
			title:    "mediaguard - Error",
			body:     builder.String(),
			tags:     []string{"mediaguard", "error", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "mediaguard - Test",
			body:     "Notification system test",
			tags:     []string{"mediaguard", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func field(payload Payload, key string) string {
	if payload == nil {
		return ""
	}
	value, ok := payload[key]
	if !ok || value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case error:
		return strings.TrimSpace(v.Error())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func (n *ntfyService) send(ctx context.Context, data message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }

// Recorder captures published events in memory. Tests use it in place of ntfy.
type Recorder struct {
	mu     sync.Mutex
	Events []Recorded
}

// Recorded is one captured publish call.
type Recorded struct {
	Event   Event
	Payload Payload
}

// Publish records the event.
func (r *Recorder) Publish(_ context.Context, event Event, payload Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, Recorded{Event: event, Payload: payload})
	return nil
}

// Count returns how many events of the given kind were recorded.
func (r *Recorder) Count(event Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.Events {
		if rec.Event == event {
			n++
		}
	}
	return n
}

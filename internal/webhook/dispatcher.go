package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/TimurManjosov/postguard/internal/audit"
	"github.com/TimurManjosov/postguard/internal/telemetry"
)

const (
	// queueSize is the buffer size for the event queue
	queueSize = 1000

	// maxResponseBodySize limits how much of a failed response is logged
	maxResponseBodySize = 1024
)

// Endpoint is a configured webhook receiver.
type Endpoint struct {
	URL    string
	Secret string
	// Events limits delivery to these event types; empty means all.
	Events     []string
	MaxRetries int
	Timeout    time.Duration
}

// Options configures a Dispatcher. Nil fields get defaults.
type Options struct {
	Logger logrus.FieldLogger
	Client *http.Client
	// Backoff returns the wait before retry number attempt (0-based).
	Backoff   func(attempt int) time.Duration
	QueueSize int
}

// Dispatcher delivers events to endpoints from a background worker.
type Dispatcher struct {
	endpoints []Endpoint
	client    *http.Client
	logger    logrus.FieldLogger
	backoff   func(int) time.Duration

	mu     sync.RWMutex // guards closed against sends on a closed queue
	queue  chan Event
	done   chan struct{}
	closed bool
}

// NewDispatcher creates a dispatcher. Call Start before dispatching.
func NewDispatcher(endpoints []Endpoint, opts Options) *Dispatcher {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.Backoff == nil {
		opts.Backoff = ExponentialBackoff
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = queueSize
	}
	return &Dispatcher{
		endpoints: endpoints,
		client:    opts.Client,
		logger:    opts.Logger.WithField("component", "webhook"),
		backoff:   opts.Backoff,
		queue:     make(chan Event, opts.QueueSize),
		done:      make(chan struct{}),
	}
}

// ExponentialBackoff waits 1s, 2s, 4s, ... between attempts.
func ExponentialBackoff(attempt int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempt))) * time.Second
}

// Start begins processing events from the queue
func (d *Dispatcher) Start() {
	go d.worker()
}

// Close stops accepting events and waits for queued deliveries to finish.
// It is safe to call more than once.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	<-d.done
	return nil
}

// Dispatch queues an event without blocking. Events are dropped when the
// queue is full or the dispatcher is closed.
func (d *Dispatcher) Dispatch(event Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- event:
	default:
		telemetry.WebhookDeliveries.WithLabelValues("dropped").Inc()
		d.logger.WithFields(logrus.Fields{
			"event":       event.Type,
			"resource_id": event.Resource.ID,
			"queue_size":  cap(d.queue),
		}).Error("queue full, dropping event")
	}
}

// Write implements audit.Sink so the dispatcher can sit behind the audit
// service. Events without a webhook counterpart are ignored.
func (d *Dispatcher) Write(_ context.Context, e audit.Event) error {
	if event, ok := FromAudit(e); ok {
		d.Dispatch(event)
	}
	return nil
}

func (d *Dispatcher) worker() {
	defer close(d.done)

	for event := range d.queue {
		for _, ep := range d.endpoints {
			if matches(ep, event) {
				d.deliverWithRetry(context.Background(), ep, event)
			}
		}
	}
}

// matches reports whether ep subscribes to the event's type.
func matches(ep Endpoint, event Event) bool {
	if len(ep.Events) == 0 {
		return true
	}
	for _, e := range ep.Events {
		if e == event.Type || e == "*" {
			return true
		}
	}
	return false
}

// deliverWithRetry POSTs the signed event until a 2xx response or the
// endpoint's retries are exhausted.
func (d *Dispatcher) deliverWithRetry(ctx context.Context, ep Endpoint, event Event) bool {
	payload, err := json.Marshal(event)
	if err != nil {
		d.logger.WithError(err).WithField("event", event.Type).Error("failed to encode payload")
		telemetry.WebhookDeliveries.WithLabelValues("failed").Inc()
		return false
	}

	signature := ComputeHMAC(payload, ep.Secret)
	deliveryID := uuid.NewString()
	log := d.logger.WithFields(logrus.Fields{
		"url":         ep.URL,
		"event":       event.Type,
		"delivery_id": deliveryID,
	})

	for attempt := 0; attempt <= ep.MaxRetries; attempt++ {
		start := time.Now()
		status, body, err := d.post(ctx, ep, event.Type, deliveryID, signature, payload)
		entry := log.WithFields(logrus.Fields{
			"attempt":     attempt + 1,
			"status":      status,
			"duration_ms": time.Since(start).Milliseconds(),
		})

		if err == nil && status >= 200 && status < 300 {
			entry.Debug("delivered")
			telemetry.WebhookDeliveries.WithLabelValues("success").Inc()
			return true
		}
		if err != nil {
			entry = entry.WithError(err)
		} else if body != "" {
			entry = entry.WithField("response", body)
		}

		if attempt < ep.MaxRetries {
			wait := d.backoff(attempt)
			entry.WithField("retry_in", wait.String()).Warn("delivery failed")
			time.Sleep(wait)
			continue
		}
		entry.Error("delivery failed permanently")
	}

	telemetry.WebhookDeliveries.WithLabelValues("failed").Inc()
	return false
}

func (d *Dispatcher) post(ctx context.Context, ep Endpoint, eventType, deliveryID, signature string, payload []byte) (int, string, error) {
	if ep.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ep.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Postguard-Signature", signature)
	req.Header.Set("X-Postguard-Event", eventType)
	req.Header.Set("X-Postguard-Delivery", deliveryID)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	return resp.StatusCode, string(body), nil
}

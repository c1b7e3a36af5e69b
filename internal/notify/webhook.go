package notify

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
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/toko-refunds/internal/events"
	"github.com/noah-isme/toko-refunds/internal/resilience"
)

// ErrQueueFull is returned when an event cannot be queued for delivery.
var ErrQueueFull = errors.New("notify: webhook queue full")

// Endpoint is a webhook receiver subscribed to a set of topics. An empty
// topic list subscribes to everything.
type Endpoint struct {
	URL    string
	Secret string
	Topics []string
}

func (e Endpoint) wants(topic string) bool {
	if len(e.Topics) == 0 {
		return true
	}
	for _, t := range e.Topics {
		if t == topic {
			return true
		}
	}
	return false
}

// Dispatcher delivers domain events to a webhook endpoint. It implements
// events.Notifier; Notify only queues, delivery happens in Run.
type Dispatcher struct {
	Endpoint    Endpoint
	HTTP        *resilience.HTTPClient
	Replay      ReplayProtector
	ReplayTTL   time.Duration
	MaxAttempts int
	BackoffBase time.Duration
	Logger      zerolog.Logger

	once  sync.Once
	queue chan events.Event
}

// Start prepares the delivery queue. It is called implicitly by Notify and Run.
func (d *Dispatcher) Start(buffer int) {
	d.once.Do(func() {
		if buffer <= 0 {
			buffer = 128
		}
		d.queue = make(chan events.Event, buffer)
	})
}

// Notify queues ev for delivery when the endpoint subscribes to its topic.
func (d *Dispatcher) Notify(_ context.Context, ev events.Event) error {
	if d == nil || strings.TrimSpace(d.Endpoint.URL) == "" || !d.Endpoint.wants(ev.Topic) {
		return nil
	}
	d.Start(0)
	select {
	case d.queue <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run delivers queued events until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	d.Start(0)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-d.queue:
			d.deliverWithRetry(ctx, ev)
		}
	}
}

func (d *Dispatcher) deliverWithRetry(ctx context.Context, ev events.Event) {
	attempts := d.MaxAttempts
	if attempts <= 0 {
		attempts = 6
	}
	base := d.BackoffBase
	if base <= 0 {
		base = time.Second
	}
	logger := d.Logger.With().Str("event_id", ev.ID).Str("topic", ev.Topic).Logger()
	for attempt := 1; attempt <= attempts; attempt++ {
		status, err := d.Deliver(ctx, ev)
		if err == nil && status < http.StatusMultipleChoices {
			logger.Debug().Int("attempt", attempt).Int("status", status).Msg("webhook_delivered")
			return
		}
		if err == nil {
			err = fmt.Errorf("receiver responded %d", status)
		}
		logger.Warn().Err(err).Int("attempt", attempt).Msg("webhook_delivery_failed")
		if attempt == attempts {
			break
		}
		timer := time.NewTimer(resilience.Backoff(base, attempt, 0.2))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
	logger.Error().Int("attempts", attempts).Msg("webhook_delivery_abandoned")
	if d.Replay != nil {
		_ = d.Replay.Release(context.WithoutCancel(ctx), replayKey(d.Endpoint.URL, ev.ID))
	}
}

// Deliver posts one signed event and returns the receiver status code.
func (d *Dispatcher) Deliver(ctx context.Context, ev events.Event) (int, error) {
	client := d.HTTP
	if client == nil {
		client = &resilience.HTTPClient{Client: HttpClient(5000), Target: "webhook"}
	}
	ctx, span := otel.Tracer("notify.Dispatcher").Start(ctx, "Dispatcher.Deliver")
	defer span.End()
	span.SetAttributes(
		attribute.String("webhook.event_id", ev.ID),
		attribute.String("webhook.topic", ev.Topic),
	)
	if err := validateURL(d.Endpoint.URL); err != nil {
		span.RecordError(err)
		return 0, err
	}
	payload := struct {
		EventID     string          `json:"eventId"`
		Topic       string          `json:"topic"`
		AggregateID string          `json:"aggregateId"`
		Data        json.RawMessage `json:"data"`
		OccurredAt  time.Time       `json:"occurredAt"`
	}{
		EventID:     ev.ID,
		Topic:       ev.Topic,
		AggregateID: ev.AggregateID,
		Data:        ev.Payload,
		OccurredAt:  ev.OccurredAt,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	if d.Replay != nil && d.ReplayTTL > 0 {
		ok, err := d.Replay.Acquire(ctx, replayKey(d.Endpoint.URL, ev.ID), d.ReplayTTL)
		if err != nil {
			span.RecordError(err)
			return 0, err
		}
		if !ok {
			span.AddEvent("delivery replay prevented")
			return http.StatusOK, nil
		}
	}
	ts := time.Now().Unix()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.Endpoint.URL, bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "toko-refunds-webhooks/1.0")
	req.Header.Set("X-Event-ID", ev.ID)
	req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Idempotency-Key", ev.ID)
	req.Header.Set("X-Signature", ComputeSignature(d.Endpoint.Secret, ts, ev.ID, body))
	resp, err := client.Do(ctx, req)
	if err != nil {
		span.RecordError(err)
		d.releaseReplay(ctx, ev.ID)
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusMultipleChoices {
		d.releaseReplay(ctx, ev.ID)
	}
	return resp.StatusCode, nil
}

func (d *Dispatcher) releaseReplay(ctx context.Context, eventID string) {
	if d.Replay == nil || d.ReplayTTL <= 0 {
		return
	}
	_ = d.Replay.Release(context.WithoutCancel(ctx), replayKey(d.Endpoint.URL, eventID))
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid endpoint url: %w", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return errors.New("webhook url must be http or https")
	}
	if parsed.Scheme == "http" {
		host := parsed.Hostname()
		if host != "localhost" && host != "127.0.0.1" {
			return errors.New("http webhook only allowed for localhost")
		}
	}
	if parsed.Host == "" {
		return errors.New("webhook url must include host")
	}
	return nil
}

// ComputeSignature calculates the webhook signature for the provided payload. The
// format is HMAC-SHA256 over "<ts>.<eventID>.<body>" using the endpoint secret.
func ComputeSignature(secret string, ts int64, eventID string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strconv.FormatInt(ts, 10)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write([]byte(eventID))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// HttpClient returns an HTTP client configured for webhook delivery.
func HttpClient(timeoutMs int) *http.Client {
	if timeoutMs <= 0 {
		timeoutMs = 5000
	}
	return &http.Client{
		Timeout:   time.Duration(timeoutMs) * time.Millisecond,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// ReplayProtector guards against sending duplicate deliveries within a TTL.
type ReplayProtector interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

func replayKey(endpointURL, eventID string) string {
	return "webhook:replay:" + hashURL(endpointURL) + ":" + eventID
}

func hashURL(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:8])
}

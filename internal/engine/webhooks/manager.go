package webhooks

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"flock/internal/pkg/validator"
	"flock/internal/platform/config"
)

const (
	defaultMaxAttempts     = 3
	defaultDeliveryTimeout = 10 * time.Second
	defaultRetryInterval   = 30 * time.Second
	deliveryBackoffBase    = time.Second
	maxBackoffShift        = 16
	maxResponseBodyBytes   = 1024
	userAgent              = "Flock-Webhook/1.0"
)

// Manager fans business events out to subscribed endpoints over signed
// HTTP callbacks, at least once, with exponential backoff on failure.
//
// Endpoints live behind the EndpointStore port; events and deliveries
// are memory-resident and lost on restart, same durability tradeoff as
// the job queue.
type Manager struct {
	store EndpointStore

	mu         sync.RWMutex
	events     map[string]*Event
	deliveries map[string]*Delivery
	order      []string // delivery ids in creation order

	client      *http.Client
	maxAttempts int

	// autoProcess triggers a delivery pass right after fan-out. Tests
	// switch it off and drive ProcessPending explicitly.
	autoProcess bool

	retryStop chan struct{}
	retryWG   sync.WaitGroup

	now func() time.Time
}

func NewManager(store EndpointStore, cfg config.WebhooksConfig) *Manager {
	timeout := cfg.DeliveryTimeout
	if timeout <= 0 {
		timeout = defaultDeliveryTimeout
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	return &Manager{
		store:       store,
		events:      make(map[string]*Event),
		deliveries:  make(map[string]*Delivery),
		client:      &http.Client{Timeout: timeout},
		maxAttempts: maxAttempts,
		autoProcess: true,
		now:         time.Now,
	}
}

// RegisterEndpoint subscribes a callback URL to a set of event types.
// The URL's reachability is not checked here. The generated secret is
// returned once in the created endpoint; callers must keep it to
// verify signatures.
func (m *Manager) RegisterEndpoint(url string, events []string, isActive bool) (*Endpoint, error) {
	if err := validator.ValidateWebhookURL(url); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("at least one event type is required")
	}
	for _, ev := range events {
		if !KnownEvents[ev] {
			return nil, fmt.Errorf("unknown event type %q", ev)
		}
	}

	e := &Endpoint{
		ID:        "wh_" + uuid.NewString(),
		URL:       url,
		Events:    events,
		Secret:    newSecret(),
		IsActive:  isActive,
		CreatedAt: m.now().Unix(),
	}

	if err := m.store.Insert(e); err != nil {
		return nil, err
	}

	log.Info().Str("endpoint_id", e.ID).Str("url", url).Strs("events", events).Msg("webhook endpoint registered")
	return e, nil
}

// UnregisterEndpoint removes an endpoint. Returns false when the id is
// not found, so calling it twice yields true then false.
func (m *Manager) UnregisterEndpoint(id string) bool {
	ok, err := m.store.Delete(id)
	if err != nil {
		log.Error().Err(err).Str("endpoint_id", id).Msg("webhook endpoint delete failed")
		return false
	}
	return ok
}

func (m *Manager) Endpoints() ([]*Endpoint, error) {
	return m.store.List()
}

func (m *Manager) Endpoint(id string) (*Endpoint, error) {
	return m.store.Get(id)
}

// TriggerEvent records a business event and creates one pending
// delivery per active endpoint subscribed to its type. Satisfies
// jobs.EventTrigger.
func (m *Manager) TriggerEvent(eventType string, data map[string]interface{}, source string) error {
	if !KnownEvents[eventType] {
		return fmt.Errorf("unknown event type %q", eventType)
	}
	if source == "" {
		source = "system"
	}

	event := &Event{
		ID:        "evt_" + uuid.NewString(),
		Type:      eventType,
		Data:      data,
		Timestamp: m.now(),
		Source:    source,
	}

	endpoints, err := m.store.List()
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.events[event.ID] = event
	created := 0
	for _, e := range endpoints {
		if !e.IsActive || !e.subscribes(eventType) {
			continue
		}
		d := &Delivery{
			ID:          "del_" + uuid.NewString(),
			EndpointID:  e.ID,
			EventID:     event.ID,
			Status:      DeliveryPending,
			MaxAttempts: m.maxAttempts,
			CreatedAt:   m.now(),
		}
		m.deliveries[d.ID] = d
		m.order = append(m.order, d.ID)
		created++
	}
	m.mu.Unlock()

	log.Debug().Str("event_id", event.ID).Str("type", eventType).Int("deliveries", created).Msg("webhook event triggered")

	if created > 0 && m.autoProcess {
		go m.ProcessPending()
	}
	return nil
}

// ProcessPending attempts every due pending delivery once. Safe to
// call concurrently: a delivery is claimed (flipped to retrying) under
// the lock before its HTTP attempt, so overlapping passes never
// double-send.
func (m *Manager) ProcessPending() {
	now := m.now()

	m.mu.Lock()
	var claimed []*Delivery
	for _, id := range m.order {
		d := m.deliveries[id]
		if d.Status != DeliveryPending {
			continue
		}
		if d.NextRetryAt != nil && d.NextRetryAt.After(now) {
			continue
		}
		d.Status = DeliveryRetrying
		d.Attempts++
		claimed = append(claimed, d)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, d := range claimed {
		wg.Add(1)
		go func(d *Delivery) {
			defer wg.Done()
			m.attempt(d)
		}(d)
	}
	wg.Wait()
}

// ProcessRetries is the retry-tick entry point; retries are just
// pending deliveries whose next_retry_at has elapsed.
func (m *Manager) ProcessRetries() {
	m.ProcessPending()
}

// StartRetryLoop re-attempts due deliveries on a fixed interval until
// StopRetryLoop is called. Without it a delivery that fails its first
// attempt is only retried when a later event happens to trigger a
// pass, which degrades at-least-once to at-most-once.
func (m *Manager) StartRetryLoop(interval time.Duration) {
	if interval <= 0 {
		interval = defaultRetryInterval
	}

	m.mu.Lock()
	if m.retryStop != nil {
		m.mu.Unlock()
		return
	}
	m.retryStop = make(chan struct{})
	stop := m.retryStop
	m.mu.Unlock()

	m.retryWG.Add(1)
	go func() {
		defer m.retryWG.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.ProcessPending()
			}
		}
	}()

	log.Info().Dur("interval", interval).Msg("webhook retry loop started")
}

// StopRetryLoop halts the retry ticker. Attempts already in flight run
// to completion.
func (m *Manager) StopRetryLoop() {
	m.mu.Lock()
	if m.retryStop == nil {
		m.mu.Unlock()
		return
	}
	close(m.retryStop)
	m.retryStop = nil
	m.mu.Unlock()

	m.retryWG.Wait()
}

func (m *Manager) attempt(d *Delivery) {
	m.mu.RLock()
	event := m.events[d.EventID]
	m.mu.RUnlock()

	endpoint, err := m.store.Get(d.EndpointID)
	if err != nil {
		// Transient store failure (busy database, network blip): put
		// the delivery back without consuming an attempt.
		m.mu.Lock()
		d.Attempts--
		d.Status = DeliveryPending
		next := m.now().Add(deliveryBackoffBase)
		d.NextRetryAt = &next
		m.mu.Unlock()
		log.Warn().Err(err).Str("delivery_id", d.ID).Str("endpoint_id", d.EndpointID).Msg("endpoint lookup failed, delivery requeued")
		return
	}
	if event == nil || endpoint == nil {
		// Endpoint unregistered (or event evicted) between fan-out and
		// attempt; nothing left to deliver to.
		m.mu.Lock()
		d.Status = DeliveryFailed
		d.ResponseBody = "endpoint or event no longer exists"
		m.mu.Unlock()
		return
	}

	code, body, sendErr := m.send(endpoint, event)

	now := m.now()
	success := sendErr == nil && code >= 200 && code < 300

	m.store.RecordOutcome(endpoint.ID, success, now.Unix())

	m.mu.Lock()
	defer m.mu.Unlock()

	d.ResponseCode = code
	if sendErr != nil {
		d.ResponseBody = sendErr.Error()
	} else {
		d.ResponseBody = body
	}

	if success {
		d.Status = DeliveryDelivered
		d.DeliveredAt = &now
		log.Debug().Str("delivery_id", d.ID).Str("endpoint_id", endpoint.ID).Int("code", code).Msg("webhook delivered")
		return
	}

	if d.Attempts < d.MaxAttempts {
		next := now.Add(backoff(deliveryBackoffBase, d.Attempts))
		d.Status = DeliveryPending
		d.NextRetryAt = &next
		log.Warn().Str("delivery_id", d.ID).Str("endpoint_id", endpoint.ID).Int("attempt", d.Attempts).Time("retry_at", next).Msg("webhook delivery failed, retry scheduled")
		return
	}

	d.Status = DeliveryFailed
	log.Error().Str("delivery_id", d.ID).Str("endpoint_id", endpoint.ID).Int("attempts", d.Attempts).Msg("webhook delivery failed permanently")
}

func (m *Manager) send(endpoint *Endpoint, event *Event) (int, string, error) {
	payload, err := json.Marshal(struct {
		ID        string                 `json:"id"`
		Type      string                 `json:"type"`
		Data      map[string]interface{} `json:"data"`
		Timestamp string                 `json:"timestamp"`
		Source    string                 `json:"source"`
	}{
		ID:        event.ID,
		Type:      event.Type,
		Data:      event.Data,
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
		Source:    event.Source,
	})
	if err != nil {
		return 0, "", err
	}

	req, err := http.NewRequest(http.MethodPost, endpoint.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, "", err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", "sha256="+Sign(endpoint.Secret, payload))
	req.Header.Set("X-Webhook-Event", event.Type)
	req.Header.Set("User-Agent", userAgent)

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	return resp.StatusCode, string(body), nil
}

// Deliveries lists deliveries, optionally filtered by endpoint and/or
// status, in creation order.
func (m *Manager) Deliveries(endpointID string, status DeliveryStatus) []*Delivery {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Delivery
	for _, id := range m.order {
		d := m.deliveries[id]
		if endpointID != "" && d.EndpointID != endpointID {
			continue
		}
		if status != "" && d.Status != status {
			continue
		}
		c := *d
		out = append(out, &c)
	}
	return out
}

func (m *Manager) EventByID(id string) *Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.events[id]
}

// backoff doubles per attempt: 1s, 2s, 4s... The exponent is clamped
// so an extreme attempt count cannot shift the delay negative.
func backoff(base time.Duration, attempts int) time.Duration {
	shift := attempts - 1
	if shift < 0 {
		shift = 0
	}
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	return base << shift
}

func newSecret() string {
	buf := make([]byte, 32)
	rand.Read(buf)
	return "whsec_" + hex.EncodeToString(buf)
}

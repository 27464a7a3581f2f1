package webhooks

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"flock/internal/platform/config"
)

func newTestManager() *Manager {
	m := NewManager(NewMemoryEndpointStore(), config.WebhooksConfig{MaxAttempts: 3})
	m.autoProcess = false
	return m
}

func TestRegisterEndpoint(t *testing.T) {
	m := newTestManager()

	e, err := m.RegisterEndpoint("https://example.com/hook", []string{"assignment.created"}, true)
	if err != nil {
		t.Fatalf("RegisterEndpoint failed: %v", err)
	}
	if e.ID == "" || e.Secret == "" {
		t.Error("endpoint should get an id and a generated secret")
	}
	if !e.IsActive {
		t.Error("endpoint should be active")
	}

	endpoints, _ := m.Endpoints()
	if len(endpoints) != 1 {
		t.Errorf("Endpoints() returned %d, want 1", len(endpoints))
	}
}

func TestRegisterEndpoint_RejectsBadInput(t *testing.T) {
	m := newTestManager()

	tests := []struct {
		name   string
		url    string
		events []string
	}{
		{"empty url", "", []string{"assignment.created"}},
		{"bad scheme", "ftp://example.com", []string{"assignment.created"}},
		{"no events", "https://example.com/hook", nil},
		{"unknown event", "https://example.com/hook", []string{"bitcoin.mined"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.RegisterEndpoint(tt.url, tt.events, true); err == nil {
				t.Error("expected registration to fail")
			}
		})
	}
}

func TestUnregisterEndpoint_Idempotent(t *testing.T) {
	m := newTestManager()

	e, _ := m.RegisterEndpoint("https://example.com/hook", []string{"assignment.created"}, true)

	if !m.UnregisterEndpoint(e.ID) {
		t.Error("first unregister should return true")
	}
	if m.UnregisterEndpoint(e.ID) {
		t.Error("second unregister should return false")
	}
}

func TestTriggerEvent_FanOut(t *testing.T) {
	m := newTestManager()

	subscribed, _ := m.RegisterEndpoint("https://a.example.com/hook", []string{"assignment.created"}, true)
	m.RegisterEndpoint("https://b.example.com/hook", []string{"event.created"}, true)
	m.RegisterEndpoint("https://c.example.com/hook", []string{"assignment.created"}, false) // inactive

	if err := m.TriggerEvent("assignment.created", map[string]interface{}{"id": "123"}, ""); err != nil {
		t.Fatalf("TriggerEvent failed: %v", err)
	}

	all := m.Deliveries("", "")
	if len(all) != 1 {
		t.Fatalf("deliveries = %d, want exactly 1 (only the active subscribed endpoint)", len(all))
	}
	d := all[0]
	if d.EndpointID != subscribed.ID {
		t.Errorf("delivery endpoint = %s, want %s", d.EndpointID, subscribed.ID)
	}
	if d.Status != DeliveryPending {
		t.Errorf("delivery status = %s, want pending", d.Status)
	}

	event := m.EventByID(d.EventID)
	if event == nil || event.Type != "assignment.created" {
		t.Error("delivery should reference the triggered event")
	}
	if event.Source != "system" {
		t.Errorf("empty source should default to system, got %s", event.Source)
	}
}

func TestTriggerEvent_UnknownType(t *testing.T) {
	m := newTestManager()

	if err := m.TriggerEvent("not.a.thing", nil, "test"); err == nil {
		t.Error("expected error for unrecognized event type")
	}
}

func TestDelivery_Success(t *testing.T) {
	var gotSignature, gotEventHeader, gotUA string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get("X-Webhook-Signature")
		gotEventHeader = r.Header.Get("X-Webhook-Event")
		gotUA = r.Header.Get("User-Agent")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := newTestManager()
	e, _ := m.RegisterEndpoint(srv.URL, []string{"assignment.created"}, true)

	m.TriggerEvent("assignment.created", map[string]interface{}{"id": "123"}, "api")
	m.ProcessPending()

	deliveries := m.Deliveries(e.ID, "")
	if len(deliveries) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(deliveries))
	}
	d := deliveries[0]
	if d.Status != DeliveryDelivered {
		t.Fatalf("status = %s, want delivered", d.Status)
	}
	if d.DeliveredAt == nil {
		t.Error("delivered_at should be stamped")
	}
	if d.ResponseCode != http.StatusOK {
		t.Errorf("response code = %d, want 200", d.ResponseCode)
	}

	updated, _ := m.Endpoint(e.ID)
	if updated.SuccessCount != 1 {
		t.Errorf("success_count = %d, want 1", updated.SuccessCount)
	}
	if updated.LastTriggered == nil {
		t.Error("last_triggered should be set after a successful delivery")
	}

	// Wire contract: signed JSON payload with the documented shape.
	if gotEventHeader != "assignment.created" {
		t.Errorf("X-Webhook-Event = %q", gotEventHeader)
	}
	if gotUA != "Flock-Webhook/1.0" {
		t.Errorf("User-Agent = %q", gotUA)
	}
	if !VerifySignature(gotBody, gotSignature, e.Secret) {
		t.Error("payload signature did not verify under the endpoint secret")
	}

	var payload struct {
		ID        string                 `json:"id"`
		Type      string                 `json:"type"`
		Data      map[string]interface{} `json:"data"`
		Timestamp string                 `json:"timestamp"`
		Source    string                 `json:"source"`
	}
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if payload.Type != "assignment.created" || payload.Source != "api" {
		t.Errorf("payload = %+v", payload)
	}
	if payload.Data["id"] != "123" {
		t.Errorf("payload data = %v", payload.Data)
	}
	if _, err := time.Parse(time.RFC3339, payload.Timestamp); err != nil {
		t.Errorf("timestamp %q is not RFC3339", payload.Timestamp)
	}
}

func TestDelivery_RetriesThenFails(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := newTestManager()
	e, _ := m.RegisterEndpoint(srv.URL, []string{"assignment.created"}, true)

	m.TriggerEvent("assignment.created", map[string]interface{}{"id": "123"}, "test")

	// First attempt fails and schedules a retry with backoff.
	m.ProcessPending()
	d := m.Deliveries(e.ID, "")[0]
	if d.Status != DeliveryPending {
		t.Fatalf("after first failure: status = %s, want pending", d.Status)
	}
	if d.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", d.Attempts)
	}
	if d.NextRetryAt == nil || !d.NextRetryAt.After(time.Now()) {
		t.Fatal("next_retry_at should be in the future")
	}
	firstRetryAt := *d.NextRetryAt

	// Not due yet: a pass now must not re-attempt.
	m.ProcessPending()
	if got := m.Deliveries(e.ID, "")[0].Attempts; got != 1 {
		t.Fatalf("attempts = %d after premature pass, want 1", got)
	}

	// Force the remaining attempts due.
	forceDeliveryDue(m, d.ID)
	m.ProcessPending()

	second := m.Deliveries(e.ID, "")[0]
	if second.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", second.Attempts)
	}
	if !second.NextRetryAt.After(firstRetryAt) {
		t.Error("backoff should push each retry further out")
	}

	forceDeliveryDue(m, d.ID)
	m.ProcessPending()

	final := m.Deliveries(e.ID, "")[0]
	if final.Status != DeliveryFailed {
		t.Fatalf("status = %s, want failed after exhausting attempts", final.Status)
	}
	if final.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", final.Attempts)
	}

	updated, _ := m.Endpoint(e.ID)
	if updated.FailureCount != 3 {
		t.Errorf("failure_count = %d, want 3", updated.FailureCount)
	}
	if hits.Load() != 3 {
		t.Errorf("endpoint hit %d times, want 3", hits.Load())
	}

	// Terminal: nothing left to process.
	m.ProcessPending()
	if got := m.Deliveries(e.ID, "")[0].Attempts; got != 3 {
		t.Error("terminally failed delivery was re-attempted")
	}
}

func TestDelivery_NetworkErrorRetries(t *testing.T) {
	m := newTestManager()
	// Nothing listens here; the connection is refused.
	e, _ := m.RegisterEndpoint("http://127.0.0.1:1/hook", []string{"assignment.created"}, true)

	m.TriggerEvent("assignment.created", nil, "test")
	m.ProcessPending()

	d := m.Deliveries(e.ID, "")[0]
	if d.Status != DeliveryPending {
		t.Fatalf("status = %s, want pending (network errors are retryable)", d.Status)
	}
	if d.ResponseBody == "" {
		t.Error("response_body should record the network error")
	}
}

func TestRetryLoop_DrivesDueDeliveries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := newTestManager()
	e, _ := m.RegisterEndpoint(srv.URL, []string{"assignment.created"}, true)

	m.TriggerEvent("assignment.created", nil, "test")
	m.ProcessPending()

	d := m.Deliveries(e.ID, "")[0]
	if d.Status != DeliveryPending {
		t.Fatalf("status = %s, want pending after first failure", d.Status)
	}

	// No further TriggerEvent happens; only the loop can retry this.
	forceDeliveryDue(m, d.ID)
	m.StartRetryLoop(5 * time.Millisecond)
	defer m.StopRetryLoop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := m.Deliveries(e.ID, DeliveryDelivered); len(got) == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("retry loop never re-attempted the due delivery")
}

// flakyEndpointStore fails Get a fixed number of times, modeling a
// busy database.
type flakyEndpointStore struct {
	*MemoryEndpointStore
	getFailures int
}

func (s *flakyEndpointStore) Get(id string) (*Endpoint, error) {
	if s.getFailures > 0 {
		s.getFailures--
		return nil, errors.New("database is locked")
	}
	return s.MemoryEndpointStore.Get(id)
}

func TestAttempt_StoreErrorIsNotTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := &flakyEndpointStore{MemoryEndpointStore: NewMemoryEndpointStore()}
	m := NewManager(store, config.WebhooksConfig{MaxAttempts: 3})
	m.autoProcess = false

	e, _ := m.RegisterEndpoint(srv.URL, []string{"assignment.created"}, true)
	m.TriggerEvent("assignment.created", nil, "test")

	store.getFailures = 1
	m.ProcessPending()

	d := m.Deliveries(e.ID, "")[0]
	if d.Status != DeliveryPending {
		t.Fatalf("status = %s, want pending (store hiccup is transient)", d.Status)
	}
	if d.Attempts != 0 {
		t.Errorf("attempts = %d, want 0 (store failure must not consume an attempt)", d.Attempts)
	}
	if d.NextRetryAt == nil {
		t.Fatal("next_retry_at should be set for the requeued delivery")
	}

	forceDeliveryDue(m, d.ID)
	m.ProcessPending()

	got := m.Deliveries(e.ID, "")[0]
	if got.Status != DeliveryDelivered {
		t.Fatalf("status = %s, want delivered once the store recovers", got.Status)
	}
	if got.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", got.Attempts)
	}
}

func TestDeliveryBackoff_Clamped(t *testing.T) {
	for _, attempts := range []int{63, 64, 500} {
		if got := backoff(deliveryBackoffBase, attempts); got <= 0 {
			t.Errorf("backoff(%d) = %v, want a positive delay", attempts, got)
		}
	}
}

func TestDeliveries_Filters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := newTestManager()
	a, _ := m.RegisterEndpoint(srv.URL, []string{"assignment.created"}, true)
	b, _ := m.RegisterEndpoint(srv.URL+"/other", []string{"assignment.created"}, true)

	m.TriggerEvent("assignment.created", nil, "test")
	m.ProcessPending()

	if got := len(m.Deliveries("", "")); got != 2 {
		t.Errorf("all deliveries = %d, want 2", got)
	}
	if got := len(m.Deliveries(a.ID, "")); got != 1 {
		t.Errorf("endpoint filter = %d, want 1", got)
	}
	if got := len(m.Deliveries(b.ID, DeliveryDelivered)); got != 1 {
		t.Errorf("status filter = %d, want 1", got)
	}
	if got := len(m.Deliveries(a.ID, DeliveryFailed)); got != 0 {
		t.Errorf("failed filter = %d, want 0", got)
	}
}

func forceDeliveryDue(m *Manager, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d, ok := m.deliveries[id]; ok && d.NextRetryAt != nil {
		past := time.Now().Add(-time.Millisecond)
		d.NextRetryAt = &past
	}
}

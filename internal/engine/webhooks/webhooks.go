package webhooks

import "time"

// KnownEvents is the closed set of business event types endpoints may
// subscribe to. Registration rejects anything outside it.
var KnownEvents = map[string]bool{
	"assignment.created":   true,
	"assignment.updated":   true,
	"assignment.cancelled": true,
	"event.created":        true,
	"event.updated":        true,
	"event.cancelled":      true,
	"volunteer.joined":     true,
	"volunteer.left":       true,
	"ministry.created":     true,
	"notification.sent":    true,
	"user.registered":      true,
}

type Endpoint struct {
	ID            string   `json:"id"`
	URL           string   `json:"url"`
	Events        []string `json:"events"`
	Secret        string   `json:"secret"`
	IsActive      bool     `json:"is_active"`
	CreatedAt     int64    `json:"created_at"`
	LastTriggered *int64   `json:"last_triggered,omitempty"`
	SuccessCount  int      `json:"success_count"`
	FailureCount  int      `json:"failure_count"`
}

func (e *Endpoint) subscribes(eventType string) bool {
	for _, ev := range e.Events {
		if ev == eventType {
			return true
		}
	}
	return false
}

// Event is immutable once created; it is consumed by fan-out into
// deliveries.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"`
}

type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryRetrying  DeliveryStatus = "retrying"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

type Delivery struct {
	ID           string         `json:"id"`
	EndpointID   string         `json:"endpoint_id"`
	EventID      string         `json:"event_id"`
	Status       DeliveryStatus `json:"status"`
	Attempts     int            `json:"attempts"`
	MaxAttempts  int            `json:"max_attempts"`
	NextRetryAt  *time.Time     `json:"next_retry_at,omitempty"`
	ResponseCode int            `json:"response_code,omitempty"`
	ResponseBody string         `json:"response_body,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	DeliveredAt  *time.Time     `json:"delivered_at,omitempty"`
}

package auth

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/mqtt"
)

// EventKind names an identity event.
type EventKind string

const (
	EventLogin           EventKind = "login"
	EventLoginFailed     EventKind = "login_failed"
	EventRefresh         EventKind = "refresh"
	EventRefreshFailed   EventKind = "refresh_failed"
	EventRefreshReuse    EventKind = "refresh_reuse"
	EventLogout          EventKind = "logout"
	EventLogoutAll       EventKind = "logout_all"
	EventPasswordChanged EventKind = "password_changed"
	EventRegistered      EventKind = "registered"
	EventAccessChanged   EventKind = "access_changed"
)

// Event describes something that happened to an identity. It never carries
// a token or a password.
type Event struct {
	Kind      EventKind `json:"kind"`
	UserID    string    `json:"user_id,omitempty"`
	Email     string    `json:"email,omitempty"`
	Success   bool      `json:"success"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventSink receives identity events. Emit must not block the caller for
// long and must not fail the operation that produced the event.
type EventSink interface {
	Emit(ctx context.Context, e Event)
}

// EventSinks fans an event out to every sink.
type EventSinks []EventSink

// Emit implements EventSink.
func (s EventSinks) Emit(ctx context.Context, e Event) {
	for _, sink := range s {
		if sink != nil {
			sink.Emit(ctx, e)
		}
	}
}

// MessagePublisher is the subset of the MQTT client used for events.
type MessagePublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// MQTTEventSink publishes each event as JSON on
// graylogic/identity/event/{kind}.
type MQTTEventSink struct {
	pub    MessagePublisher
	qos    byte
	logger *logging.Logger
}

// NewMQTTEventSink creates an MQTT sink. Publish failures are logged.
func NewMQTTEventSink(pub MessagePublisher, qos byte, logger *logging.Logger) *MQTTEventSink {
	return &MQTTEventSink{pub: pub, qos: qos, logger: logger}
}

// Emit implements EventSink.
func (s *MQTTEventSink) Emit(_ context.Context, e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		return
	}
	if err := s.pub.Publish(mqtt.Topics{}.IdentityEvent(string(e.Kind)), payload, s.qos, false); err != nil && s.logger != nil {
		s.logger.Warn("identity event not published", "kind", e.Kind, "error", err)
	}
}

// AuthEventWriter is the subset of the InfluxDB client used for events.
type AuthEventWriter interface {
	WriteAuthEvent(kind string, success bool, reason string)
}

// InfluxEventSink records each event as an auth_events point.
type InfluxEventSink struct {
	w AuthEventWriter
}

// NewInfluxEventSink creates an InfluxDB sink.
func NewInfluxEventSink(w AuthEventWriter) *InfluxEventSink {
	return &InfluxEventSink{w: w}
}

// Emit implements EventSink.
func (s *InfluxEventSink) Emit(_ context.Context, e Event) {
	s.w.WriteAuthEvent(string(e.Kind), e.Success, e.Reason)
}

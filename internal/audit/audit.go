// Package audit carries the canonical security-event model and the sinks
// that receive it. Emission is fire-and-forget by contract: no sink failure
// may propagate into the operation being described.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// EventType names one security event. The set is closed: every event the
// engine can emit is declared here, so sinks can switch exhaustively and
// downstream pipelines can rely on the vocabulary staying fixed.
type EventType string

const (
	// Account lifecycle.
	EventRegisterSuccess   EventType = "register_success"
	EventRegisterDuplicate EventType = "register_duplicate"
	EventRegisterFailure   EventType = "register_failure"
	EventAccountDeleted    EventType = "account_deleted"

	// Login and lockout.
	EventLoginSuccess     EventType = "login_success"
	EventLoginFailure     EventType = "login_failure"
	EventLoginRateLimited EventType = "login_rate_limited"

	// Refresh-session lifecycle.
	EventSessionIssued        EventType = "session_issued"
	EventRefreshSuccess       EventType = "refresh_success"
	EventRefreshInvalid       EventType = "refresh_invalid"
	EventRefreshExpired       EventType = "refresh_expired"
	EventRefreshTheftDetected EventType = "refresh_theft_detected"
	EventLogoutSession        EventType = "logout_session"
	EventLogoutAll            EventType = "logout_all"
	EventFamilyRevoked        EventType = "family_revoked"

	// Password management.
	EventPasswordChangeSuccess EventType = "password_change_success"
	EventPasswordChangeFailure EventType = "password_change_failure"
	EventPasswordResetRequest  EventType = "password_reset_request"
	EventPasswordResetConfirm  EventType = "password_reset_confirm"
	EventPasswordResetReplay   EventType = "password_reset_replay"

	// Email verification.
	EventVerificationSent              EventType = "verification_sent"
	EventVerificationResendRequest     EventType = "verification_resend_request"
	EventVerificationResendRateLimited EventType = "verification_resend_rate_limited"
	EventVerificationAlreadyVerified   EventType = "verification_already_verified"
	EventEmailVerified                 EventType = "email_verified"
)

var knownEventTypes = map[EventType]struct{}{
	EventRegisterSuccess:               {},
	EventRegisterDuplicate:             {},
	EventRegisterFailure:               {},
	EventAccountDeleted:                {},
	EventLoginSuccess:                  {},
	EventLoginFailure:                  {},
	EventLoginRateLimited:              {},
	EventSessionIssued:                 {},
	EventRefreshSuccess:                {},
	EventRefreshInvalid:                {},
	EventRefreshExpired:                {},
	EventRefreshTheftDetected:          {},
	EventLogoutSession:                 {},
	EventLogoutAll:                     {},
	EventFamilyRevoked:                 {},
	EventPasswordChangeSuccess:         {},
	EventPasswordChangeFailure:         {},
	EventPasswordResetRequest:          {},
	EventPasswordResetConfirm:          {},
	EventPasswordResetReplay:           {},
	EventVerificationSent:              {},
	EventVerificationResendRequest:     {},
	EventVerificationResendRateLimited: {},
	EventVerificationAlreadyVerified:   {},
	EventEmailVerified:                 {},
}

// Known reports whether t is part of the closed event vocabulary.
func (t EventType) Known() bool {
	_, ok := knownEventTypes[t]
	return ok
}

// Event is a single structured security event.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType EventType         `json:"event_type"`
	UserID    string            `json:"user_id,omitempty"`
	Email     string            `json:"email,omitempty"`
	IP        string            `json:"ip,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Sink receives emitted audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes audit events into a buffered channel the host drains at
// its own pace. A full channel blocks only until ctx ends.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

package domain

import "time"

// EventType names a state transition recorded in the event log.
type EventType string

const (
	EventCircuitOpened         EventType = "circuit_opened"
	EventCircuitClosed         EventType = "circuit_closed"
	EventManualReset           EventType = "manual_reset"
	EventQuotaExhausted        EventType = "quota_exhausted"
	EventAllProvidersExhausted EventType = "all_providers_exhausted"
	EventDeadLettered          EventType = "dead_lettered"
	EventDeadLetterRetried     EventType = "dead_letter_retried"
	EventDeadLetterReviewed    EventType = "dead_letter_reviewed"
	EventDeadLetterPurged      EventType = "dead_letter_purged"
	EventDeadLettersUnreviewed EventType = "dead_letters_unreviewed"
	EventStaleClaimsReclaimed  EventType = "stale_claims_reclaimed"
	EventDeliveryUnconfirmed   EventType = "delivery_unconfirmed"
)

func (e EventType) String() string { return string(e) }

// Severity ranks how urgently an operator should look at an event.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

func (s Severity) String() string { return string(s) }

// HealthEvent is an immutable audit row. Provider is nil for system-wide events.
type HealthEvent struct {
	ID        string
	Provider  *ProviderID
	Type      EventType
	Severity  Severity
	Message   string
	Metadata  map[string]any
	CreatedAt time.Time
}

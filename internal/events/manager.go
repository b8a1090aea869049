package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType represents different event types
type EventType string

const (
	RulesChanged     EventType = "RULES_CHANGED"
	CacheInvalidated EventType = "CACHE_INVALIDATED"
	ErrorOccurred    EventType = "ERROR_OCCURRED"

	// Proposal lifecycle events
	ProposalCreated  EventType = "PROPOSAL_CREATED"
	ProposalApproved EventType = "PROPOSAL_APPROVED"
	ProposalRejected EventType = "PROPOSAL_REJECTED"
	ProposalApplied  EventType = "PROPOSAL_APPLIED"

	// Ingestion events
	ScraperRunStarted   EventType = "SCRAPER_RUN_STARTED"
	ScraperRunCompleted EventType = "SCRAPER_RUN_COMPLETED"
	BreakingChangeFound EventType = "BREAKING_CHANGE_FOUND"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Module    string                 `json:"module"`
}

// Handler receives emitted events. Handlers must be fast; Emit calls them
// synchronously in emission order.
type Handler func(Event)

// Manager handles event emission, logging, and fan-out to subscribers
type Manager struct {
	log zerolog.Logger

	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewManager creates a new event manager
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		log:      log.With().Str("service", "events").Logger(),
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe registers a handler for an event type
func (m *Manager) Subscribe(eventType EventType, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[eventType] = append(m.handlers[eventType], h)
}

// Emit emits an event
func (m *Manager) Emit(eventType EventType, module string, data map[string]interface{}) {
	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
		Module:    module,
	}

	eventJSON, _ := json.Marshal(event)
	m.log.Info().
		Str("event_type", string(eventType)).
		Str("module", module).
		RawJSON("event", eventJSON).
		Msg("Event emitted")

	m.mu.RLock()
	subs := m.handlers[eventType]
	m.mu.RUnlock()

	for _, h := range subs {
		h(event)
	}
}

// EmitError emits an error event
func (m *Manager) EmitError(module string, err error, context map[string]interface{}) {
	data := map[string]interface{}{
		"error":   err.Error(),
		"context": context,
	}
	m.Emit(ErrorOccurred, module, data)
}

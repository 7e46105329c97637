package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a telemetry event emitted by the rules engine.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// EvaluationID is the associated evaluation, if applicable.
	EvaluationID string `json:"evaluation_id,omitempty"`

	// RunID is the associated filter run, if applicable.
	RunID string `json:"run_id,omitempty"`

	// FieldName is the associated field, if applicable.
	FieldName string `json:"field_name,omitempty"`

	// EntityID is the associated entity, if applicable.
	EntityID string `json:"entity_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeEvaluationStarted   = "evaluation.started"
	EventTypeEvaluationCompleted = "evaluation.completed"
	EventTypeEvaluationFailed    = "evaluation.failed"
	EventTypeFieldDefaulted      = "field.defaulted"
	EventTypeFieldFailed         = "field.failed"
	EventTypeFilterRunStarted    = "filter.run_started"
	EventTypeFilterRunCompleted  = "filter.run_completed"
	EventTypeFilterEntityFailed  = "filter.entity_failed"
	EventTypeFieldConfigSaved    = "registry.field_saved"
	EventTypeEntityTypeSaved     = "registry.entity_type_saved"
	EventTypeAdmissionDenied     = "admission.denied"
	EventTypeError               = "error"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil // Event filtered out
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishEvaluationStarted publishes an evaluation started event.
func (ep *EventPublisher) PublishEvaluationStarted(evaluationID string) error {
	return ep.Publish(Event{
		Type:         EventTypeEvaluationStarted,
		Source:       "engine",
		EvaluationID: evaluationID,
		Message:      fmt.Sprintf("Evaluation %s started", evaluationID),
		Level:        EventLevelInfo,
	})
}

// PublishEvaluationCompleted publishes an evaluation completed event.
func (ep *EventPublisher) PublishEvaluationCompleted(evaluationID string, matched bool, duration time.Duration) error {
	return ep.Publish(Event{
		Type:         EventTypeEvaluationCompleted,
		Source:       "engine",
		EvaluationID: evaluationID,
		Message:      fmt.Sprintf("Evaluation %s completed, matched=%t", evaluationID, matched),
		Level:        EventLevelInfo,
		Data: map[string]interface{}{
			"matched":  matched,
			"duration": duration.Seconds(),
		},
	})
}

// PublishEvaluationFailed publishes an evaluation failed event.
func (ep *EventPublisher) PublishEvaluationFailed(evaluationID, code, reason string) error {
	return ep.Publish(Event{
		Type:         EventTypeEvaluationFailed,
		Source:       "engine",
		EvaluationID: evaluationID,
		Message:      fmt.Sprintf("Evaluation %s failed: %s", evaluationID, reason),
		Level:        EventLevelError,
		Data: map[string]interface{}{
			"code":   code,
			"reason": reason,
		},
	})
}

// PublishFieldDefaulted publishes a field defaulted event.
func (ep *EventPublisher) PublishFieldDefaulted(evaluationID, fieldName, reason string) error {
	return ep.Publish(Event{
		Type:         EventTypeFieldDefaulted,
		Source:       "resolver",
		EvaluationID: evaluationID,
		FieldName:    fieldName,
		Message:      fmt.Sprintf("Field %s fell back to its default: %s", fieldName, reason),
		Level:        EventLevelWarning,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishFieldFailed publishes a field failed event.
func (ep *EventPublisher) PublishFieldFailed(evaluationID, fieldName, code, reason string) error {
	return ep.Publish(Event{
		Type:         EventTypeFieldFailed,
		Source:       "resolver",
		EvaluationID: evaluationID,
		FieldName:    fieldName,
		Message:      fmt.Sprintf("Field %s failed: %s", fieldName, reason),
		Level:        EventLevelError,
		Data: map[string]interface{}{
			"code":   code,
			"reason": reason,
		},
	})
}

// PublishFilterRunStarted publishes a filter run started event.
func (ep *EventPublisher) PublishFilterRunStarted(runID, entityType string, total int) error {
	return ep.Publish(Event{
		Type:    EventTypeFilterRunStarted,
		Source:  "filter",
		RunID:   runID,
		Message: fmt.Sprintf("Filter run %s started over %d %s entities", runID, total, entityType),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"entity_type": entityType,
			"total":       total,
		},
	})
}

// PublishFilterRunCompleted publishes a filter run completed event.
func (ep *EventPublisher) PublishFilterRunCompleted(runID string, matched, failed int, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeFilterRunCompleted,
		Source:  "filter",
		RunID:   runID,
		Message: fmt.Sprintf("Filter run %s completed: %d matched, %d failed", runID, matched, failed),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"matched":  matched,
			"failed":   failed,
			"duration": duration.Seconds(),
		},
	})
}

// PublishFilterEntityFailed publishes a per-entity failure event.
func (ep *EventPublisher) PublishFilterEntityFailed(runID, entityID, code, reason string) error {
	return ep.Publish(Event{
		Type:     EventTypeFilterEntityFailed,
		Source:   "filter",
		RunID:    runID,
		EntityID: entityID,
		Message:  fmt.Sprintf("Entity %s failed during filter run %s: %s", entityID, runID, reason),
		Level:    EventLevelError,
		Data: map[string]interface{}{
			"code":   code,
			"reason": reason,
		},
	})
}

// PublishFieldConfigSaved publishes a registry change event for a field.
func (ep *EventPublisher) PublishFieldConfigSaved(fieldName string, version int) error {
	return ep.Publish(Event{
		Type:      EventTypeFieldConfigSaved,
		Source:    "registry",
		FieldName: fieldName,
		Message:   fmt.Sprintf("Field config %s saved at version %d", fieldName, version),
		Level:     EventLevelInfo,
		Data: map[string]interface{}{
			"version": version,
		},
	})
}

// PublishEntityTypeSaved publishes a registry change event for an entity type.
func (ep *EventPublisher) PublishEntityTypeSaved(typeName string, version int) error {
	return ep.Publish(Event{
		Type:    EventTypeEntityTypeSaved,
		Source:  "registry",
		Message: fmt.Sprintf("Entity type %s saved at version %d", typeName, version),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"type_name": typeName,
			"version":   version,
		},
	})
}

// PublishAdmissionDenied publishes a policy denial event.
func (ep *EventPublisher) PublishAdmissionDenied(subject, policyName, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeAdmissionDenied,
		Source:  "policy",
		Message: fmt.Sprintf("Admission denied for %s: %s - %s", subject, policyName, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"subject": subject,
			"policy":  policyName,
			"reason":  reason,
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents processes events from the buffer asynchronously.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)

			if len(batch) >= ep.config.MaxBatchSize {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case <-ep.ctx.Done():
			// Flush remaining events before shutting down
			if len(batch) > 0 {
				ep.flushBatch(batch)
			}
			return
		}
	}
}

// flushBatch delivers a batch of events to subscribers.
func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}

		// Call subscriber in a goroutine to avoid blocking
		go entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByRunID creates a filter that only allows events for a specific filter run.
func FilterByRunID(runID string) EventFilter {
	return func(event Event) bool {
		return event.RunID == runID
	}
}

// FilterByEvaluationID creates a filter that only allows events for a specific evaluation.
func FilterByEvaluationID(evaluationID string) EventFilter {
	return func(event Event) bool {
		return event.EvaluationID == evaluationID
	}
}

// Package audit records pipeline lifecycle events for the audit trail
// and forwards them to an external SIEM. Both paths are best effort;
// auditing never blocks or fails the pipeline.
package audit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dteflow/dteflow/pkg/observability/logger"
)

const defaultBufferSize = 256

// Event is one audit trail record.
type Event struct {
	ID     string            `json:"id"`
	Action string            `json:"action"`
	Fields map[string]string `json:"fields,omitempty"`
	At     time.Time         `json:"at"`
}

// Forwarder ships audit events to an external collector. Implementations
// must tolerate failure; the auditor ignores their errors.
type Forwarder interface {
	Send(ctx context.Context, event Event) error
}

// Config tunes the auditor.
type Config struct {
	// BufferSize bounds the in-flight event queue. When the buffer is
	// full new events are dropped, never blocked on.
	BufferSize int
}

func (c *Config) normalize() {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
}

// Auditor writes audit events through a buffered dispatch goroutine.
// Record is fire-and-forget: it never blocks the caller and never
// surfaces an error into the pipeline.
type Auditor struct {
	log       logger.Logger
	forwarder Forwarder

	events  chan Event
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once
	dropsMu sync.Mutex
	drops   int64
}

// New starts an auditor. forwarder may be nil when no SIEM is configured.
func New(cfg Config, log logger.Logger, forwarder Forwarder) *Auditor {
	cfg.normalize()
	a := &Auditor{
		log:       log,
		forwarder: forwarder,
		events:    make(chan Event, cfg.BufferSize),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go a.dispatch()
	return a
}

// Record enqueues an audit event. Implements the worker audit contract.
func (a *Auditor) Record(ctx context.Context, action string, fields map[string]string) {
	if a == nil || strings.TrimSpace(action) == "" {
		return
	}
	event := Event{
		ID:     uuid.NewString(),
		Action: action,
		Fields: cloneFields(fields),
		At:     time.Now().UTC(),
	}
	select {
	case a.events <- event:
	default:
		// Dropping is the contract: an overloaded audit trail must not
		// stall document processing.
		a.dropsMu.Lock()
		a.drops++
		drops := a.drops
		a.dropsMu.Unlock()
		if drops%100 == 1 {
			a.log.Warn("audit buffer full, dropping events", "dropped_total", drops)
		}
	}
}

// Dropped reports how many events were discarded due to a full buffer.
func (a *Auditor) Dropped() int64 {
	a.dropsMu.Lock()
	defer a.dropsMu.Unlock()
	return a.drops
}

// Close drains buffered events and stops the dispatcher.
func (a *Auditor) Close() {
	if a == nil {
		return
	}
	a.once.Do(func() {
		close(a.quit)
		<-a.done
	})
}

func (a *Auditor) dispatch() {
	defer close(a.done)
	for {
		select {
		case event := <-a.events:
			a.emit(event)
		case <-a.quit:
			for {
				select {
				case event := <-a.events:
					a.emit(event)
				default:
					return
				}
			}
		}
	}
}

func (a *Auditor) emit(event Event) {
	args := make([]any, 0, 6+2*len(event.Fields))
	args = append(args, "audit_id", event.ID, "action", event.Action, "at", event.At)
	for key, value := range event.Fields {
		args = append(args, key, value)
	}
	a.log.Info("audit", args...)

	if a.forwarder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.forwarder.Send(ctx, event); err != nil {
		a.log.Warn("siem forward failed", "audit_id", event.ID, "action", event.Action, "error", err)
	}
}

func cloneFields(fields map[string]string) map[string]string {
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string]string, len(fields))
	for key, value := range fields {
		out[key] = value
	}
	return out
}

// Package events is a small observer registry with typed payloads.
//
// A Registry is owned by a reader session rather than living in a package
// global. Handlers are keyed by the event name and invoked synchronously, in
// subscription order, on the goroutine that publishes.
//
//	reg := events.NewRegistry()
//	unsubscribe := events.Subscribe(reg, func(e events.OCREnded) {
//		log.Info().Bool("faulted", e.Faulted).Msg("ocr ended")
//	})
//	defer unsubscribe()
package events

import (
	"sync"

	"scanreader/internal/models"
)

const (
	NameOCRStarted       = "ocr-started"
	NameOCREnded         = "ocr-ended"
	NameDocumentLoaded   = "document-loaded"
	NameDocumentUnloaded = "document-unloaded"
	NamePageChanged      = "page-changed"
)

// Event is implemented by every payload published on a Registry.
type Event interface {
	EventName() string
}

type OCRStarted struct {
	Token models.RequestToken
}

type OCREnded struct {
	Token     models.RequestToken
	Faulted   bool
	Cancelled bool
}

type DocumentLoaded struct {
	URI            string
	Pages          int
	CanRenderPages bool
}

type DocumentUnloaded struct {
	URI string
}

type PageChanged struct {
	Current  int
	Previous int
}

func (OCRStarted) EventName() string       { return NameOCRStarted }
func (OCREnded) EventName() string         { return NameOCREnded }
func (DocumentLoaded) EventName() string   { return NameDocumentLoaded }
func (DocumentUnloaded) EventName() string { return NameDocumentUnloaded }
func (PageChanged) EventName() string      { return NamePageChanged }

type handlerEntry struct {
	id uint64
	fn func(Event)
}

// Registry dispatches events to subscribed handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]handlerEntry
	nextID   uint64
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string][]handlerEntry)}
}

// On registers an untyped handler for an event name.
func (r *Registry) On(name string, fn func(Event)) (unsubscribe func()) {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.handlers[name] = append(r.handlers[name], handlerEntry{id: id, fn: fn})
	r.mu.Unlock()

	return func() { r.remove(name, id) }
}

func (r *Registry) remove(name string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.handlers[name]
	for i, entry := range entries {
		if entry.id == id {
			r.handlers[name] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(r.handlers[name]) == 0 {
		delete(r.handlers, name)
	}
}

// Publish calls every handler registered for the event's name.
func (r *Registry) Publish(e Event) {
	r.mu.RLock()
	entries := append([]handlerEntry(nil), r.handlers[e.EventName()]...)
	r.mu.RUnlock()

	for _, entry := range entries {
		entry.fn(e)
	}
}

// HandlerCount returns the number of handlers for an event name.
func (r *Registry) HandlerCount(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[name])
}

// Subscribe registers a handler for the event type E.
func Subscribe[E Event](r *Registry, fn func(E)) (unsubscribe func()) {
	var zero E
	return r.On(zero.EventName(), func(e Event) {
		if typed, ok := e.(E); ok {
			fn(typed)
		}
	})
}

// Package stream delivers live progress updates to subscribers. The
// orchestrator is the producer; it must never wait on a slow or absent
// consumer, so every subscriber gets its own buffered channel and
// sends never block.
package stream

import (
	"sync"
	"time"

	"github.com/contentforge/contentforge/internal/model"
)

type EventType string

const (
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is one element of a job's subscription stream. Complete and
// Error are terminal; the channel is closed after either.
type Event struct {
	Type      EventType               `json:"type"`
	Timestamp time.Time               `json:"timestamp"`
	Update    *model.ProgressUpdate   `json:"update,omitempty"`
	Result    *model.GeneratedContent `json:"result,omitempty"`
	Error     string                  `json:"error,omitempty"`
}

type subscriber struct {
	ch chan Event
}

type topic struct {
	subscribers []*subscriber
}

// Hub fans progress events out to any number of subscribers per job.
// Every subscriber observes the same ordered sequence from the point
// of attachment; there is exactly one producer per job so ordering
// follows publish order.
type Hub struct {
	mu         sync.RWMutex
	topics     map[string]*topic
	bufferSize int
}

// NewHub creates a hub with the given per-subscriber buffer size.
func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Hub{
		topics:     make(map[string]*topic),
		bufferSize: bufferSize,
	}
}

// Subscribe attaches to a job's live stream. Returns the event channel
// and an unsubscribe function. Detaching never cancels the job.
func (h *Hub) Subscribe(jobID string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.topics[jobID]
	if !ok {
		t = &topic{}
		h.topics[jobID] = t
	}
	sub := &subscriber{ch: make(chan Event, h.bufferSize)}
	t.subscribers = append(t.subscribers, sub)

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		t, ok := h.topics[jobID]
		if !ok {
			return
		}
		for i, s := range t.subscribers {
			if s == sub {
				t.subscribers = append(t.subscribers[:i], t.subscribers[i+1:]...)
				close(s.ch)
				break
			}
		}
		if len(t.subscribers) == 0 {
			delete(h.topics, jobID)
		}
	}
	return sub.ch, unsubscribe
}

// Publish delivers a progress update to all current subscribers. A
// subscriber whose buffer is full loses the update; the persisted log
// stays complete either way.
func (h *Hub) Publish(jobID string, update model.ProgressUpdate) {
	h.broadcast(jobID, Event{
		Type:      EventProgress,
		Timestamp: time.Now().UTC(),
		Update:    &update,
	}, false)
}

// Complete delivers the terminal success event and tears the topic
// down. The terminal event evicts buffered progress if it must, so it
// is never lost to a full buffer.
func (h *Hub) Complete(jobID string, result model.GeneratedContent) {
	h.broadcast(jobID, Event{
		Type:      EventComplete,
		Timestamp: time.Now().UTC(),
		Result:    &result,
	}, true)
	h.closeTopic(jobID)
}

// Fail delivers the terminal error event and tears the topic down.
func (h *Hub) Fail(jobID string, message string) {
	h.broadcast(jobID, Event{
		Type:      EventError,
		Timestamp: time.Now().UTC(),
		Error:     message,
	}, true)
	h.closeTopic(jobID)
}

func (h *Hub) broadcast(jobID string, event Event, terminal bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	t, ok := h.topics[jobID]
	if !ok {
		return
	}
	for _, sub := range t.subscribers {
		if terminal {
			// Drop-oldest until the terminal event fits. Bounded by the
			// buffer size, so the producer still cannot stall.
			for {
				select {
				case sub.ch <- event:
				default:
					select {
					case <-sub.ch:
					default:
					}
					continue
				}
				break
			}
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// Buffer full: drop for this subscriber.
		}
	}
}

func (h *Hub) closeTopic(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[jobID]
	if !ok {
		return
	}
	for _, sub := range t.subscribers {
		close(sub.ch)
	}
	delete(h.topics, jobID)
}

package queue

import (
	"sync"
	"time"
)

// Counters accumulate over the process lifetime; they are not
// persisted.
type Counters struct {
	JobsSubmitted      int `json:"jobs_submitted"`
	JobsCompleted      int `json:"jobs_completed"`
	JobsFailed         int `json:"jobs_failed"`
	JobsRetried        int `json:"jobs_retried"`
	ValidationFailures int `json:"validation_failures"`
	LeasesAcquired     int `json:"leases_acquired"`
	LeasesContended    int `json:"leases_contended"`
}

// Metrics is the snapshot served by the metrics endpoint.
type Metrics struct {
	QueueDepth map[string]int `json:"queue_depth"`
	Counters   Counters       `json:"counters"`
	UpdatedAt  string         `json:"updated_at"`
}

type metrics struct {
	mu       sync.Mutex
	counters Counters
}

func (m *metrics) update(fn func(*Counters)) {
	m.mu.Lock()
	fn(&m.counters)
	m.mu.Unlock()
}

func (m *metrics) snapshot(queueDepth map[string]int) Metrics {
	m.mu.Lock()
	counters := m.counters
	m.mu.Unlock()
	return Metrics{
		QueueDepth: queueDepth,
		Counters:   counters,
		UpdatedAt:  time.Now().UTC().Format(time.RFC3339),
	}
}

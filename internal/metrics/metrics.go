package metrics

import (
	"sync"
	"time"
)

type Metrics struct {
	mu sync.RWMutex

	// Counters
	ScheduledRuns     int64
	ManualRuns        int64
	BusyRejections    int64
	DigestsSent       int64
	NotFoundSent      int64
	DeliveryFailures  int64
	SourcesFetched    int64
	SourcesFailed     int64
	ItemsMatched      int64
	ItemsSelected     int64
	ManualRateLimited int64

	// Timings
	LastProcessingTime    time.Duration
	AverageProcessingTime time.Duration
	TotalProcessingTime   time.Duration
	ProcessingCount       int64

	// Status
	StartedAt     time.Time
	LastRunTime   time.Time
	LastErrorTime time.Time
	LastError     string
	IsHealthy     bool
}

func New() *Metrics {
	return &Metrics{IsHealthy: true, StartedAt: time.Now()}
}

// IncrementRun counts a run that acquired the run guard.
func (m *Metrics) IncrementRun(manual bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if manual {
		m.ManualRuns++
	} else {
		m.ScheduledRuns++
	}
}

func (m *Metrics) IncrementBusy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BusyRejections++
}

func (m *Metrics) IncrementRateLimited() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ManualRateLimited++
}

func (m *Metrics) IncrementDigestsSent(notFound bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if notFound {
		m.NotFoundSent++
	} else {
		m.DigestsSent++
	}
}

func (m *Metrics) IncrementDeliveryFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeliveryFailures++
}

// RecordFetch adds one pool's fetch outcome.
func (m *Metrics) RecordFetch(sources, failed, matched int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SourcesFetched += int64(sources)
	m.SourcesFailed += int64(failed)
	m.ItemsMatched += int64(matched)
}

func (m *Metrics) AddSelected(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ItemsSelected += int64(n)
}

func (m *Metrics) RecordProcessingTime(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LastProcessingTime = duration
	m.TotalProcessingTime += duration
	m.ProcessingCount++

	if m.ProcessingCount > 0 {
		m.AverageProcessingTime = m.TotalProcessingTime / time.Duration(m.ProcessingCount)
	}
}

func (m *Metrics) SetLastRun() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastRunTime = time.Now()
	m.IsHealthy = true
}

func (m *Metrics) SetError(err string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastError = err
	m.LastErrorTime = time.Now()
	m.IsHealthy = false
}

func (m *Metrics) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.IsHealthy
}

func (m *Metrics) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"scheduled_runs":             m.ScheduledRuns,
		"manual_runs":                m.ManualRuns,
		"busy_rejections":            m.BusyRejections,
		"manual_rate_limited":        m.ManualRateLimited,
		"digests_sent":               m.DigestsSent,
		"not_found_sent":             m.NotFoundSent,
		"delivery_failures":          m.DeliveryFailures,
		"sources_fetched":            m.SourcesFetched,
		"sources_failed":             m.SourcesFailed,
		"items_matched":              m.ItemsMatched,
		"items_selected":             m.ItemsSelected,
		"last_processing_time_ms":    m.LastProcessingTime.Milliseconds(),
		"average_processing_time_ms": m.AverageProcessingTime.Milliseconds(),
		"uptime_seconds":             int64(time.Since(m.StartedAt).Seconds()),
		"last_run_time":              formatTime(m.LastRunTime),
		"last_error_time":            formatTime(m.LastErrorTime),
		"last_error":                 m.LastError,
		"is_healthy":                 m.IsHealthy,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

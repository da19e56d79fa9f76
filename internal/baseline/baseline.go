// Package baseline keeps a bounded, arrival-ordered history of recent values
// per metric name. It is the statistical reference every detector reads.
//
// Each metric series has its own mutex: updates to one metric never contend
// with another, and readers always receive a copy taken under the lock.
package baseline

import (
	"sort"
	"sync"
	"time"

	"github.com/mbd888/vigil/internal/metrics"
)

// DefaultCapacity is the number of most-recent values kept per metric.
const DefaultCapacity = 100

// Sample is a single metric observation as reported by a service.
type Sample struct {
	ServiceName string            `json:"serviceName"`
	MetricName  string            `json:"metricName"`
	Value       float64           `json:"value"`
	Timestamp   time.Time         `json:"timestamp"`
	Labels      map[string]string `json:"labels,omitempty"`
}

type series struct {
	mu     sync.Mutex
	values []float64
}

// Store holds one rolling window per metric name.
type Store struct {
	series   sync.Map // map[string]*series
	capacity int
	namesMu  sync.Mutex
	names    map[string]struct{}
}

// NewStore creates a baseline store keeping capacity values per metric
// (DefaultCapacity when capacity <= 0).
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		names:    make(map[string]struct{}),
	}
}

// Capacity returns the per-metric window size.
func (s *Store) Capacity() int {
	return s.capacity
}

// Update appends value to metricName's history, evicting the oldest value
// once the window is full.
func (s *Store) Update(metricName string, value float64) {
	w := s.getSeries(metricName)
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.values) < s.capacity {
		w.values = append(w.values, value)
	} else {
		copy(w.values, w.values[1:])
		w.values[len(w.values)-1] = value
	}
	metrics.BaselineUpdatesTotal.Inc()
}

// Record is the sample form of Update. Service name, timestamp and labels
// are accepted for the caller's convenience; the baseline is keyed by
// metric name only.
func (s *Store) Record(sample Sample) {
	s.Update(sample.MetricName, sample.Value)
}

// History returns a copy of metricName's values, oldest first.
func (s *Store) History(metricName string) []float64 {
	v, ok := s.series.Load(metricName)
	if !ok {
		return []float64{}
	}
	w := v.(*series)
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]float64, len(w.values))
	copy(out, w.values)
	return out
}

// Len returns the number of values currently held for metricName.
func (s *Store) Len(metricName string) int {
	v, ok := s.series.Load(metricName)
	if !ok {
		return 0
	}
	w := v.(*series)
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.values)
}

// Metrics returns the sorted names of all tracked metrics.
func (s *Store) Metrics() []string {
	s.namesMu.Lock()
	defer s.namesMu.Unlock()

	out := make([]string, 0, len(s.names))
	for name := range s.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *Store) getSeries(metricName string) *series {
	if v, ok := s.series.Load(metricName); ok {
		return v.(*series)
	}
	v, loaded := s.series.LoadOrStore(metricName, &series{
		values: make([]float64, 0, s.capacity),
	})
	if !loaded {
		s.namesMu.Lock()
		s.names[metricName] = struct{}{}
		n := len(s.names)
		s.namesMu.Unlock()
		metrics.BaselineSeries.Set(float64(n))
	}
	return v.(*series)
}

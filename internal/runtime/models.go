package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/drblury/romeways/connector"
	"github.com/drblury/romeways/internal/runtime/envelope"
)

// Callback consumes one decoded message. Returning an error that matches
// errors.ErrResend asks for the message to be pushed back to its queue when
// the queue is configured with ResendOnResolveFail. Any other error is logged
// and swallowed.
type Callback func(ctx context.Context, msg envelope.Message) error

// Itinerary binds one queue of one connector to a callback.
type Itinerary struct {
	QueueName    string
	Settings     connector.QueueSettings
	Config       connector.QueueConfig
	Callback     Callback
	CallbackName string

	stats *ItineraryStats
}

// Stats returns the live counters of the itinerary.
func (it Itinerary) Stats() *ItineraryStats {
	return it.stats
}

// RegionMap records how to build the connectors of one connector name and
// whether its worker runs in an isolated process.
type RegionMap struct {
	Type          connector.Type
	Settings      connector.Settings
	SpawnIsolated bool
}

// ConnectorName returns the registry key of the region map.
func (r RegionMap) ConnectorName() string {
	if r.Settings == nil {
		return ""
	}
	return r.Settings.ConnectorConfig().ConnectorName
}

// ItineraryStats counts what a scheduler did for one itinerary. Counters are
// per process: an isolated worker keeps its own copy.
type ItineraryStats struct {
	mu sync.Mutex

	MessagesProcessed uint64        `json:"messages_processed"`
	MessagesFailed    uint64        `json:"messages_failed"`
	MessagesResent    uint64        `json:"messages_resent"`
	Cycles            uint64        `json:"cycles"`
	Overruns          uint64        `json:"overruns"`
	LastBatchSize     int           `json:"last_batch_size"`
	LastCycleDuration time.Duration `json:"last_cycle_duration_ns"`
	TotalCallbackTime time.Duration `json:"total_callback_time_ns"`
	LastProcessedAt   time.Time     `json:"last_processed_at"`
}

func newItineraryStats() *ItineraryStats {
	return &ItineraryStats{}
}

func (s *ItineraryStats) recordCycle(batch int, duration time.Duration) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Cycles++
	s.LastBatchSize = batch
	s.LastCycleDuration = duration
}

func (s *ItineraryStats) recordOverrun() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Overruns++
}

func (s *ItineraryStats) recordOutcome(outcome string, duration time.Duration) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch outcome {
	case outcomeSuccess:
		s.MessagesProcessed++
	case outcomeResent:
		s.MessagesFailed++
		s.MessagesResent++
	default:
		s.MessagesFailed++
	}
	s.TotalCallbackTime += duration
	s.LastProcessedAt = time.Now()
}

// Snapshot returns a copy safe to serialise.
func (s *ItineraryStats) Snapshot() ItineraryStatsSnapshot {
	if s == nil {
		return ItineraryStatsSnapshot{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := ItineraryStatsSnapshot{
		MessagesProcessed: s.MessagesProcessed,
		MessagesFailed:    s.MessagesFailed,
		MessagesResent:    s.MessagesResent,
		Cycles:            s.Cycles,
		Overruns:          s.Overruns,
		LastBatchSize:     s.LastBatchSize,
		LastCycleNs:       s.LastCycleDuration.Nanoseconds(),
		LastProcessedAt:   s.LastProcessedAt,
	}
	if handled := s.MessagesProcessed + s.MessagesFailed; handled > 0 {
		snap.AverageCallbackNs = s.TotalCallbackTime.Nanoseconds() / int64(handled)
	}
	return snap
}

// ItineraryStatsSnapshot is the serialisable view of ItineraryStats.
type ItineraryStatsSnapshot struct {
	MessagesProcessed uint64    `json:"messages_processed"`
	MessagesFailed    uint64    `json:"messages_failed"`
	MessagesResent    uint64    `json:"messages_resent"`
	Cycles            uint64    `json:"cycles"`
	Overruns          uint64    `json:"overruns"`
	LastBatchSize     int       `json:"last_batch_size"`
	LastCycleNs       int64     `json:"last_cycle_ns"`
	AverageCallbackNs int64     `json:"average_callback_ns"`
	LastProcessedAt   time.Time `json:"last_processed_at"`
}

package metrics

import (
	"context"
	"time"

	"link-embed/internal/domain/entity"
	"link-embed/internal/domain/event"
)

// Recorder feeds preview and cache activity into the package metrics.
// It implements event.Listener and the preview service's Recorder.
type Recorder struct{}

// NewRecorder creates a Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordResolve records one Resolve call.
func (r *Recorder) RecordResolve(outcome string, duration time.Duration) {
	ResolveTotal.WithLabelValues(outcome).Inc()
	ResolveDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordFetch records one remote fetch.
func (r *Recorder) RecordFetch(duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	FetchDuration.WithLabelValues(result).Observe(duration.Seconds())
}

func (r *Recorder) CacheHit(context.Context, string, string) {
	CacheEventsTotal.WithLabelValues("hit").Inc()
}

func (r *Recorder) CacheMiss(context.Context, string, string) {
	CacheEventsTotal.WithLabelValues("miss").Inc()
}

func (r *Recorder) CacheSet(context.Context, string, string, entity.MetadataRecord, time.Duration) {
	CacheEventsTotal.WithLabelValues("set").Inc()
}

func (r *Recorder) CacheDeleted(context.Context, string, string) {
	CacheEventsTotal.WithLabelValues("delete").Inc()
}

func (r *Recorder) CacheCleared(_ context.Context, count int) {
	CacheEventsTotal.WithLabelValues("clear").Inc()
	CacheClearedEntriesTotal.Add(float64(count))
	UpdateCacheEntries(0)
}

var _ event.Listener = (*Recorder)(nil)

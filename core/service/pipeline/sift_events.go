package pipeline

import (
	"fmt"
	"time"

	"jobsift/core/domain"
)

// EventSink receives progress and narration events during a sync run.
// Implementations must not block; the pipeline fires and forgets.
type EventSink interface {
	Progress(ev domain.ProgressEvent)
	Activity(ev domain.ActivityEvent)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Progress(domain.ProgressEvent) {}
func (NopSink) Activity(domain.ActivityEvent) {}

func (p *Pipeline) progress(stage domain.SyncStage, processed, total int) {
	p.sink.Progress(domain.ProgressEvent{
		Stage:          stage,
		ProcessedCount: processed,
		TotalCount:     total,
	})
}

func (p *Pipeline) narrate(format string, args ...any) {
	p.sink.Activity(domain.ActivityEvent{
		At:      time.Now(),
		Message: fmt.Sprintf(format, args...),
	})
}

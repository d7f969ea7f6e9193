// Package runner drives sync runs and surfaces pipeline events.
package runner

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"jobsift/core/domain"
	"jobsift/core/port/out"
	"jobsift/core/service/pipeline"
)

// ChannelSink buffers pipeline events on channels. Sends never block:
// when a consumer falls behind, events are dropped, which is acceptable
// because they are advisory.
type ChannelSink struct {
	progress chan domain.ProgressEvent
	activity chan domain.ActivityEvent
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 256
	}
	return &ChannelSink{
		progress: make(chan domain.ProgressEvent, buffer),
		activity: make(chan domain.ActivityEvent, buffer),
	}
}

func (s *ChannelSink) Progress(ev domain.ProgressEvent) {
	select {
	case s.progress <- ev:
	default:
	}
}

func (s *ChannelSink) Activity(ev domain.ActivityEvent) {
	select {
	case s.activity <- ev:
	default:
	}
}

func (s *ChannelSink) ProgressEvents() <-chan domain.ProgressEvent { return s.progress }
func (s *ChannelSink) ActivityEvents() <-chan domain.ActivityEvent { return s.activity }

// Runner executes sync runs and logs their events.
type Runner struct {
	pipeline *pipeline.Pipeline
	sink     *ChannelSink
	log      zerolog.Logger
}

func New(p *pipeline.Pipeline, sink *ChannelSink, log zerolog.Logger) *Runner {
	return &Runner{
		pipeline: p,
		sink:     sink,
		log:      log.With().Str("component", "runner").Logger(),
	}
}

// Sync runs one batch, draining events into the log while it runs.
func (r *Runner) Sync(ctx context.Context, query *out.MessageQuery) (*domain.SyncSummary, error) {
	drainCtx, stopDrain := context.WithCancel(ctx)
	defer stopDrain()
	go r.drain(drainCtx)

	start := time.Now()
	summary, err := r.pipeline.Run(ctx, query)
	elapsed := time.Since(start)

	if err != nil {
		r.log.Error().Err(err).
			Dur("elapsed", elapsed).
			Int("total", summary.Total).
			Int("failed", summary.Failed).
			Msg("sync run aborted")
		return summary, err
	}

	r.log.Info().
		Dur("elapsed", elapsed).
		Int("total", summary.Total).
		Int("classified", summary.Classified).
		Int("digest_filtered", summary.DigestFiltered).
		Int("needs_review", summary.NeedsReview).
		Int("skipped_existing", summary.SkippedExisting).
		Int("failed", summary.Failed).
		Int("jobs_created", summary.JobsCreated).
		Int("jobs_merged", summary.JobsMerged).
		Msg("sync run finished")
	return summary, nil
}

func (r *Runner) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.sink.progress:
			r.log.Debug().
				Str("stage", string(ev.Stage)).
				Int("processed", ev.ProcessedCount).
				Int("total", ev.TotalCount).
				Msg("progress")
		case ev := <-r.sink.activity:
			r.log.Info().Time("at", ev.At).Msg(ev.Message)
		}
	}
}

// Package pipeline orchestrates the sync run: content extraction, the
// layered classification stages, thread and orphan grouping, and job
// entity construction. All provider and storage access goes through
// outbound ports.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/go-pkgz/pool"
	"github.com/rs/zerolog"

	"jobsift/core/domain"
	"jobsift/core/inference"
	"jobsift/core/port/out"
	"jobsift/core/service/digest"
	"jobsift/core/service/extract"
	"jobsift/core/service/preclass"
	"jobsift/pkg/apperr"
)

// Inference is the staged model surface the pipeline consumes. The
// engine's fallbacks mean these calls report degradation through the
// result, not through the error.
type Inference interface {
	Classify(ctx context.Context, subject, body string) (*inference.ClassifyResult, error)
	Extract(ctx context.Context, subject, body, sender string) (*inference.ExtractResult, error)
	Match(ctx context.Context, a, b inference.JobKey) (*inference.MatchResult, error)
}

var _ Inference = (*inference.Engine)(nil)

// Deps are the collaborators of a Pipeline. Bodies and Sink are
// optional; everything else is required.
type Deps struct {
	Source    out.MessageSource
	Extractor *extract.Extractor
	Digest    *digest.Filter
	Preclass  *preclass.Preclassifier
	Engine    Inference
	Store     out.StateStore
	Bodies    out.BodyStore
	Sink      EventSink
}

// Config tunes one pipeline instance.
type Config struct {
	// AccountScope namespaces the processed-id ledger per mailbox.
	AccountScope string
	// GroupWorkers bounds group-level concurrency. The model budget is
	// enforced separately inside the engine, so this only limits how
	// many groups are in flight.
	GroupWorkers int
}

// Pipeline runs one sync at a time. Instances are safe for sequential
// reuse but a Run must finish before the next starts.
type Pipeline struct {
	source    out.MessageSource
	extractor *extract.Extractor
	digest    *digest.Filter
	preclass  *preclass.Preclassifier
	engine    Inference
	store     out.StateStore
	bodies    out.BodyStore
	sink      EventSink
	cfg       Config
	log       zerolog.Logger
}

func New(deps Deps, cfg Config, log zerolog.Logger) *Pipeline {
	if deps.Sink == nil {
		deps.Sink = NopSink{}
	}
	if cfg.GroupWorkers <= 0 {
		cfg.GroupWorkers = 4
	}
	return &Pipeline{
		source:    deps.Source,
		extractor: deps.Extractor,
		digest:    deps.Digest,
		preclass:  deps.Preclass,
		engine:    deps.Engine,
		store:     deps.Store,
		bodies:    deps.Bodies,
		sink:      deps.Sink,
		cfg:       cfg,
		log:       log.With().Str("component", "pipeline").Logger(),
	}
}

// runState collects the first fatal error seen by concurrent group
// workers and tallies summary counters under one lock.
type runState struct {
	mu      sync.Mutex
	fatal   error
	cancel  context.CancelFunc
	summary *domain.SyncSummary
}

func (s *runState) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fatal == nil {
		s.fatal = err
		s.cancel()
	}
}

func (s *runState) count(fn func(sum *domain.SyncSummary)) {
	s.mu.Lock()
	fn(s.summary)
	s.mu.Unlock()
}

// Run executes one full sync for the query. Per-message failures are
// recorded and skipped; only persistence failures or cancellation stop
// the batch. The summary is returned even on a partial run.
func (p *Pipeline) Run(ctx context.Context, query *out.MessageQuery) (*domain.SyncSummary, error) {
	summary := &domain.SyncSummary{StartedAt: time.Now()}
	defer func() { summary.FinishedAt = time.Now() }()

	msgs, err := p.source.FetchMessages(ctx, query)
	if err != nil {
		return summary, err
	}
	summary.Total = len(msgs)
	p.progress(domain.SyncStageFetch, len(msgs), len(msgs))
	p.narrate("fetched %d messages", len(msgs))

	existing, err := p.store.ReadExistingMessageIDs(ctx, p.cfg.AccountScope)
	if err != nil {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		return summary, apperr.PersistenceError("read existing message ids", err)
	}

	// First pass, sequential and cheap: content extraction, digest
	// filter, fast preclassifier. Survivors proceed to the staged model.
	var survivors []*Item
	for i, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if _, seen := existing[msg.ID]; seen {
			summary.SkippedExisting++
			continue
		}
		item, err := p.prepare(ctx, msg, summary)
		if err != nil {
			return summary, err
		}
		if item != nil {
			survivors = append(survivors, item)
		}
		p.progress(domain.SyncStageExtract, i+1, len(msgs))
	}

	threads, orphans := GroupThreads(survivors)
	p.narrate("grouped %d survivors into %d threads and %d orphans",
		len(survivors), len(threads), len(orphans))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	state := &runState{cancel: cancel, summary: summary}
	entities := newEntitySet()

	// Threads in parallel: one classify/extract per thread, result
	// inherited by every member.
	threadWorker := pool.WorkerFunc[*ThreadGroup](func(wctx context.Context, g *ThreadGroup) error {
		p.processThread(wctx, g, entities, state)
		return nil
	})
	threadPool := pool.New[*ThreadGroup](p.cfg.GroupWorkers, threadWorker).WithContinueOnError()
	if err := threadPool.Go(runCtx); err != nil {
		return summary, err
	}
	for _, g := range threads {
		threadPool.Submit(g)
	}
	if err := threadPool.Close(runCtx); err != nil && state.fatal == nil {
		p.log.Warn().Err(err).Msg("thread pool closed with error")
	}
	if state.fatal != nil {
		return summary, state.fatal
	}
	p.progress(domain.SyncStageClassify, len(threads), len(threads)+len(orphans))

	// Orphans classify/extract in parallel, then group by employer
	// signal and match sequentially within each group so later messages
	// can merge into entities created by earlier ones.
	orphanWorker := pool.WorkerFunc[*Item](func(wctx context.Context, item *Item) error {
		p.stageOrphan(wctx, item, state)
		return nil
	})
	orphanPool := pool.New[*Item](p.cfg.GroupWorkers, orphanWorker).WithContinueOnError()
	if err := orphanPool.Go(runCtx); err != nil {
		return summary, err
	}
	for _, item := range orphans {
		orphanPool.Submit(item)
	}
	if err := orphanPool.Close(runCtx); err != nil && state.fatal == nil {
		p.log.Warn().Err(err).Msg("orphan pool closed with error")
	}
	if state.fatal != nil {
		return summary, state.fatal
	}

	for _, g := range groupOrphans(keepJobOrphans(orphans)) {
		if err := runCtx.Err(); err != nil {
			return summary, err
		}
		p.matchOrphanGroup(runCtx, g, entities, state)
	}
	if state.fatal != nil {
		return summary, state.fatal
	}
	p.progress(domain.SyncStageMatch, len(threads)+len(orphans), len(threads)+len(orphans))

	all := entities.all()
	for i, ent := range all {
		if err := p.store.UpsertJobEntity(ctx, ent); err != nil {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			return summary, apperr.PersistenceError("upsert job entity", err)
		}
		p.progress(domain.SyncStagePersist, i+1, len(all))
	}

	p.narrate("sync finished: %d classified, %d digests, %d jobs created, %d merged",
		summary.Classified, summary.DigestFiltered, summary.JobsCreated, summary.JobsMerged)
	return summary, nil
}

// prepare runs the cheap stages for one message. A nil item with a nil
// error means the message exited the pipeline here; the returned error
// is always fatal.
func (p *Pipeline) prepare(ctx context.Context, msg *domain.RawMessage, summary *domain.SyncSummary) (*Item, error) {
	rec := &domain.ClassificationRecord{
		MessageID: msg.ID,
		Stage:     domain.StageFetched,
		UpdatedAt: time.Now(),
	}
	item := &Item{Raw: msg, Record: rec}

	email, err := p.extractor.Extract(ctx, msg)
	if err != nil {
		rec.ExitReason = domain.ExitError
		rec.ErrorReason = err.Error()
		rec.NeedsReview = true
		summary.Failed++
		summary.NeedsReview++
		p.log.Warn().Err(err).Str("message_id", msg.ID).Msg("content extraction failed")
		return nil, p.persist(ctx, rec)
	}
	item.Email = email

	if p.bodies != nil {
		// Body archival is best effort; the classification state is the
		// source of truth.
		if err := p.bodies.SaveBody(ctx, email); err != nil {
			p.log.Warn().Err(err).Str("message_id", msg.ID).Msg("body save failed")
		}
	}

	if d := p.digest.Check(msg.Subject, msg.Sender, email.Body); d.IsDigest {
		rec.Stage = domain.StageClassified
		rec.Method = domain.MethodDigestFilter
		rec.ExitReason = domain.ExitDigest
		summary.DigestFiltered++
		p.narrate("digest filtered %q (%s)", msg.Subject, d.Reason)
		return nil, p.persist(ctx, rec)
	}

	v := p.preclass.Evaluate(msg.Subject, email.Body, msg.Sender)
	rec.Stage = domain.StageClassified
	rec.Method = domain.MethodFastPreclassifier
	rec.Probability = v.Probability
	if !v.Store {
		// Written for audit, excluded from everything downstream.
		rec.ExitReason = domain.ExitLowConfidence
		return nil, p.persist(ctx, rec)
	}
	rec.NeedsReview = v.NeedsReview
	if rec.NeedsReview {
		summary.NeedsReview++
	}
	rec.Stage = domain.StageReadyForExtraction
	item.autoApproved = v.AutoApproved
	return item, p.persist(ctx, rec)
}

// processThread classifies and extracts the representative once and
// copies the verdict onto every member. The thread becomes one entity.
func (p *Pipeline) processThread(ctx context.Context, g *ThreadGroup, entities *entitySet, state *runState) {
	rep := g.Representative()
	fields, isJob := p.stagedVerdict(ctx, rep)

	for _, member := range g.Messages {
		if member != rep {
			inherit(member, rep)
		}
	}

	if !isJob {
		for _, member := range g.Messages {
			member.Record.ExitReason = domain.ExitNotJob
			if err := p.persist(ctx, member.Record); err != nil {
				state.fail(err)
				return
			}
		}
		state.count(func(sum *domain.SyncSummary) { sum.Classified += len(g.Messages) })
		return
	}

	status := statusOf(fields)
	var ent *domain.JobEntity
	for _, member := range g.Messages {
		jm := domain.JobMessage{
			MessageID:  member.Raw.ID,
			ReceivedAt: member.Raw.ReceivedAt,
			Status:     status,
		}
		if ent == nil {
			ent = domain.NewJobEntity(fields.Employer, fields.Role, status, jm)
			ent.ConversationID = g.ConversationID
		} else {
			ent.Merge(jm)
		}
		member.Record.Stage = domain.StageInJob
		if err := p.persist(ctx, member.Record); err != nil {
			state.fail(err)
			return
		}
	}
	entities.add(employerSignal(rep), ent)
	state.count(func(sum *domain.SyncSummary) {
		sum.Classified += len(g.Messages)
		sum.JobsCreated++
	})
	p.narrate("thread %s -> %s / %s (%d messages)",
		g.ConversationID, fields.Employer, fields.Role, len(g.Messages))
}

// stageOrphan runs classify and extract for one orphan. The verdict
// lands on the record; matching happens later, sequentially per group.
func (p *Pipeline) stageOrphan(ctx context.Context, item *Item, state *runState) {
	if _, isJob := p.stagedVerdict(ctx, item); !isJob {
		item.Record.ExitReason = domain.ExitNotJob
	}
	if err := p.persist(ctx, item.Record); err != nil {
		state.fail(err)
		return
	}
	state.count(func(sum *domain.SyncSummary) { sum.Classified++ })
}

// matchOrphanGroup walks one employer-signal bucket oldest to newest,
// merging each orphan into the first matching entity or creating a new
// one.
func (p *Pipeline) matchOrphanGroup(ctx context.Context, g *orphanGroup, entities *entitySet, state *runState) {
	for _, item := range g.Items {
		fields := item.Record.Fields
		key := inference.JobKey{Employer: fields.Employer, Role: fields.Role}
		jm := domain.JobMessage{
			MessageID:  item.Raw.ID,
			ReceivedAt: item.Raw.ReceivedAt,
			Status:     statusOf(fields),
		}

		var merged *domain.JobEntity
		for _, ent := range entities.candidates(g.Signal) {
			res, err := p.engine.Match(ctx, key, inference.JobKey{Employer: ent.Employer, Role: ent.Role})
			if err != nil {
				continue
			}
			if res.SameJob {
				ent.Merge(jm)
				merged = ent
				break
			}
		}

		if merged == nil {
			ent := domain.NewJobEntity(fields.Employer, fields.Role, jm.Status, jm)
			entities.add(g.Signal, ent)
			state.count(func(sum *domain.SyncSummary) { sum.JobsCreated++ })
		} else {
			state.count(func(sum *domain.SyncSummary) { sum.JobsMerged++ })
		}

		item.Record.Stage = domain.StageInJob
		if err := p.persist(ctx, item.Record); err != nil {
			state.fail(err)
			return
		}
	}
}

// stagedVerdict runs the model stages for one message. An auto-approved
// preclassifier verdict skips the classify call; extraction always runs
// for messages that reach this point and are jobs.
func (p *Pipeline) stagedVerdict(ctx context.Context, item *Item) (*domain.ExtractedFields, bool) {
	rec := item.Record
	rec.Method = domain.MethodStagedModel

	if !item.autoApproved {
		cls, err := p.engine.Classify(ctx, item.Raw.Subject, item.Email.Body)
		if err != nil || !cls.IsJob {
			if cls != nil {
				rec.FallbackUsed = cls.FallbackUsed
				rec.Confidence = cls.Confidence
			}
			return nil, false
		}
		rec.FallbackUsed = cls.FallbackUsed
		rec.Confidence = cls.Confidence
	}

	ext, err := p.engine.Extract(ctx, item.Raw.Subject, item.Email.Body, item.Raw.Sender)
	if err != nil {
		return nil, false
	}
	rec.Stage = domain.StageExtracted
	rec.FallbackUsed = rec.FallbackUsed || ext.FallbackUsed
	if ext.FallbackUsed {
		rec.Confidence = ext.Confidence
	}
	rec.Fields = &domain.ExtractedFields{
		Employer: ext.Employer,
		Role:     ext.Role,
		Status:   ext.Status,
	}
	return rec.Fields, true
}

// inherit copies the representative's verdict onto a thread member.
func inherit(member, rep *Item) {
	member.Record.Method = rep.Record.Method
	member.Record.Stage = rep.Record.Stage
	member.Record.FallbackUsed = rep.Record.FallbackUsed
	member.Record.Confidence = rep.Record.Confidence
	if rep.Record.Fields != nil {
		f := *rep.Record.Fields
		member.Record.Fields = &f
	}
}

// keepJobOrphans drops orphans that exited as not_job before matching.
func keepJobOrphans(items []*Item) []*Item {
	kept := items[:0:0]
	for _, item := range items {
		if item.Record.ExitReason == domain.ExitNone && item.Record.Fields != nil {
			kept = append(kept, item)
		}
	}
	return kept
}

func statusOf(fields *domain.ExtractedFields) domain.ApplicationStatus {
	st, err := domain.ParseStatus(fields.Status)
	if err != nil {
		return domain.StatusApplied
	}
	return st
}

func (p *Pipeline) persist(ctx context.Context, rec *domain.ClassificationRecord) error {
	rec.UpdatedAt = time.Now()
	if err := p.store.UpsertClassification(ctx, rec); err != nil {
		// Cancellation is not a storage failure.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperr.PersistenceError("upsert classification", err)
	}
	return nil
}

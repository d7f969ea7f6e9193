package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"jobsift/core/domain"
	"jobsift/core/inference"
	"jobsift/core/port/out"
	"jobsift/core/service/digest"
	"jobsift/core/service/extract"
	"jobsift/core/service/preclass"
	"jobsift/pkg/apperr"
)

type fakeSource struct {
	msgs []*domain.RawMessage
}

func (s *fakeSource) FetchMessages(_ context.Context, _ *out.MessageQuery) ([]*domain.RawMessage, error) {
	return s.msgs, nil
}

func (s *fakeSource) FetchRawFormat(_ context.Context, _ string) ([]byte, error) {
	return nil, nil
}

type fakeStore struct {
	mu       sync.Mutex
	records  map[string]*domain.ClassificationRecord
	entities []*domain.JobEntity
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]*domain.ClassificationRecord)}
}

func (s *fakeStore) UpsertClassification(_ context.Context, rec *domain.ClassificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.records[rec.MessageID] = &cp
	return nil
}

func (s *fakeStore) GetClassification(_ context.Context, id string) (*domain.ClassificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id], nil
}

func (s *fakeStore) UpsertJobEntity(_ context.Context, ent *domain.JobEntity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.entities {
		if existing.ID == ent.ID {
			s.entities[i] = ent
			return nil
		}
	}
	s.entities = append(s.entities, ent)
	return nil
}

func (s *fakeStore) ListJobEntities(_ context.Context) ([]*domain.JobEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.JobEntity(nil), s.entities...), nil
}

func (s *fakeStore) ListNeedsReview(_ context.Context, _ []domain.ExitReason) ([]*domain.ClassificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.ClassificationRecord
	for _, rec := range s.records {
		if rec.NeedsReview {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *fakeStore) ReadExistingMessageIDs(_ context.Context, _ string) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make(map[string]struct{}, len(s.records))
	for id := range s.records {
		ids[id] = struct{}{}
	}
	return ids, nil
}

type fakeEngine struct {
	mu            sync.Mutex
	classifyCalls int
	extractCalls  int
	matchCalls    int

	notJob    map[string]bool                     // by subject
	extractBy map[string]*inference.ExtractResult // by subject
}

func (e *fakeEngine) Classify(_ context.Context, subject, _ string) (*inference.ClassifyResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.classifyCalls++
	return &inference.ClassifyResult{IsJob: !e.notJob[subject], Confidence: domain.ConfidenceHigh}, nil
}

func (e *fakeEngine) Extract(_ context.Context, subject, _, _ string) (*inference.ExtractResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.extractCalls++
	if r, ok := e.extractBy[subject]; ok {
		cp := *r
		return &cp, nil
	}
	return &inference.ExtractResult{Status: "Applied", Confidence: domain.ConfidenceHigh}, nil
}

func (e *fakeEngine) Match(_ context.Context, a, b inference.JobKey) (*inference.MatchResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.matchCalls++
	same := strings.EqualFold(a.Employer, b.Employer)
	return &inference.MatchResult{SameJob: same, Confidence: domain.ConfidenceHigh}, nil
}

// testWeights make the preclassifier deterministic: "update" in the
// subject lands in the store-without-review band so the classify stage
// still runs, and everything featureless scores 0.5, below storage.
func testPreclassifier() *preclass.Preclassifier {
	return preclass.NewWithWeights(
		preclass.Policy{AutoApprove: 0.9, NeedsReview: 0.7, MinStorage: 0.6},
		map[string]float64{"subject:update": 2.0},
		0,
	)
}

func newTestPipeline(src *fakeSource, eng *fakeEngine, store out.StateStore) *Pipeline {
	log := zerolog.Nop()
	return New(Deps{
		Source:    src,
		Extractor: extract.NewExtractor(src, extract.Config{}, log),
		Digest:    digest.New(),
		Preclass:  testPreclassifier(),
		Engine:    eng,
		Store:     store,
	}, Config{AccountScope: "test", GroupWorkers: 2}, log)
}

func msg(id, cid, sender, subject, body string, at time.Time) *domain.RawMessage {
	return &domain.RawMessage{
		ID:             id,
		ConversationID: cid,
		Sender:         sender,
		Subject:        subject,
		ReceivedAt:     at,
		BodyText:       body,
	}
}

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

const plainBody = "Hello, here is a quick note about your application with enough text to pass extraction."

func TestThreadClassifiedOnceResultInherited(t *testing.T) {
	eng := &fakeEngine{extractBy: map[string]*inference.ExtractResult{
		"Interview update": {Employer: "Google", Role: "Software Engineer", Status: "Interview", Confidence: domain.ConfidenceHigh},
	}}
	src := &fakeSource{msgs: []*domain.RawMessage{
		msg("m-3", "thr-1", "recruiter@google.com", "Interview update", plainBody, base.Add(2*time.Hour)),
		msg("m-1", "thr-1", "recruiter@google.com", "Interview update", plainBody, base),
		msg("m-2", "thr-1", "recruiter@google.com", "Interview update", plainBody, base.Add(time.Hour)),
	}}
	store := newFakeStore()

	sum, err := newTestPipeline(src, eng, store).Run(context.Background(), &out.MessageQuery{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if eng.classifyCalls != 1 || eng.extractCalls != 1 {
		t.Errorf("expected 1 classify and 1 extract call, got %d and %d", eng.classifyCalls, eng.extractCalls)
	}
	if sum.Classified != 3 || sum.JobsCreated != 1 {
		t.Errorf("expected 3 classified and 1 job, got %d and %d", sum.Classified, sum.JobsCreated)
	}
	for _, id := range []string{"m-1", "m-2", "m-3"} {
		rec := store.records[id]
		if rec == nil || rec.Fields == nil {
			t.Fatalf("message %s missing record with fields", id)
		}
		if rec.Fields.Employer != "Google" || rec.Stage != domain.StageInJob {
			t.Errorf("message %s: expected inherited Google/in_job, got %q/%q", id, rec.Fields.Employer, rec.Stage)
		}
	}
	if len(store.entities) != 1 {
		t.Fatalf("expected 1 entity, got %d", len(store.entities))
	}
	ent := store.entities[0]
	if ent.ConversationID != "thr-1" {
		t.Errorf("expected conversation id thr-1, got %q", ent.ConversationID)
	}
	if len(ent.Messages) != 3 {
		t.Fatalf("expected 3 contributing messages, got %d", len(ent.Messages))
	}
	for i, want := range []string{"m-1", "m-2", "m-3"} {
		if ent.Messages[i].MessageID != want {
			t.Errorf("message %d: expected %s, got %s", i, want, ent.Messages[i].MessageID)
		}
	}
}

func TestRerunSkipsProcessedMessages(t *testing.T) {
	mk := func() *fakeSource {
		return &fakeSource{msgs: []*domain.RawMessage{
			msg("m-1", "", "recruiter@acme.com", "Application update", plainBody, base),
			msg("m-2", "", "recruiter@acme.com", "Another update", plainBody, base.Add(time.Hour)),
		}}
	}
	store := newFakeStore()

	if _, err := newTestPipeline(mk(), &fakeEngine{}, store).Run(context.Background(), &out.MessageQuery{}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	entitiesAfterFirst := len(store.entities)

	eng2 := &fakeEngine{}
	sum, err := newTestPipeline(mk(), eng2, store).Run(context.Background(), &out.MessageQuery{})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if sum.SkippedExisting != 2 {
		t.Errorf("expected 2 skipped, got %d", sum.SkippedExisting)
	}
	if eng2.classifyCalls != 0 || eng2.extractCalls != 0 {
		t.Errorf("expected no model calls on rerun, got %d classify, %d extract", eng2.classifyCalls, eng2.extractCalls)
	}
	if len(store.entities) != entitiesAfterFirst {
		t.Errorf("rerun changed entity count from %d to %d", entitiesAfterFirst, len(store.entities))
	}
}

func TestDigestExitsBeforeAnyModelCall(t *testing.T) {
	eng := &fakeEngine{}
	src := &fakeSource{msgs: []*domain.RawMessage{
		msg("m-1", "", "jobalerts-noreply@linkedin.com", "30+ new jobs for you", plainBody, base),
	}}
	store := newFakeStore()

	sum, err := newTestPipeline(src, eng, store).Run(context.Background(), &out.MessageQuery{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.DigestFiltered != 1 {
		t.Errorf("expected 1 digest filtered, got %d", sum.DigestFiltered)
	}
	if eng.classifyCalls+eng.extractCalls+eng.matchCalls != 0 {
		t.Errorf("digest message reached the model: %+v", eng)
	}
	rec := store.records["m-1"]
	if rec == nil || rec.ExitReason != domain.ExitDigest {
		t.Fatalf("expected digest exit reason, got %+v", rec)
	}
	if rec.Method != domain.MethodDigestFilter {
		t.Errorf("expected digest_filter method, got %q", rec.Method)
	}
}

func TestOrphansMergeAcrossRoleAliases(t *testing.T) {
	eng := &fakeEngine{extractBy: map[string]*inference.ExtractResult{
		"First update":  {Employer: "Google", Role: "Software Engineer", Status: "Applied", Confidence: domain.ConfidenceHigh},
		"Second update": {Employer: "Google", Role: "SWE", Status: "Interview", Confidence: domain.ConfidenceHigh},
	}}
	src := &fakeSource{msgs: []*domain.RawMessage{
		msg("m-2", "", "no_reply@google.com", "Second update", plainBody, base.Add(time.Hour)),
		msg("m-1", "", "no_reply@google.com", "First update", plainBody, base),
	}}
	store := newFakeStore()

	sum, err := newTestPipeline(src, eng, store).Run(context.Background(), &out.MessageQuery{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.JobsCreated != 1 || sum.JobsMerged != 1 {
		t.Errorf("expected 1 created and 1 merged, got %d and %d", sum.JobsCreated, sum.JobsMerged)
	}
	if len(store.entities) != 1 {
		t.Fatalf("expected a single entity, got %d", len(store.entities))
	}
	ent := store.entities[0]
	if len(ent.Messages) != 2 {
		t.Fatalf("expected 2 contributing messages, got %d", len(ent.Messages))
	}
	if ent.Messages[0].MessageID != "m-1" || ent.Messages[1].MessageID != "m-2" {
		t.Errorf("expected oldest-first order, got %s then %s", ent.Messages[0].MessageID, ent.Messages[1].MessageID)
	}
	if ent.Status != domain.StatusInterview {
		t.Errorf("expected status to advance to Interview, got %q", ent.Status)
	}
}

func TestEntityStatusNeverRegresses(t *testing.T) {
	eng := &fakeEngine{extractBy: map[string]*inference.ExtractResult{
		"Offer update":    {Employer: "Acme", Role: "Engineer", Status: "Offer", Confidence: domain.ConfidenceHigh},
		"Followup update": {Employer: "Acme", Role: "Engineer", Status: "Applied", Confidence: domain.ConfidenceHigh},
	}}
	src := &fakeSource{msgs: []*domain.RawMessage{
		msg("m-1", "", "hr@acme.com", "Offer update", plainBody, base),
		msg("m-2", "", "hr@acme.com", "Followup update", plainBody, base.Add(time.Hour)),
	}}
	store := newFakeStore()

	if _, err := newTestPipeline(src, eng, store).Run(context.Background(), &out.MessageQuery{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.entities) != 1 {
		t.Fatalf("expected single entity, got %d", len(store.entities))
	}
	if got := store.entities[0].Status; got != domain.StatusOffer {
		t.Errorf("expected Offer to stick, got %q", got)
	}
}

func TestLowScoreStoredForAuditOnly(t *testing.T) {
	eng := &fakeEngine{}
	src := &fakeSource{msgs: []*domain.RawMessage{
		msg("m-1", "", "friend@example.com", "Lunch on Friday?", plainBody, base),
	}}
	store := newFakeStore()

	sum, err := newTestPipeline(src, eng, store).Run(context.Background(), &out.MessageQuery{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec := store.records["m-1"]
	if rec == nil {
		t.Fatal("expected an audit record for the low-score message")
	}
	if rec.ExitReason != domain.ExitLowConfidence {
		t.Errorf("expected low_confidence exit, got %q", rec.ExitReason)
	}
	if eng.classifyCalls != 0 {
		t.Errorf("low-score message reached the model")
	}
	if len(store.entities) != 0 || sum.JobsCreated != 0 {
		t.Errorf("low-score message produced an entity")
	}
}

func TestOrphansWithDifferentEmployersNeverCompared(t *testing.T) {
	eng := &fakeEngine{extractBy: map[string]*inference.ExtractResult{
		"Acme update":   {Employer: "Acme", Role: "Engineer", Status: "Applied", Confidence: domain.ConfidenceHigh},
		"Globex update": {Employer: "Globex", Role: "Engineer", Status: "Applied", Confidence: domain.ConfidenceHigh},
	}}
	src := &fakeSource{msgs: []*domain.RawMessage{
		msg("m-1", "", "hr@acme.com", "Acme update", plainBody, base),
		msg("m-2", "", "hr@globex.com", "Globex update", plainBody, base.Add(time.Hour)),
	}}
	store := newFakeStore()

	sum, err := newTestPipeline(src, eng, store).Run(context.Background(), &out.MessageQuery{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eng.matchCalls != 0 {
		t.Errorf("orphans with different employer signals were compared: %d match calls", eng.matchCalls)
	}
	if sum.JobsCreated != 2 || len(store.entities) != 2 {
		t.Errorf("expected 2 separate entities, got %d created, %d stored", sum.JobsCreated, len(store.entities))
	}
}

// failingStore injects an upsert error on top of the in-memory fake.
type failingStore struct {
	*fakeStore
	upsertErr func(ctx context.Context) error
}

func (s *failingStore) UpsertClassification(ctx context.Context, rec *domain.ClassificationRecord) error {
	if s.upsertErr != nil {
		if err := s.upsertErr(ctx); err != nil {
			return err
		}
	}
	return s.fakeStore.UpsertClassification(ctx, rec)
}

func TestCancellationIsNotAPersistenceFailure(t *testing.T) {
	store := &failingStore{
		fakeStore: newFakeStore(),
		upsertErr: func(ctx context.Context) error { return ctx.Err() },
	}
	p := newTestPipeline(&fakeSource{}, &fakeEngine{}, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.persist(ctx, &domain.ClassificationRecord{MessageID: "m-1"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if apperr.HasCode(err, apperr.CodePersistenceError) {
		t.Error("cancellation must not be reported as a storage failure")
	}
}

func TestStorageFailureIsCoded(t *testing.T) {
	store := &failingStore{
		fakeStore: newFakeStore(),
		upsertErr: func(_ context.Context) error { return errors.New("disk full") },
	}
	p := newTestPipeline(&fakeSource{}, &fakeEngine{}, store)

	err := p.persist(context.Background(), &domain.ClassificationRecord{MessageID: "m-1"})
	if !apperr.HasCode(err, apperr.CodePersistenceError) {
		t.Errorf("expected PERSISTENCE_ERROR, got %v", err)
	}
}

func TestExtractionFailureIsRecordedNotFatal(t *testing.T) {
	src := &fakeSource{msgs: []*domain.RawMessage{
		msg("m-1", "", "hr@acme.com", "Interview update", "", base), // no body, no snippet
		msg("m-2", "", "hr@acme.com", "Interview update", plainBody, base.Add(time.Hour)),
	}}
	store := newFakeStore()

	sum, err := newTestPipeline(src, &fakeEngine{}, store).Run(context.Background(), &out.MessageQuery{})
	if err != nil {
		t.Fatalf("batch should survive a per-message failure: %v", err)
	}
	if sum.Failed != 1 {
		t.Errorf("expected 1 failed, got %d", sum.Failed)
	}
	rec := store.records["m-1"]
	if rec == nil || rec.ExitReason != domain.ExitError || !rec.NeedsReview {
		t.Fatalf("expected error exit flagged for review, got %+v", rec)
	}
	if store.records["m-2"] == nil || store.records["m-2"].Stage != domain.StageInJob {
		t.Errorf("healthy message should still complete")
	}
}

// Package memory provides in-process implementations of the storage
// ports, used for dry runs without a database.
package memory

import (
	"context"
	"sort"
	"sync"

	"jobsift/core/domain"
)

// StateStore keeps pipeline state in maps. Contents are lost on exit;
// every sync starts from scratch, so nothing is ever skipped as
// already-processed.
type StateStore struct {
	mu       sync.Mutex
	records  map[string]*domain.ClassificationRecord
	entities map[string]*domain.JobEntity
	bodies   map[string]*domain.ExtractedEmail
}

func NewStateStore() *StateStore {
	return &StateStore{
		records:  make(map[string]*domain.ClassificationRecord),
		entities: make(map[string]*domain.JobEntity),
		bodies:   make(map[string]*domain.ExtractedEmail),
	}
}

func (s *StateStore) UpsertClassification(_ context.Context, rec *domain.ClassificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.records[rec.MessageID] = &cp
	return nil
}

func (s *StateStore) GetClassification(_ context.Context, messageID string) (*domain.ClassificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[messageID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *StateStore) UpsertJobEntity(_ context.Context, ent *domain.JobEntity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[ent.ID.String()] = ent
	return nil
}

func (s *StateStore) ListJobEntities(_ context.Context) ([]*domain.JobEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entities := make([]*domain.JobEntity, 0, len(s.entities))
	for _, ent := range s.entities {
		entities = append(entities, ent)
	}
	sort.Slice(entities, func(i, j int) bool {
		return entities[i].CreatedAt.Before(entities[j].CreatedAt)
	})
	return entities, nil
}

func (s *StateStore) ReadExistingMessageIDs(_ context.Context, _ string) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make(map[string]struct{}, len(s.records))
	for id := range s.records {
		ids[id] = struct{}{}
	}
	return ids, nil
}

func (s *StateStore) ListNeedsReview(_ context.Context, reasons []domain.ExitReason) ([]*domain.ClassificationRecord, error) {
	wanted := make(map[domain.ExitReason]struct{}, len(reasons))
	for _, r := range reasons {
		wanted[r] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var records []*domain.ClassificationRecord
	for _, rec := range s.records {
		if !rec.NeedsReview {
			continue
		}
		if len(wanted) > 0 {
			if _, ok := wanted[rec.ExitReason]; !ok {
				continue
			}
		}
		cp := *rec
		records = append(records, &cp)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].UpdatedAt.Before(records[j].UpdatedAt)
	})
	return records, nil
}

// SaveBody implements out.BodyStore.
func (s *StateStore) SaveBody(_ context.Context, email *domain.ExtractedEmail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *email
	s.bodies[email.MessageID] = &cp
	return nil
}

// GetBody implements out.BodyStore.
func (s *StateStore) GetBody(_ context.Context, messageID string) (*domain.ExtractedEmail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, ok := s.bodies[messageID]
	if !ok {
		return nil, nil
	}
	cp := *body
	return &cp, nil
}

// Package review applies human verdicts to classification records.
package review

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"jobsift/core/domain"
	"jobsift/core/port/out"
	"jobsift/pkg/apperr"
)

// Service is the explicit human-feedback surface. Records flagged
// needs_review stay untouched by the pipeline until a decision lands
// here.
type Service struct {
	store out.StateStore
	log   zerolog.Logger
}

func New(store out.StateStore, log zerolog.Logger) *Service {
	return &Service{
		store: store,
		log:   log.With().Str("component", "review").Logger(),
	}
}

// Pending lists records awaiting review, oldest first.
func (s *Service) Pending(ctx context.Context) ([]*domain.ClassificationRecord, error) {
	return s.store.ListNeedsReview(ctx, nil)
}

// Apply records a human verdict. Approval clears the exit reason so the
// record counts as a confirmed classification; rejection overturns it
// to not_job. Either way the record leaves the review queue.
func (s *Service) Apply(ctx context.Context, messageID string, approved bool, reviewer, note string) error {
	rec, err := s.store.GetClassification(ctx, messageID)
	if err != nil {
		return apperr.PersistenceError("load classification for review", err)
	}
	if rec == nil {
		return fmt.Errorf("no classification record for message %s", messageID)
	}

	rec.Review = &domain.ReviewDecision{
		Approved:   approved,
		Reviewer:   reviewer,
		Note:       note,
		ReviewedAt: time.Now(),
	}
	rec.NeedsReview = false
	rec.Method = domain.MethodHuman
	if approved {
		rec.ExitReason = domain.ExitNone
	} else {
		rec.ExitReason = domain.ExitNotJob
	}

	if err := s.store.UpsertClassification(ctx, rec); err != nil {
		return apperr.PersistenceError("save review decision", err)
	}
	s.log.Info().
		Str("message_id", messageID).
		Bool("approved", approved).
		Str("reviewer", reviewer).
		Msg("review decision applied")
	return nil
}

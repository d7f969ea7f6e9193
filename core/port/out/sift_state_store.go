package out

import (
	"context"

	"jobsift/core/domain"
)

// StateStore is the logical pipeline state record. Persistence specifics
// live behind this port; the pipeline only knows the schema.
type StateStore interface {
	// UpsertClassification writes or replaces the per-message record.
	UpsertClassification(ctx context.Context, record *domain.ClassificationRecord) error

	// GetClassification returns the record for a message, or nil when
	// absent.
	GetClassification(ctx context.Context, messageID string) (*domain.ClassificationRecord, error)

	// UpsertJobEntity writes or replaces a job entity.
	UpsertJobEntity(ctx context.Context, entity *domain.JobEntity) error

	// ListJobEntities returns all job entities, oldest first.
	ListJobEntities(ctx context.Context) ([]*domain.JobEntity, error)

	// ReadExistingMessageIDs returns the ids already processed for the
	// account, used to skip work on re-sync.
	ReadExistingMessageIDs(ctx context.Context, accountScope string) (map[string]struct{}, error)

	// ListNeedsReview returns records awaiting a human verdict, limited
	// to the given exit reasons when any are passed.
	ListNeedsReview(ctx context.Context, reasons []domain.ExitReason) ([]*domain.ClassificationRecord, error)
}

// BodyStore keeps extracted plaintext bodies. Bodies are large and
// immutable, so they live apart from the relational rows.
type BodyStore interface {
	SaveBody(ctx context.Context, email *domain.ExtractedEmail) error
	GetBody(ctx context.Context, messageID string) (*domain.ExtractedEmail, error)
}

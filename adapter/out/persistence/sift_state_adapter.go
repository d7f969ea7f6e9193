// Package persistence provides database adapters implementing outbound ports.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"jobsift/core/domain"
)

// StateAdapter implements out.StateStore on Postgres. One row per
// message in pipeline_classifications, entities in job_entities with a
// child table keeping contributing messages in received order.
type StateAdapter struct {
	db    *sqlx.DB
	scope string
}

// NewStateAdapter creates a state adapter scoped to one mailbox.
func NewStateAdapter(db *sqlx.DB, accountScope string) *StateAdapter {
	return &StateAdapter{db: db, scope: accountScope}
}

// EnsureSchema creates the pipeline tables when absent.
func (a *StateAdapter) EnsureSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS pipeline_classifications (
		message_id    TEXT NOT NULL,
		account_scope TEXT NOT NULL,
		stage         TEXT NOT NULL,
		method        TEXT NOT NULL DEFAULT '',
		probability   DOUBLE PRECISION NOT NULL DEFAULT 0,
		needs_review  BOOLEAN NOT NULL DEFAULT FALSE,
		exit_reason   TEXT NOT NULL DEFAULT '',
		error_reason  TEXT NOT NULL DEFAULT '',
		employer      TEXT,
		role          TEXT,
		status        TEXT,
		fallback_used BOOLEAN NOT NULL DEFAULT FALSE,
		confidence    TEXT NOT NULL DEFAULT '',
		review_approved BOOLEAN,
		review_reviewer TEXT,
		review_note     TEXT,
		reviewed_at     TIMESTAMPTZ,
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (account_scope, message_id)
	);
	CREATE TABLE IF NOT EXISTS job_entities (
		id              UUID PRIMARY KEY,
		account_scope   TEXT NOT NULL,
		employer        TEXT NOT NULL,
		role            TEXT NOT NULL,
		status          TEXT NOT NULL,
		conversation_id TEXT NOT NULL DEFAULT '',
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS job_entity_messages (
		entity_id   UUID NOT NULL REFERENCES job_entities(id) ON DELETE CASCADE,
		position    INT NOT NULL,
		message_id  TEXT NOT NULL,
		received_at TIMESTAMPTZ NOT NULL,
		status      TEXT NOT NULL,
		PRIMARY KEY (entity_id, position)
	);
	CREATE INDEX IF NOT EXISTS idx_job_entities_scope ON job_entities(account_scope);`

	if _, err := a.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure pipeline schema: %w", err)
	}
	return nil
}

type classificationRow struct {
	MessageID      string         `db:"message_id"`
	AccountScope   string         `db:"account_scope"`
	Stage          string         `db:"stage"`
	Method         string         `db:"method"`
	Probability    float64        `db:"probability"`
	NeedsReview    bool           `db:"needs_review"`
	ExitReason     string         `db:"exit_reason"`
	ErrorReason    string         `db:"error_reason"`
	Employer       sql.NullString `db:"employer"`
	Role           sql.NullString `db:"role"`
	Status         sql.NullString `db:"status"`
	FallbackUsed   bool           `db:"fallback_used"`
	Confidence     string         `db:"confidence"`
	ReviewApproved sql.NullBool   `db:"review_approved"`
	ReviewReviewer sql.NullString `db:"review_reviewer"`
	ReviewNote     sql.NullString `db:"review_note"`
	ReviewedAt     sql.NullTime   `db:"reviewed_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func (r *classificationRow) toEntity() *domain.ClassificationRecord {
	rec := &domain.ClassificationRecord{
		MessageID:    r.MessageID,
		Stage:        domain.PipelineStage(r.Stage),
		Method:       domain.ClassificationMethod(r.Method),
		Probability:  r.Probability,
		NeedsReview:  r.NeedsReview,
		ExitReason:   domain.ExitReason(r.ExitReason),
		ErrorReason:  r.ErrorReason,
		FallbackUsed: r.FallbackUsed,
		Confidence:   domain.ConfidenceTier(r.Confidence),
		UpdatedAt:    r.UpdatedAt,
	}
	if r.Employer.Valid || r.Role.Valid || r.Status.Valid {
		rec.Fields = &domain.ExtractedFields{
			Employer: r.Employer.String,
			Role:     r.Role.String,
			Status:   r.Status.String,
		}
	}
	if r.ReviewApproved.Valid {
		rec.Review = &domain.ReviewDecision{
			Approved:   r.ReviewApproved.Bool,
			Reviewer:   r.ReviewReviewer.String,
			Note:       r.ReviewNote.String,
			ReviewedAt: r.ReviewedAt.Time,
		}
	}
	return rec
}

// UpsertClassification writes or replaces the per-message record.
func (a *StateAdapter) UpsertClassification(ctx context.Context, rec *domain.ClassificationRecord) error {
	query := `
		INSERT INTO pipeline_classifications (
			message_id, account_scope, stage, method, probability, needs_review,
			exit_reason, error_reason, employer, role, status, fallback_used,
			confidence, review_approved, review_reviewer, review_note, reviewed_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (account_scope, message_id) DO UPDATE SET
			stage = EXCLUDED.stage,
			method = EXCLUDED.method,
			probability = EXCLUDED.probability,
			needs_review = EXCLUDED.needs_review,
			exit_reason = EXCLUDED.exit_reason,
			error_reason = EXCLUDED.error_reason,
			employer = EXCLUDED.employer,
			role = EXCLUDED.role,
			status = EXCLUDED.status,
			fallback_used = EXCLUDED.fallback_used,
			confidence = EXCLUDED.confidence,
			review_approved = EXCLUDED.review_approved,
			review_reviewer = EXCLUDED.review_reviewer,
			review_note = EXCLUDED.review_note,
			reviewed_at = EXCLUDED.reviewed_at,
			updated_at = EXCLUDED.updated_at`

	var employer, role, status any
	if rec.Fields != nil {
		employer, role, status = rec.Fields.Employer, rec.Fields.Role, rec.Fields.Status
	}
	var approved, reviewer, note, reviewedAt any
	if rec.Review != nil {
		approved, reviewer, note, reviewedAt = rec.Review.Approved, rec.Review.Reviewer, rec.Review.Note, rec.Review.ReviewedAt
	}

	_, err := a.db.ExecContext(ctx, query,
		rec.MessageID, a.scope, string(rec.Stage), string(rec.Method),
		rec.Probability, rec.NeedsReview, string(rec.ExitReason), rec.ErrorReason,
		employer, role, status, rec.FallbackUsed, string(rec.Confidence),
		approved, reviewer, note, reviewedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert classification: %w", err)
	}
	return nil
}

// GetClassification returns the record for a message, or nil when absent.
func (a *StateAdapter) GetClassification(ctx context.Context, messageID string) (*domain.ClassificationRecord, error) {
	var row classificationRow
	query := `SELECT * FROM pipeline_classifications WHERE account_scope = $1 AND message_id = $2`

	if err := a.db.GetContext(ctx, &row, query, a.scope, messageID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get classification: %w", err)
	}
	return row.toEntity(), nil
}

// ReadExistingMessageIDs returns every message id already recorded for
// the scope.
func (a *StateAdapter) ReadExistingMessageIDs(ctx context.Context, accountScope string) (map[string]struct{}, error) {
	if accountScope == "" {
		accountScope = a.scope
	}
	var ids []string
	query := `SELECT message_id FROM pipeline_classifications WHERE account_scope = $1`

	if err := a.db.SelectContext(ctx, &ids, query, accountScope); err != nil {
		return nil, fmt.Errorf("failed to read existing message ids: %w", err)
	}
	existing := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		existing[id] = struct{}{}
	}
	return existing, nil
}

// ListNeedsReview returns records flagged for review, optionally
// narrowed to specific exit reasons.
func (a *StateAdapter) ListNeedsReview(ctx context.Context, reasons []domain.ExitReason) ([]*domain.ClassificationRecord, error) {
	var rows []classificationRow
	var err error
	if len(reasons) == 0 {
		query := `SELECT * FROM pipeline_classifications
			WHERE account_scope = $1 AND needs_review = TRUE ORDER BY updated_at`
		err = a.db.SelectContext(ctx, &rows, query, a.scope)
	} else {
		strs := make([]string, len(reasons))
		for i, r := range reasons {
			strs[i] = string(r)
		}
		query := `SELECT * FROM pipeline_classifications
			WHERE account_scope = $1 AND needs_review = TRUE AND exit_reason = ANY($2) ORDER BY updated_at`
		err = a.db.SelectContext(ctx, &rows, query, a.scope, pq.Array(strs))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list review queue: %w", err)
	}

	records := make([]*domain.ClassificationRecord, len(rows))
	for i := range rows {
		records[i] = rows[i].toEntity()
	}
	return records, nil
}

type jobEntityRow struct {
	ID             uuid.UUID `db:"id"`
	AccountScope   string    `db:"account_scope"`
	Employer       string    `db:"employer"`
	Role           string    `db:"role"`
	Status         string    `db:"status"`
	ConversationID string    `db:"conversation_id"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

type jobMessageRow struct {
	EntityID   uuid.UUID `db:"entity_id"`
	Position   int       `db:"position"`
	MessageID  string    `db:"message_id"`
	ReceivedAt time.Time `db:"received_at"`
	Status     string    `db:"status"`
}

// UpsertJobEntity replaces the entity row and its message list in one
// transaction. Merges are atomic per message: a failed write leaves the
// previous state intact.
func (a *StateAdapter) UpsertJobEntity(ctx context.Context, ent *domain.JobEntity) error {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin entity upsert: %w", err)
	}
	defer tx.Rollback()

	entityQuery := `
		INSERT INTO job_entities (id, account_scope, employer, role, status, conversation_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			employer = EXCLUDED.employer,
			role = EXCLUDED.role,
			status = EXCLUDED.status,
			conversation_id = EXCLUDED.conversation_id,
			updated_at = EXCLUDED.updated_at`
	if _, err := tx.ExecContext(ctx, entityQuery,
		ent.ID, a.scope, ent.Employer, ent.Role, string(ent.Status),
		ent.ConversationID, ent.CreatedAt, ent.UpdatedAt,
	); err != nil {
		return fmt.Errorf("failed to upsert job entity: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM job_entity_messages WHERE entity_id = $1`, ent.ID); err != nil {
		return fmt.Errorf("failed to clear entity messages: %w", err)
	}
	for i, m := range ent.Messages {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO job_entity_messages (entity_id, position, message_id, received_at, status)
			 VALUES ($1, $2, $3, $4, $5)`,
			ent.ID, i, m.MessageID, m.ReceivedAt, string(m.Status),
		); err != nil {
			return fmt.Errorf("failed to insert entity message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit entity upsert: %w", err)
	}
	return nil
}

// ListJobEntities returns all entities for the scope, oldest first.
func (a *StateAdapter) ListJobEntities(ctx context.Context) ([]*domain.JobEntity, error) {
	var rows []jobEntityRow
	query := `SELECT * FROM job_entities WHERE account_scope = $1 ORDER BY created_at`

	if err := a.db.SelectContext(ctx, &rows, query, a.scope); err != nil {
		return nil, fmt.Errorf("failed to list job entities: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	entities := make([]*domain.JobEntity, len(rows))
	byID := make(map[uuid.UUID]*domain.JobEntity, len(rows))
	for i, row := range rows {
		ent := &domain.JobEntity{
			ID:             row.ID,
			Employer:       row.Employer,
			Role:           row.Role,
			Status:         domain.ApplicationStatus(row.Status),
			ConversationID: row.ConversationID,
			CreatedAt:      row.CreatedAt,
			UpdatedAt:      row.UpdatedAt,
		}
		entities[i] = ent
		byID[row.ID] = ent
	}

	var msgRows []jobMessageRow
	msgQuery := `
		SELECT m.* FROM job_entity_messages m
		JOIN job_entities e ON e.id = m.entity_id
		WHERE e.account_scope = $1
		ORDER BY m.entity_id, m.position`
	if err := a.db.SelectContext(ctx, &msgRows, msgQuery, a.scope); err != nil {
		return nil, fmt.Errorf("failed to list entity messages: %w", err)
	}
	for _, m := range msgRows {
		if ent, ok := byID[m.EntityID]; ok {
			ent.Messages = append(ent.Messages, domain.JobMessage{
				MessageID:  m.MessageID,
				ReceivedAt: m.ReceivedAt,
				Status:     domain.ApplicationStatus(m.Status),
			})
		}
	}
	return entities, nil
}

// Package out defines outbound ports (driven ports) for the pipeline.
package out

import (
	"context"
	"time"

	"jobsift/core/domain"
)

// MessageQuery scopes a fetch to a provider-side query and date range.
type MessageQuery struct {
	Query    string
	After    time.Time
	Before   time.Time
	PageSize int
}

// MessageSource is the outbound port for the mail provider. The pipeline
// never talks to a provider SDK directly.
type MessageSource interface {
	// FetchMessages returns messages matching the query, full payload
	// included.
	FetchMessages(ctx context.Context, query *MessageQuery) ([]*domain.RawMessage, error)

	// FetchRawFormat re-fetches one message in the unprocessed transport
	// format. Used only by the truncation-recovery fallback.
	FetchRawFormat(ctx context.Context, messageID string) ([]byte, error)
}

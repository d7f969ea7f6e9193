package domain

import "time"

// SyncStage labels a batch boundary in progress events.
type SyncStage string

const (
	SyncStageFetch    SyncStage = "fetch"
	SyncStageExtract  SyncStage = "extract"
	SyncStageClassify SyncStage = "classify"
	SyncStageMatch    SyncStage = "match"
	SyncStagePersist  SyncStage = "persist"
)

// ProgressEvent is emitted at each batch boundary.
type ProgressEvent struct {
	Stage          SyncStage
	ProcessedCount int
	TotalCount     int
}

// ActivityEvent is human-readable narration for UI display. Advisory
// only; dropping events is acceptable.
type ActivityEvent struct {
	At      time.Time
	Message string
}

// SyncSummary is the final accounting of one sync run.
type SyncSummary struct {
	Total           int
	Classified      int
	DigestFiltered  int
	NeedsReview     int
	SkippedExisting int
	Failed          int
	JobsCreated     int
	JobsMerged      int
	StartedAt       time.Time
	FinishedAt      time.Time
}

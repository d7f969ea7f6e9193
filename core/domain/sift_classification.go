package domain

import "time"

// PipelineStage tracks how far a message has travelled through the
// pipeline. Stages only move forward.
type PipelineStage string

const (
	StageFetched            PipelineStage = "fetched"
	StageClassified         PipelineStage = "classified"
	StageReadyForExtraction PipelineStage = "ready_for_extraction"
	StageExtracted          PipelineStage = "extracted"
	StageInJob              PipelineStage = "in_job"
)

// ClassificationMethod records which layer produced the verdict.
type ClassificationMethod string

const (
	MethodDigestFilter      ClassificationMethod = "digest_filter"
	MethodFastPreclassifier ClassificationMethod = "fast_preclassifier"
	MethodStagedModel       ClassificationMethod = "staged_model"
	MethodHuman             ClassificationMethod = "human"
)

// ExitReason is the typed outcome of a state-machine transition. Falling
// out of the pipeline is an explicit exit, never control flow by error.
type ExitReason string

const (
	ExitNone          ExitReason = ""
	ExitDigest        ExitReason = "digest"
	ExitLowConfidence ExitReason = "low_confidence"
	ExitNotJob        ExitReason = "not_job"
	ExitError         ExitReason = "error"
)

// ExtractedFields holds the structured output of the extraction stage.
type ExtractedFields struct {
	Employer string `json:"employer"`
	Role     string `json:"role"`
	Status   string `json:"status"`
}

// ReviewDecision is an explicit human verdict over a classification.
type ReviewDecision struct {
	Approved   bool
	Reviewer   string
	ReviewedAt time.Time
	Note       string
}

// ClassificationRecord is the per-message pipeline state. One record per
// message id; mutated only by pipeline stages or explicit human review.
type ClassificationRecord struct {
	MessageID   string
	Stage       PipelineStage
	Method      ClassificationMethod
	Probability float64 // job-relatedness, 0.0-1.0
	NeedsReview bool
	ExitReason  ExitReason
	ErrorReason string

	// Set once the extraction stage has run.
	Fields *ExtractedFields

	// Inference provenance.
	FallbackUsed bool
	Confidence   ConfidenceTier

	Review *ReviewDecision

	UpdatedAt time.Time
}

// ConfidenceTier qualifies fallback outputs when the model path was
// bypassed.
type ConfidenceTier string

const (
	ConfidenceHigh   ConfidenceTier = "high"
	ConfidenceMedium ConfidenceTier = "medium"
	ConfidenceLow    ConfidenceTier = "low"
)

// DigestReason encodes which digest rule fired.
type DigestReason string

const (
	DigestReasonSender       DigestReason = "known_sender"
	DigestReasonSubject      DigestReason = "digest_subject"
	DigestReasonMultiListing DigestReason = "multi_listing_body"
)

// DigestDecision is the digest filter verdict. Never an error.
type DigestDecision struct {
	IsDigest   bool
	Reason     DigestReason
	Confidence float64
	Signal     string // matched pattern, for narration
}

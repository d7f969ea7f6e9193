package inference

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"jobsift/core/domain"
)

// ClassifyResult is the binary job-relatedness verdict.
type ClassifyResult struct {
	IsJob        bool                  `json:"is_job"`
	FallbackUsed bool                  `json:"fallback_used"`
	Confidence   domain.ConfidenceTier `json:"confidence"`
}

const classifySystemPrompt = `You decide whether an email is about the recipient's own job application (application confirmations, recruiter replies, interview scheduling, offers, rejections).

Job boards, postings, newsletters, and generic career advice are NOT job applications.

Respond with this exact JSON format:
{"is_job": true|false}`

// Classify runs the binary classification stage with a minimal budget.
// On timeout or model failure the keyword fallback answers instead; the
// call never blocks past the configured timeout.
func (e *Engine) Classify(ctx context.Context, subject, body string) (*ClassifyResult, error) {
	truncated := truncateBody(body, e.cfg.ClassifyBodyLimit)

	var key string
	if e.cache != nil {
		key = e.cache.Key("classify", subject, truncated)
		var cached ClassifyResult
		if e.cache.Get(ctx, key, &cached) {
			return &cached, nil
		}
	}

	userPrompt := fmt.Sprintf("Subject: %s\n\nBody:\n%s", subject, truncated)
	resp, err := e.invoke(ctx, "classify", e.cfg.ClassifyTimeout, e.cfg.ClassifyMaxTokens, classifySystemPrompt, userPrompt)
	if err != nil {
		// Timeouts are load-dependent, so fallback verdicts are never
		// cached.
		e.log.Debug().Err(err).Msg("classify model path bypassed, using fallback")
		return classifyFallback(subject, truncated), nil
	}

	var parsed struct {
		IsJob bool `json:"is_job"`
	}
	if err := json.Unmarshal([]byte(stripFence(resp)), &parsed); err != nil {
		e.log.Debug().Err(err).Msg("unparseable classify response, using fallback")
		return classifyFallback(subject, truncated), nil
	}

	result := &ClassifyResult{
		IsJob:        parsed.IsJob,
		FallbackUsed: false,
		Confidence:   domain.ConfidenceHigh,
	}
	if e.cache != nil {
		e.cache.Store(ctx, key, result)
	}
	return result, nil
}

// Keyword evidence for the rule-based classify fallback, strongest first.
var (
	strongJobPhrases = []string{
		"thank you for applying",
		"thank you for your application",
		"your application to",
		"your application was sent",
		"application received",
		"we received your application",
		"interview",
		"we regret to inform",
		"unfortunately",
		"move forward with other candidates",
		"offer letter",
		"pleased to offer",
		"next steps in the hiring process",
	}
	weakJobPhrases = []string{
		"application",
		"position",
		"recruiter",
		"hiring",
		"candidate",
		"role",
	}
)

// classifyFallback is the keyword-matching path used when the model is
// unavailable.
func classifyFallback(subject, body string) *ClassifyResult {
	text := strings.ToLower(subject + "\n" + body)

	for _, phrase := range strongJobPhrases {
		if strings.Contains(text, phrase) {
			return &ClassifyResult{IsJob: true, FallbackUsed: true, Confidence: domain.ConfidenceMedium}
		}
	}

	hits := 0
	for _, phrase := range weakJobPhrases {
		if strings.Contains(text, phrase) {
			hits++
		}
	}
	if hits >= 2 {
		return &ClassifyResult{IsJob: true, FallbackUsed: true, Confidence: domain.ConfidenceLow}
	}
	return &ClassifyResult{IsJob: false, FallbackUsed: true, Confidence: domain.ConfidenceLow}
}

func stripFence(resp string) string {
	resp = strings.TrimSpace(resp)
	resp = strings.TrimPrefix(resp, "```json")
	resp = strings.TrimPrefix(resp, "```")
	resp = strings.TrimSuffix(resp, "```")
	return strings.TrimSpace(resp)
}

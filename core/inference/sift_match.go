package inference

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"jobsift/core/domain"
)

// JobKey is one already-extracted (employer, role) pair.
type JobKey struct {
	Employer string `json:"employer"`
	Role     string `json:"role"`
}

// MatchResult is the pairwise matching verdict.
type MatchResult struct {
	SameJob      bool                  `json:"same_job"`
	FallbackUsed bool                  `json:"fallback_used"`
	Confidence   domain.ConfidenceTier `json:"confidence"`
}

const matchSystemPrompt = `You decide whether two (employer, role) pairs refer to the same job position. Tolerate abbreviations and synonyms: "SWE" and "Software Engineer" are the same role, "Sr." and "Senior" are the same qualifier.

Respond with this exact JSON format:
{"same_job": true|false}`

// Match compares two extracted jobs with a minimal budget.
func (e *Engine) Match(ctx context.Context, a, b JobKey) (*MatchResult, error) {
	// Pair order must not change the verdict, so the cache key is built
	// from the canonically ordered pair.
	first, second := a, b
	if canonicalJob(b) < canonicalJob(a) {
		first, second = b, a
	}

	var key string
	if e.cache != nil {
		key = e.cache.Key("match", canonicalJob(first), canonicalJob(second))
		var cached MatchResult
		if e.cache.Get(ctx, key, &cached) {
			return &cached, nil
		}
	}

	// Identical normalized pairs need no model at all.
	if canonicalJob(first) == canonicalJob(second) {
		return &MatchResult{SameJob: true, FallbackUsed: false, Confidence: domain.ConfidenceHigh}, nil
	}

	userPrompt := fmt.Sprintf("Job A: employer=%q role=%q\nJob B: employer=%q role=%q", a.Employer, a.Role, b.Employer, b.Role)
	resp, err := e.invoke(ctx, "match", e.cfg.MatchTimeout, e.cfg.MatchMaxTokens, matchSystemPrompt, userPrompt)
	if err != nil {
		e.log.Debug().Err(err).Msg("match model path bypassed, using fallback")
		return matchFallback(a, b), nil
	}

	var parsed struct {
		SameJob bool `json:"same_job"`
	}
	if err := json.Unmarshal([]byte(stripFence(resp)), &parsed); err != nil {
		e.log.Debug().Err(err).Msg("unparseable match response, using fallback")
		return matchFallback(a, b), nil
	}

	result := &MatchResult{SameJob: parsed.SameJob, FallbackUsed: false, Confidence: domain.ConfidenceHigh}
	if e.cache != nil {
		e.cache.Store(ctx, key, result)
	}
	return result, nil
}

// roleSynonyms maps common abbreviations to their expanded form.
var roleSynonyms = map[string]string{
	"swe":  "software engineer",
	"sre":  "site reliability engineer",
	"sde":  "software development engineer",
	"pm":   "product manager",
	"tpm":  "technical program manager",
	"ds":   "data scientist",
	"ml":   "machine learning",
	"sr":   "senior",
	"sr.":  "senior",
	"jr":   "junior",
	"jr.":  "junior",
	"eng":  "engineer",
	"engr": "engineer",
	"mgr":  "manager",
	"dev":  "developer",
}

// matchFallback performs exact/near-exact comparison over normalized,
// synonym-expanded strings.
func matchFallback(a, b JobKey) *MatchResult {
	if normalizeEmployer(a.Employer) != normalizeEmployer(b.Employer) {
		return &MatchResult{SameJob: false, FallbackUsed: true, Confidence: domain.ConfidenceMedium}
	}

	roleA := normalizeRole(a.Role)
	roleB := normalizeRole(b.Role)
	if roleA == roleB {
		return &MatchResult{SameJob: true, FallbackUsed: true, Confidence: domain.ConfidenceHigh}
	}

	// Near-exact: one role's tokens contained in the other's.
	if tokensContained(roleA, roleB) || tokensContained(roleB, roleA) {
		return &MatchResult{SameJob: true, FallbackUsed: true, Confidence: domain.ConfidenceMedium}
	}
	return &MatchResult{SameJob: false, FallbackUsed: true, Confidence: domain.ConfidenceLow}
}

func canonicalJob(k JobKey) string {
	return normalizeEmployer(k.Employer) + "|" + normalizeRole(k.Role)
}

func normalizeEmployer(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, suffix := range []string{", inc.", ", inc", " inc.", " inc", " llc", " ltd", " gmbh", " corp.", " corp"} {
		s = strings.TrimSuffix(s, suffix)
	}
	return strings.Join(strings.Fields(s), " ")
}

func normalizeRole(s string) string {
	fields := strings.Fields(strings.ToLower(s))
	for i, f := range fields {
		f = strings.Trim(f, ",()")
		if expanded, ok := roleSynonyms[f]; ok {
			fields[i] = expanded
		} else {
			fields[i] = f
		}
	}
	return strings.Join(fields, " ")
}

func tokensContained(sub, super string) bool {
	if sub == "" {
		return false
	}
	superTokens := make(map[string]bool)
	for _, t := range strings.Fields(super) {
		superTokens[t] = true
	}
	for _, t := range strings.Fields(sub) {
		if !superTokens[t] {
			return false
		}
	}
	return true
}

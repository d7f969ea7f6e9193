package inference

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/goccy/go-json"

	"jobsift/core/domain"
)

// ExtractResult is the structured extraction output.
type ExtractResult struct {
	Employer     string                `json:"employer"`
	Role         string                `json:"role"`
	Status       string                `json:"status"`
	FallbackUsed bool                  `json:"fallback_used"`
	Confidence   domain.ConfidenceTier `json:"confidence"`
}

const extractSystemPrompt = `You extract job application details from an email about the recipient's own application.

Status must be exactly one of: Applied, Interview, Offer, Declined.
- Applied: confirmation the application was submitted or received
- Interview: interview invitation or scheduling
- Offer: an offer is extended
- Declined: a rejection

Respond with this exact JSON format:
{"employer": "company name", "role": "role title", "status": "Applied|Interview|Offer|Declined"}

Use an empty string for any field that cannot be determined.`

// Extract runs the structured extraction stage with the larger budget.
// Only invoked after a positive classify verdict (or when configuration
// lets the preclassifier alone gate entry).
func (e *Engine) Extract(ctx context.Context, subject, body, sender string) (*ExtractResult, error) {
	truncated := truncateBody(body, e.cfg.ExtractBodyLimit)

	var key string
	if e.cache != nil {
		key = e.cache.Key("extract", subject, truncated)
		var cached ExtractResult
		if e.cache.Get(ctx, key, &cached) {
			return &cached, nil
		}
	}

	userPrompt := fmt.Sprintf("From: %s\nSubject: %s\n\nBody:\n%s", sender, subject, truncated)
	resp, err := e.invoke(ctx, "extract", e.cfg.ExtractTimeout, e.cfg.ExtractMaxTokens, extractSystemPrompt, userPrompt)
	if err != nil {
		e.log.Debug().Err(err).Msg("extract model path bypassed, using fallback")
		return extractFallback(subject, truncated, sender), nil
	}

	var parsed struct {
		Employer string `json:"employer"`
		Role     string `json:"role"`
		Status   string `json:"status"`
	}
	if err := json.Unmarshal([]byte(stripFence(resp)), &parsed); err != nil {
		e.log.Debug().Err(err).Msg("unparseable extract response, using fallback")
		return extractFallback(subject, truncated, sender), nil
	}

	if _, err := domain.ParseStatus(parsed.Status); err != nil {
		parsed.Status = string(inferStatus(subject + "\n" + truncated))
	}

	result := &ExtractResult{
		Employer:     strings.TrimSpace(parsed.Employer),
		Role:         strings.TrimSpace(parsed.Role),
		Status:       parsed.Status,
		FallbackUsed: false,
		Confidence:   domain.ConfidenceHigh,
	}
	if e.cache != nil {
		e.cache.Store(ctx, key, result)
	}
	return result, nil
}

// Subject shapes commonly produced by applicant tracking systems.
var (
	reAppTo     = regexp.MustCompile(`(?i)application (?:to|for|at) ([A-Z][\w&.\- ]{1,40})`)
	reAtCompany = regexp.MustCompile(`(?i)(?:position|role|opening) at ([A-Z][\w&.\- ]{1,40})`)
	reDashRole  = regexp.MustCompile(`^([\w&.\- ]{2,40})\s*[–-]\s*([\w/().,\- ]{2,60})$`)
)

// extractFallback derives fields from subject signatures and the sender
// domain when the model is unavailable.
func extractFallback(subject, body, sender string) *ExtractResult {
	result := &ExtractResult{
		Status:       string(inferStatus(subject + "\n" + body)),
		FallbackUsed: true,
		Confidence:   domain.ConfidenceLow,
	}

	if m := reAppTo.FindStringSubmatch(subject); m != nil {
		result.Employer = strings.TrimSpace(m[1])
		result.Confidence = domain.ConfidenceMedium
	} else if m := reAtCompany.FindStringSubmatch(subject); m != nil {
		result.Employer = strings.TrimSpace(m[1])
		result.Confidence = domain.ConfidenceMedium
	} else if m := reDashRole.FindStringSubmatch(strings.TrimSpace(subject)); m != nil {
		// "Acme – Software Engineer" style subjects
		result.Employer = strings.TrimSpace(m[1])
		result.Role = strings.TrimSpace(m[2])
		result.Confidence = domain.ConfidenceMedium
	}

	if result.Employer == "" {
		result.Employer = employerFromDomain(sender)
	}
	return result
}

// inferStatus maps decision phrasing to an application status.
func inferStatus(text string) domain.ApplicationStatus {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "regret") ||
		strings.Contains(lower, "unfortunately") ||
		strings.Contains(lower, "not to move forward") ||
		strings.Contains(lower, "other candidates"):
		return domain.StatusDeclined
	case strings.Contains(lower, "offer"):
		return domain.StatusOffer
	case strings.Contains(lower, "interview"):
		return domain.StatusInterview
	default:
		return domain.StatusApplied
	}
}

// employerFromDomain turns "jobs@greenhouse.acme.com" into "acme".
func employerFromDomain(sender string) string {
	at := strings.LastIndex(sender, "@")
	if at < 0 {
		return ""
	}
	d := strings.TrimSuffix(strings.ToLower(sender[at+1:]), ">")
	parts := strings.Split(d, ".")
	if len(parts) < 2 {
		return d
	}
	// second-level label, skipping ATS mail domains
	label := parts[len(parts)-2]
	for i := len(parts) - 2; i >= 0; i-- {
		switch parts[i] {
		case "greenhouse", "lever", "workday", "myworkday", "ashbyhq", "smartrecruiters", "icims", "mail", "email", "e":
			continue
		default:
			return parts[i]
		}
	}
	return label
}

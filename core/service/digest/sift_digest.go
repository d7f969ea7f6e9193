// Package digest implements the rule-based digest/newsletter detector.
// It is the primary cost-control lever: digests are the majority of
// noise, and anything flagged here never reaches an inference stage.
package digest

import (
	"regexp"
	"strings"

	"jobsift/core/domain"
)

// Filter evaluates ordered rules; the first match wins and rules are
// ordered by reliability. The filter never returns an error.
type Filter struct {
	senderPatterns  []*regexp.Regexp
	subjectPhrases  []string
	subjectPatterns []*regexp.Regexp
}

// Known job-alert and newsletter sender shapes, the most reliable signal.
var defaultSenderPatterns = []string{
	`(?i)^jobalerts?[-.@]`,
	`(?i)^job-?alerts?@`,
	`(?i)^jobs-(listings|noreply)@linkedin\.com`,
	`(?i)^alert@indeed\.com`,
	`(?i)^noreply@glassdoor\.com`,
	`(?i)^digest@`,
	`(?i)^newsletter[s]?@`,
	`(?i)^weekly@`,
	`(?i)@(mailer|newsletters?|digest)\.`,
}

// Subject phrasing that indicates a recurring digest.
var defaultSubjectPhrases = []string{
	"job alert",
	"jobs alert",
	"matched jobs",
	"jobs for you",
	"new jobs",
	"recommended jobs",
	"jobs you may be interested in",
	"your weekly",
	"weekly digest",
	"daily digest",
	"this week in",
}

var defaultSubjectPatterns = []string{
	`(?i)\b\d+\s+new\s+(jobs|positions|openings)\b`,
	`(?i)\bweekly\b.*\b(jobs|digest|roundup)\b`,
}

// Phrases that reference a specific personal application; their presence
// vetoes the multi-listing body rule.
var personalApplicationPhrases = []string{
	"your application",
	"you applied",
	"thank you for applying",
	"your interview",
	"your candidacy",
	"your resume was",
}

// reListingLine matches an enumerated job listing line, e.g.
// "Software Engineer - Acme - San Francisco".
var reListingLine = regexp.MustCompile(`(?im)^.{0,60}?(engineer|developer|manager|analyst|designer|scientist|lead|director)\b.{0,80}?[-–|·].{2,60}$`)

// New creates a digest filter with the default rule set.
func New() *Filter {
	f := &Filter{
		subjectPhrases: defaultSubjectPhrases,
	}
	for _, p := range defaultSenderPatterns {
		f.senderPatterns = append(f.senderPatterns, regexp.MustCompile(p))
	}
	for _, p := range defaultSubjectPatterns {
		f.subjectPatterns = append(f.subjectPatterns, regexp.MustCompile(p))
	}
	return f
}

// Check applies the ordered rules to one message. Items flagged here are
// recorded with method digest_filter and probability 0.
func (f *Filter) Check(subject, sender, body string) domain.DigestDecision {
	address := extractAddress(sender)
	for _, p := range f.senderPatterns {
		if p.MatchString(address) {
			return domain.DigestDecision{
				IsDigest:   true,
				Reason:     domain.DigestReasonSender,
				Confidence: 0.98,
				Signal:     p.String(),
			}
		}
	}

	lowerSubject := strings.ToLower(subject)
	for _, phrase := range f.subjectPhrases {
		if strings.Contains(lowerSubject, phrase) {
			return domain.DigestDecision{
				IsDigest:   true,
				Reason:     domain.DigestReasonSubject,
				Confidence: 0.95,
				Signal:     phrase,
			}
		}
	}
	for _, p := range f.subjectPatterns {
		if p.MatchString(subject) {
			return domain.DigestDecision{
				IsDigest:   true,
				Reason:     domain.DigestReasonSubject,
				Confidence: 0.9,
				Signal:     p.String(),
			}
		}
	}

	// Multi-listing body without a personal application reference.
	if countListingLines(body) >= 3 && !hasPersonalReference(body) {
		return domain.DigestDecision{
			IsDigest:   true,
			Reason:     domain.DigestReasonMultiListing,
			Confidence: 0.8,
			Signal:     "enumerated listings",
		}
	}

	return domain.DigestDecision{IsDigest: false}
}

func countListingLines(body string) int {
	return len(reListingLine.FindAllString(body, 4))
}

func hasPersonalReference(body string) bool {
	lower := strings.ToLower(body)
	for _, phrase := range personalApplicationPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// extractAddress pulls "user@host" out of "Name <user@host>" forms.
func extractAddress(sender string) string {
	if start := strings.LastIndex(sender, "<"); start >= 0 {
		if end := strings.LastIndex(sender, ">"); end > start {
			return sender[start+1 : end]
		}
	}
	return strings.TrimSpace(sender)
}

// Package preclass implements the fast statistical preclassifier that
// triages messages before any model-backed stage runs.
package preclass

import (
	"math"
	"strings"
)

// Policy is the centrally configured threshold set. Callers never
// hardcode their own cut-offs.
type Policy struct {
	AutoApprove float64 // >= : classified, low review priority
	NeedsReview float64 // <  : flagged for human review
	MinStorage  float64 // <  : recorded for audit, never auto-promoted
}

// Verdict is the triage outcome for one message.
type Verdict struct {
	Probability  float64
	NeedsReview  bool
	AutoApproved bool
	// Store is false below the minimum-storage threshold: the record is
	// still written for audit but excluded from automatic promotion.
	Store bool
}

// Preclassifier scores job-relatedness from weighted lexical evidence.
// Inference is a pure function running well under 10ms; weights are
// produced by an external training loop fed with review feedback.
type Preclassifier struct {
	weights map[string]float64
	bias    float64
	policy  Policy
}

// defaultWeights are log-odds contributions per feature, seeded from the
// phrase statistics of a hand-labelled corpus.
var defaultWeights = map[string]float64{
	// strong positive evidence
	"subject:application":               1.6,
	"subject:interview":                 2.1,
	"subject:offer":                     1.4,
	"body:thank you for applying":       2.4,
	"body:your application":             2.0,
	"body:we received your application": 2.2,
	"body:regret to inform":             2.1,
	"body:other candidates":             1.9,
	"body:hiring process":               1.5,
	"body:schedule an interview":        2.2,
	"body:recruiter":                    1.0,
	"body:position":                     0.6,
	"body:candidate":                    0.9,
	"sender:ats":                        1.8,

	// negative evidence
	"subject:sale":         -1.8,
	"subject:% off":        -2.2,
	"subject:unsubscribe":  -1.5,
	"body:view in browser": -1.4,
	"body:promotional":     -1.6,
	"body:coupon":          -2.0,
	"sender:noreply-bulk":  -0.8,
}

// Known applicant-tracking-system domains.
var atsDomains = []string{
	"greenhouse.io", "lever.co", "myworkday.com", "ashbyhq.com",
	"smartrecruiters.com", "icims.com", "jobvite.com", "workable.com",
	"bamboohr.com", "recruitee.com",
}

// New creates a preclassifier with the default weight table.
func New(policy Policy) *Preclassifier {
	return NewWithWeights(policy, defaultWeights, -1.2)
}

// NewWithWeights creates a preclassifier from externally trained
// weights.
func NewWithWeights(policy Policy, weights map[string]float64, bias float64) *Preclassifier {
	return &Preclassifier{weights: weights, bias: bias, policy: policy}
}

// Score returns the job-relatedness probability for one message.
func (p *Preclassifier) Score(subject, body, sender string) float64 {
	sum := p.bias
	lowerSubject := strings.ToLower(subject)
	lowerBody := strings.ToLower(body)
	lowerSender := strings.ToLower(sender)

	for feature, weight := range p.weights {
		scope, needle, ok := strings.Cut(feature, ":")
		if !ok {
			continue
		}
		switch scope {
		case "subject":
			if strings.Contains(lowerSubject, needle) {
				sum += weight
			}
		case "body":
			if strings.Contains(lowerBody, needle) {
				sum += weight
			}
		case "sender":
			if p.senderFeature(lowerSender, needle) {
				sum += weight
			}
		}
	}

	return sigmoid(sum)
}

// Evaluate applies the threshold policy to the score. Triage only: the
// result gates the staged engine, it never substitutes for extraction.
func (p *Preclassifier) Evaluate(subject, body, sender string) Verdict {
	prob := p.Score(subject, body, sender)
	return Verdict{
		Probability:  prob,
		NeedsReview:  prob < p.policy.NeedsReview,
		AutoApproved: prob >= p.policy.AutoApprove,
		Store:        prob >= p.policy.MinStorage,
	}
}

func (p *Preclassifier) senderFeature(sender, needle string) bool {
	switch needle {
	case "ats":
		for _, d := range atsDomains {
			if strings.Contains(sender, d) {
				return true
			}
		}
		return false
	case "noreply-bulk":
		return strings.Contains(sender, "noreply") || strings.Contains(sender, "no-reply")
	default:
		return strings.Contains(sender, needle)
	}
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

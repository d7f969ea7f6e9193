// Package extract turns raw provider payloads into clean plaintext
// bodies.
package extract

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"jobsift/core/domain"
	"jobsift/core/port/out"
	"jobsift/pkg/apperr"
)

// Config holds extraction thresholds. Supplied by configuration, never
// hardcoded by callers.
type Config struct {
	// MinPartLength: text parts shorter than this are ignored as noise.
	MinPartLength int

	// ShortBodyLength: an extracted body under this length for a
	// decision-phrased message triggers the raw-format re-fetch.
	ShortBodyLength int

	// SnippetMaxLength caps the degraded snippet body.
	SnippetMaxLength int

	// TruncatingSenders lists sender domains known to deliver truncated
	// summary payloads for decision emails.
	TruncatingSenders []string
}

// DefaultTruncatingSenders covers providers whose notification payloads
// habitually cut rejection text short.
var DefaultTruncatingSenders = []string{"linkedin.com", "indeed.com", "glassdoor.com"}

// Extractor produces one ExtractedEmail per RawMessage.
type Extractor struct {
	source out.MessageSource
	cfg    Config
	log    zerolog.Logger
}

// NewExtractor creates a content extractor. source may be nil, which
// disables the raw-format fallback fetch.
func NewExtractor(source out.MessageSource, cfg Config, log zerolog.Logger) *Extractor {
	if cfg.MinPartLength == 0 {
		cfg.MinPartLength = 20
	}
	if cfg.ShortBodyLength == 0 {
		cfg.ShortBodyLength = 200
	}
	if cfg.SnippetMaxLength == 0 {
		cfg.SnippetMaxLength = 500
	}
	if cfg.TruncatingSenders == nil {
		cfg.TruncatingSenders = DefaultTruncatingSenders
	}
	return &Extractor{
		source: source,
		cfg:    cfg,
		log:    log.With().Str("component", "extract").Logger(),
	}
}

// Extract runs the layered extraction: provider payload first, raw
// re-fetch when the truncation heuristic fires, snippet as the last
// resort. Returns EXTRACTION_FAILED only when no text at all is
// available.
func (e *Extractor) Extract(ctx context.Context, msg *domain.RawMessage) (*domain.ExtractedEmail, error) {
	body, fromHTML, quality := e.fromPayload(msg)

	// Truncation recovery: a suspiciously short body on a decision email
	// from a known truncating provider warrants one raw-format re-fetch.
	if e.source != nil && e.shouldRefetchRaw(msg, body) {
		if raw, err := e.source.FetchRawFormat(ctx, msg.ID); err == nil && len(raw) > 0 {
			rawBody := e.fromRaw(raw)
			if pick := chooseCandidate(body, rawBody); pick == rawBody && rawBody != "" {
				e.log.Debug().Str("message_id", msg.ID).Msg("raw-format re-fetch recovered a better body")
				return &domain.ExtractedEmail{
					MessageID:   msg.ID,
					Body:        decodeEscapes(rawBody),
					FromRaw:     true,
					Quality:     "raw-refetch",
					ExtractedAt: time.Now(),
				}, nil
			}
		} else if err != nil {
			e.log.Debug().Err(err).Str("message_id", msg.ID).Msg("raw-format re-fetch failed, keeping payload body")
		}
	}

	if body != "" {
		return &domain.ExtractedEmail{
			MessageID:   msg.ID,
			Body:        decodeEscapes(body),
			FromHTML:    fromHTML,
			Quality:     quality,
			ExtractedAt: time.Now(),
		}, nil
	}

	// Degrade to the provider snippet rather than failing outright.
	if snippet := strings.TrimSpace(msg.Snippet); snippet != "" {
		if len(snippet) > e.cfg.SnippetMaxLength {
			snippet = snippet[:e.cfg.SnippetMaxLength]
		}
		return &domain.ExtractedEmail{
			MessageID:   msg.ID,
			Body:        decodeEscapes(snippet),
			UsedSnippet: true,
			Quality:     "snippet",
			ExtractedAt: time.Now(),
		}, nil
	}

	return nil, apperr.ExtractionFailed(msg.ID)
}

// fromPayload picks the best body from the already-parsed provider
// payload: the plain-text part when long enough, stripped HTML
// otherwise.
func (e *Extractor) fromPayload(msg *domain.RawMessage) (body string, fromHTML bool, quality string) {
	text := strings.TrimSpace(msg.BodyText)
	if len(text) >= e.cfg.MinPartLength {
		return text, false, "payload/plain"
	}

	if msg.BodyHTML != "" {
		stripped := strings.TrimSpace(htmlToText(msg.BodyHTML))
		if len(stripped) >= e.cfg.MinPartLength {
			return stripped, true, "payload/html"
		}
	}

	// A short plain part still beats nothing.
	if text != "" {
		return text, false, "payload/short"
	}
	return "", false, ""
}

// fromRaw parses the RFC822 transport bytes and picks the best text
// candidate.
func (e *Extractor) fromRaw(raw []byte) string {
	plain, html := parseRawMessage(raw, e.cfg.MinPartLength)
	if plain != "" {
		return strings.TrimSpace(plain)
	}
	if html != "" {
		return strings.TrimSpace(htmlToText(html))
	}
	return ""
}

func (e *Extractor) shouldRefetchRaw(msg *domain.RawMessage, body string) bool {
	if len(body) >= e.cfg.ShortBodyLength {
		return false
	}
	if !hasDecisionPhrasing(msg.Subject) {
		return false
	}
	senderDomain := msg.SenderDomain()
	for _, d := range e.cfg.TruncatingSenders {
		if senderDomain == d || strings.HasSuffix(senderDomain, "."+d) {
			return true
		}
	}
	return false
}

// decisionPhrases indicate application/rejection language; candidate
// selection prefers substance over length.
var decisionPhrases = []string{
	"unfortunately",
	"regret",
	"not selected",
	"other candidates",
	"not to move forward",
	"application",
	"your candidacy",
	"decided to pursue",
	"best of luck",
}

func hasDecisionPhrasing(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range decisionPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func countDecisionPhrases(s string) int {
	lower := strings.ToLower(s)
	count := 0
	for _, p := range decisionPhrases {
		if strings.Contains(lower, p) {
			count++
		}
	}
	return count
}

// chooseCandidate prefers the text with more decision phrasing; length
// only breaks ties.
func chooseCandidate(a, b string) string {
	ca, cb := countDecisionPhrases(a), countDecisionPhrases(b)
	if cb > ca {
		return b
	}
	if ca > cb {
		return a
	}
	if len(b) > len(a) {
		return b
	}
	return a
}

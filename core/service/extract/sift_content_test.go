package extract

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"jobsift/core/domain"
	"jobsift/core/port/out"
	"jobsift/pkg/apperr"
)

// fakeSource serves canned raw payloads for the fallback path.
type fakeSource struct {
	raw        map[string][]byte
	rawFetches int
}

func (f *fakeSource) FetchMessages(ctx context.Context, query *out.MessageQuery) ([]*domain.RawMessage, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeSource) FetchRawFormat(ctx context.Context, messageID string) ([]byte, error) {
	f.rawFetches++
	raw, ok := f.raw[messageID]
	if !ok {
		return nil, errors.New("no raw payload")
	}
	return raw, nil
}

func newTestExtractor(source out.MessageSource) *Extractor {
	return NewExtractor(source, Config{
		MinPartLength:    20,
		ShortBodyLength:  200,
		SnippetMaxLength: 500,
	}, zerolog.Nop())
}

func TestExtractPrefersPlainTextPart(t *testing.T) {
	e := newTestExtractor(nil)

	msg := &domain.RawMessage{
		ID:       "m1",
		Sender:   "recruiter@acme.com",
		Subject:  "Interview scheduling",
		BodyText: "We would like to invite you to an interview next week.",
		BodyHTML: "<p>We would like to invite you to an interview next week.</p>",
	}

	got, err := e.Extract(context.Background(), msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.FromHTML {
		t.Error("expected plain-text part to win over HTML")
	}
	if !strings.Contains(got.Body, "invite you to an interview") {
		t.Errorf("unexpected body: %q", got.Body)
	}
}

func TestExtractStripsHTMLWhenNoPlainPart(t *testing.T) {
	e := newTestExtractor(nil)

	msg := &domain.RawMessage{
		ID:       "m2",
		Sender:   "noreply@acme.com",
		Subject:  "Application received",
		BodyHTML: "<html><head><style>p{}</style></head><body><p>Thanks for applying to <b>Acme</b>.</p><p>We&rsquo;ll be in touch.</p></body></html>",
	}

	got, err := e.Extract(context.Background(), msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.FromHTML {
		t.Error("expected FromHTML flag for stripped body")
	}
	if strings.Contains(got.Body, "<") {
		t.Errorf("markup left in body: %q", got.Body)
	}
	if !strings.Contains(got.Body, "Thanks for applying to Acme.") {
		t.Errorf("unexpected body: %q", got.Body)
	}
	if !strings.Contains(got.Body, "We'll be in touch.") {
		t.Errorf("entities not decoded: %q", got.Body)
	}
}

func TestExtractDegradesToSnippet(t *testing.T) {
	e := newTestExtractor(nil)

	msg := &domain.RawMessage{
		ID:      "m3",
		Sender:  "noreply@acme.com",
		Subject: "Hello",
		Snippet: "Short preview of the message body provided by the provider.",
	}

	got, err := e.Extract(context.Background(), msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.UsedSnippet {
		t.Error("expected snippet degradation")
	}
}

func TestExtractFailsOnlyWithNoTextAtAll(t *testing.T) {
	e := newTestExtractor(nil)

	msg := &domain.RawMessage{ID: "m4", Sender: "x@y.com", Subject: "empty"}
	_, err := e.Extract(context.Background(), msg)
	if err == nil {
		t.Fatal("expected NoReadableContent failure")
	}
	if !apperr.HasCode(err, apperr.CodeExtractionFailed) {
		t.Errorf("expected EXTRACTION_FAILED, got %v", err)
	}
}

func TestExtractRawRefetchOnTruncatedDecisionEmail(t *testing.T) {
	fullBody := "Thank you for your interest in the Software Engineer position. " +
		"Unfortunately, after careful review, we regret to inform you that we will " +
		"not be moving forward with your application. We wish you the best of luck " +
		"with your search and your candidacy elsewhere."

	raw := "From: jobs-noreply@linkedin.com\r\n" +
		"To: me@example.com\r\n" +
		"Subject: Your application to Acme\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" + fullBody + "\r\n"

	source := &fakeSource{raw: map[string][]byte{"m5": []byte(raw)}}
	e := newTestExtractor(source)

	msg := &domain.RawMessage{
		ID:         "m5",
		Sender:     "jobs-noreply@linkedin.com",
		Subject:    "Your application to Acme",
		ReceivedAt: time.Now(),
		BodyText:   "Thank you for your interest.", // truncated summary payload
	}

	got, err := e.Extract(context.Background(), msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if source.rawFetches != 1 {
		t.Errorf("expected exactly one raw fetch, got %d", source.rawFetches)
	}
	if !got.FromRaw {
		t.Error("expected raw-format body to be selected")
	}
	if !strings.Contains(got.Body, "regret to inform") {
		t.Errorf("expected decision phrasing in recovered body, got %q", got.Body)
	}
}

func TestExtractNoRefetchForOrdinarySenders(t *testing.T) {
	source := &fakeSource{raw: map[string][]byte{}}
	e := newTestExtractor(source)

	msg := &domain.RawMessage{
		ID:       "m6",
		Sender:   "recruiter@acme.com",
		Subject:  "Your application update",
		BodyText: "Short but from a sender whose payloads are trusted.",
	}

	if _, err := e.Extract(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if source.rawFetches != 0 {
		t.Errorf("expected no raw fetch, got %d", source.rawFetches)
	}
}

func TestChooseCandidatePrefersDecisionPhrasing(t *testing.T) {
	longButEmpty := strings.Repeat("lorem ipsum dolor sit amet ", 40)
	shortButSubstantive := "Unfortunately we regret to inform you about your application."

	if got := chooseCandidate(longButEmpty, shortButSubstantive); got != shortButSubstantive {
		t.Error("expected decision phrasing to beat raw length")
	}
}

func TestParseRawMessageMultipart(t *testing.T) {
	raw := "From: a@b.com\r\n" +
		"Subject: test\r\n" +
		"Content-Type: multipart/alternative; boundary=\"BOUNDARY\"\r\n" +
		"\r\n" +
		"--BOUNDARY\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"This is the plain text part of the message body.\r\n" +
		"--BOUNDARY\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<p>This is the HTML part of the message body.</p>\r\n" +
		"--BOUNDARY--\r\n"

	plain, html := parseRawMessage([]byte(raw), 20)
	if !strings.Contains(plain, "plain text part") {
		t.Errorf("expected plain part, got %q", plain)
	}
	if !strings.Contains(html, "HTML part") {
		t.Errorf("expected html part, got %q", html)
	}
}

func TestParseRawMessageQuotedPrintable(t *testing.T) {
	raw := "From: a@b.com\r\n" +
		"Subject: test\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"Content-Transfer-Encoding: quoted-printable\r\n" +
		"\r\n" +
		"We=E2=80=99re sorry =E2=80=94 your application was not selected this time.\r\n"

	plain, _ := parseRawMessage([]byte(raw), 20)
	if !strings.Contains(plain, "sorry") {
		t.Errorf("expected decoded quoted-printable text, got %q", plain)
	}
}

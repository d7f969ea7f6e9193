package inference

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"jobsift/core/domain"
)

func testConfig(baseURL string) EngineConfig {
	return EngineConfig{
		BaseURL:           baseURL,
		APIKey:            "local",
		Model:             "test-model",
		ClassifyTimeout:   100 * time.Millisecond,
		ExtractTimeout:    100 * time.Millisecond,
		MatchTimeout:      100 * time.Millisecond,
		ClassifyMaxTokens: 64,
		ExtractMaxTokens:  256,
		MatchMaxTokens:    32,
		ClassifyBodyLimit: 400,
		ExtractBodyLimit:  3000,
		Concurrency:       2,
	}
}

// slowServer never answers within the stage timeout.
func slowServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClassifyTimeoutFallsBackWithinBudget(t *testing.T) {
	srv := slowServer(t)
	engine := NewEngine(testConfig(srv.URL+"/v1"), nil, zerolog.Nop())

	start := time.Now()
	result, err := engine.Classify(context.Background(), "Thank you for applying to Acme", "We received your application.")
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("expected fallback result, got error: %v", err)
	}
	if !result.FallbackUsed {
		t.Error("expected fallback_used=true after timeout")
	}
	if !result.IsJob {
		t.Error("expected keyword fallback to recognize application confirmation")
	}
	if elapsed > time.Second {
		t.Errorf("classify took %v, must complete within timeout plus a small epsilon", elapsed)
	}
}

func TestClassifyFallbackKeywords(t *testing.T) {
	tests := []struct {
		name      string
		subject   string
		body      string
		wantIsJob bool
	}{
		{
			name:      "application confirmation",
			subject:   "Thank you for applying to Acme",
			body:      "We received your application for Software Engineer.",
			wantIsJob: true,
		},
		{
			name:      "rejection phrasing",
			subject:   "Update on your application",
			body:      "We regret to inform you that we moved forward with other candidates.",
			wantIsJob: true,
		},
		{
			name:      "interview invite",
			subject:   "Interview availability",
			body:      "We would like to schedule an interview for the role.",
			wantIsJob: true,
		},
		{
			name:      "unrelated newsletter",
			subject:   "Your weekly tech digest",
			body:      "Top stories in technology this week.",
			wantIsJob: false,
		},
		{
			name:      "single weak signal is not enough",
			subject:   "Project update",
			body:      "The new role of the service is routing.",
			wantIsJob: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := classifyFallback(tt.subject, tt.body)
			if result.IsJob != tt.wantIsJob {
				t.Errorf("expected is_job=%v, got %v", tt.wantIsJob, result.IsJob)
			}
			if !result.FallbackUsed {
				t.Error("fallback results must carry fallback_used=true")
			}
		})
	}
}

func TestExtractFallback(t *testing.T) {
	tests := []struct {
		name         string
		subject      string
		body         string
		sender       string
		wantEmployer string
		wantStatus   domain.ApplicationStatus
	}{
		{
			name:         "application-to subject",
			subject:      "Your application to Stripe",
			body:         "Thanks for applying!",
			sender:       "no-reply@stripe.com",
			wantEmployer: "Stripe",
			wantStatus:   domain.StatusApplied,
		},
		{
			name:         "rejection body",
			subject:      "Update on your application to Stripe",
			body:         "Unfortunately we will not be moving forward.",
			sender:       "no-reply@stripe.com",
			wantEmployer: "Stripe",
			wantStatus:   domain.StatusDeclined,
		},
		{
			name:         "dash subject with role",
			subject:      "Google – Software Engineer",
			body:         "Interview scheduling link inside.",
			sender:       "recruiting@google.com",
			wantEmployer: "Google",
			wantStatus:   domain.StatusInterview,
		},
		{
			name:         "employer from sender domain",
			subject:      "Next steps",
			body:         "We would like to set up an interview.",
			sender:       "talent@acme.com",
			wantEmployer: "acme",
			wantStatus:   domain.StatusInterview,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := extractFallback(tt.subject, tt.body, tt.sender)
			if result.Employer != tt.wantEmployer {
				t.Errorf("expected employer %q, got %q", tt.wantEmployer, result.Employer)
			}
			if result.Status != string(tt.wantStatus) {
				t.Errorf("expected status %q, got %q", tt.wantStatus, result.Status)
			}
			if !result.FallbackUsed {
				t.Error("fallback results must carry fallback_used=true")
			}
		})
	}
}

func TestMatchFallback(t *testing.T) {
	tests := []struct {
		name     string
		a, b     JobKey
		wantSame bool
	}{
		{
			name:     "abbreviation matches expansion",
			a:        JobKey{Employer: "Google", Role: "Software Engineer"},
			b:        JobKey{Employer: "Google", Role: "SWE"},
			wantSame: true,
		},
		{
			name:     "exact match",
			a:        JobKey{Employer: "Acme", Role: "Data Scientist"},
			b:        JobKey{Employer: "Acme", Role: "Data Scientist"},
			wantSame: true,
		},
		{
			name:     "corporate suffix ignored",
			a:        JobKey{Employer: "Acme, Inc.", Role: "Backend Developer"},
			b:        JobKey{Employer: "Acme", Role: "Backend Dev"},
			wantSame: true,
		},
		{
			name:     "qualified role contains base role",
			a:        JobKey{Employer: "Acme", Role: "Senior Software Engineer"},
			b:        JobKey{Employer: "Acme", Role: "Software Engineer"},
			wantSame: true,
		},
		{
			name:     "different employer never matches",
			a:        JobKey{Employer: "Google", Role: "SWE"},
			b:        JobKey{Employer: "Meta", Role: "SWE"},
			wantSame: false,
		},
		{
			name:     "different roles at same employer",
			a:        JobKey{Employer: "Acme", Role: "Product Manager"},
			b:        JobKey{Employer: "Acme", Role: "Account Executive"},
			wantSame: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := matchFallback(tt.a, tt.b)
			if result.SameJob != tt.wantSame {
				t.Errorf("expected same_job=%v, got %v", tt.wantSame, result.SameJob)
			}
		})
	}
}

func TestStageCacheKeyNormalization(t *testing.T) {
	c := NewStageCache(nil, time.Hour)

	k1 := c.Key("classify", "Interview  Invitation", "We Would like to talk")
	k2 := c.Key("classify", "interview invitation", "we   would like to talk")
	if k1 != k2 {
		t.Error("expected normalized keys to match across case and whitespace")
	}

	k3 := c.Key("extract", "interview invitation", "we would like to talk")
	if k1 == k3 {
		t.Error("expected different stages to produce different keys")
	}
}

func TestTruncateBody(t *testing.T) {
	if got := truncateBody("hello", 10); got != "hello" {
		t.Errorf("expected %q, got %q", "hello", got)
	}
	if got := truncateBody("hello world", 5); got != "hello..." {
		t.Errorf("expected %q, got %q", "hello...", got)
	}
}

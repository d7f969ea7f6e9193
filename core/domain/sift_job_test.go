package domain

import (
	"testing"
	"time"
)

func TestMergeAdvancesStatusMonotonically(t *testing.T) {
	tests := []struct {
		name     string
		initial  ApplicationStatus
		incoming ApplicationStatus
		want     ApplicationStatus
	}{
		{"applied to interview", StatusApplied, StatusInterview, StatusInterview},
		{"interview to offer", StatusInterview, StatusOffer, StatusOffer},
		{"offer to declined", StatusOffer, StatusDeclined, StatusDeclined},
		{"offer then applied keeps offer", StatusOffer, StatusApplied, StatusOffer},
		{"declined then interview keeps declined", StatusDeclined, StatusInterview, StatusDeclined},
		{"same status is a no-op", StatusInterview, StatusInterview, StatusInterview},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ent := NewJobEntity("Acme", "Engineer", tt.initial, JobMessage{MessageID: "m-1", Status: tt.initial})
			ent.Merge(JobMessage{MessageID: "m-2", ReceivedAt: time.Now(), Status: tt.incoming})
			if ent.Status != tt.want {
				t.Errorf("expected %q, got %q", tt.want, ent.Status)
			}
			// the observed status stays on the message either way
			if ent.Messages[1].Status != tt.incoming {
				t.Errorf("expected message status %q, got %q", tt.incoming, ent.Messages[1].Status)
			}
		})
	}
}

func TestParseStatus(t *testing.T) {
	if _, err := ParseStatus("Ghosted"); err == nil {
		t.Error("expected error for unknown status")
	}
	st, err := ParseStatus("Interview")
	if err != nil || st != StatusInterview {
		t.Errorf("expected Interview, got %q (err %v)", st, err)
	}
}

func TestContains(t *testing.T) {
	ent := NewJobEntity("Acme", "Engineer", StatusApplied, JobMessage{MessageID: "m-1"})
	if !ent.Contains("m-1") {
		t.Error("expected m-1 to be present")
	}
	if ent.Contains("m-2") {
		t.Error("did not expect m-2")
	}
}

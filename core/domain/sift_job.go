package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ApplicationStatus is the lifecycle state of a job application.
type ApplicationStatus string

const (
	StatusApplied   ApplicationStatus = "Applied"
	StatusInterview ApplicationStatus = "Interview"
	StatusOffer     ApplicationStatus = "Offer"
	StatusDeclined  ApplicationStatus = "Declined"
)

// statusPriority orders statuses; an entity's status never regresses to a
// lower priority.
var statusPriority = map[ApplicationStatus]int{
	StatusApplied:   1,
	StatusInterview: 2,
	StatusOffer:     3,
	StatusDeclined:  4,
}

// ParseStatus converts a raw string to an ApplicationStatus, returning an
// error for unknown values.
func ParseStatus(s string) (ApplicationStatus, error) {
	st := ApplicationStatus(s)
	if _, ok := statusPriority[st]; ok {
		return st, nil
	}
	return "", fmt.Errorf("unknown application status %q", s)
}

// Priority returns the ordering rank of a status; unknown statuses rank
// lowest.
func (s ApplicationStatus) Priority() int {
	return statusPriority[s]
}

// JobMessage is a contributing message reference, kept in received order.
type JobMessage struct {
	MessageID  string
	ReceivedAt time.Time
	Status     ApplicationStatus // status observed in this message
}

// JobEntity is one deduplicated job application. Created when a
// classified message cannot merge into an existing entity; updated on
// merge, never deleted.
type JobEntity struct {
	ID             uuid.UUID
	Employer       string
	Role           string
	Status         ApplicationStatus
	ConversationID string // set when derived from a thread
	Messages       []JobMessage
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewJobEntity creates an entity seeded with its first message.
func NewJobEntity(employer, role string, status ApplicationStatus, msg JobMessage) *JobEntity {
	now := time.Now()
	return &JobEntity{
		ID:        uuid.New(),
		Employer:  employer,
		Role:      role,
		Status:    status,
		Messages:  []JobMessage{msg},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Merge appends a message and advances status monotonically. A
// lower-priority status arriving later is recorded on the message but
// never regresses the entity.
func (j *JobEntity) Merge(msg JobMessage) {
	j.Messages = append(j.Messages, msg)
	if msg.Status.Priority() > j.Status.Priority() {
		j.Status = msg.Status
	}
	j.UpdatedAt = time.Now()
}

// Contains reports whether a message already belongs to this entity.
func (j *JobEntity) Contains(messageID string) bool {
	for _, m := range j.Messages {
		if m.MessageID == messageID {
			return true
		}
	}
	return false
}

// Package domain defines the core entities of the job-application
// email pipeline.
package domain

import "time"

// RawMessage is a provider message exactly as fetched. Immutable.
type RawMessage struct {
	ID             string // provider message id, unique
	ConversationID string // provider thread id, empty for orphans
	Sender         string
	Subject        string
	ReceivedAt     time.Time
	Snippet        string

	// Body payload as delivered by the provider.
	BodyText string
	BodyHTML string

	// Raw transport bytes, populated only by the raw-format fallback fetch.
	RawRFC822 []byte
}

// SenderDomain returns the domain part of the sender address, lowercased.
func (m *RawMessage) SenderDomain() string {
	for i := len(m.Sender) - 1; i >= 0; i-- {
		if m.Sender[i] == '@' {
			d := m.Sender[i+1:]
			// strip a trailing ">" from "Name <user@host>" forms
			if n := len(d); n > 0 && d[n-1] == '>' {
				d = d[:n-1]
			}
			return toLowerASCII(d)
		}
	}
	return ""
}

// ExtractedEmail is the clean plaintext rendition of one RawMessage.
// Created once by the content extractor; re-extraction produces a new
// value rather than patching this one.
type ExtractedEmail struct {
	MessageID   string
	Body        string
	FromHTML    bool   // body came from HTML/multipart structure, not raw fallback
	FromRaw     bool   // body came from the raw-format re-fetch
	UsedSnippet bool   // degraded to the provider snippet
	Quality     string // extraction notes, e.g. "multipart/plain", "raw-refetch"
	ExtractedAt time.Time
}

func toLowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 32
		}
	}
	return string(b)
}

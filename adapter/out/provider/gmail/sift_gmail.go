// Package gmail adapts the Gmail API to the MessageSource port.
package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"jobsift/core/domain"
	"jobsift/core/port/out"
)

// Source implements out.MessageSource for Gmail.
type Source struct {
	service *gmailapi.Service
	email   string
	log     zerolog.Logger
}

// NewSource builds a Gmail source from an OAuth token.
func NewSource(ctx context.Context, token *oauth2.Token, config *oauth2.Config, log zerolog.Logger) (*Source, error) {
	client := config.Client(ctx, token)
	service, err := gmailapi.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}

	profile, err := service.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get gmail profile: %w", err)
	}

	return &Source{
		service: service,
		email:   profile.EmailAddress,
		log:     log.With().Str("component", "gmail").Logger(),
	}, nil
}

// Email returns the authenticated mailbox address, used as the account
// scope for the processed-id ledger.
func (s *Source) Email() string {
	return s.email
}

// FetchMessages lists ids matching the query and fetches full payloads
// with bounded concurrency. Individual fetch failures are logged and
// skipped; listing failures abort.
func (s *Source) FetchMessages(ctx context.Context, query *out.MessageQuery) ([]*domain.RawMessage, error) {
	q := query.Query
	if !query.After.IsZero() {
		q += fmt.Sprintf(" after:%s", query.After.Format("2006/01/02"))
	}
	if !query.Before.IsZero() {
		q += fmt.Sprintf(" before:%s", query.Before.Format("2006/01/02"))
	}

	var ids []string
	pageToken := ""
	for {
		req := s.service.Users.Messages.List("me").Q(q)
		if query.PageSize > 0 {
			req = req.MaxResults(int64(query.PageSize))
		}
		if pageToken != "" {
			req = req.PageToken(pageToken)
		}
		resp, err := req.Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
		}
		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}

	// Parallel fetch with bounded concurrency to stay under rate limits.
	const maxConcurrency = 5
	type result struct {
		index int
		msg   *domain.RawMessage
		err   error
	}
	results := make(chan result, len(ids))
	semaphore := make(chan struct{}, maxConcurrency)
	for i, id := range ids {
		go func(idx int, msgID string) {
			semaphore <- struct{}{}
			defer func() { <-semaphore }()
			msg, err := s.fetchOne(ctx, msgID)
			results <- result{index: idx, msg: msg, err: err}
		}(i, id)
	}

	ordered := make([]*domain.RawMessage, len(ids))
	for range ids {
		r := <-results
		if r.err != nil {
			s.log.Warn().Err(r.err).Str("message_id", ids[r.index]).Msg("message fetch failed, skipping")
			continue
		}
		ordered[r.index] = r.msg
	}

	msgs := make([]*domain.RawMessage, 0, len(ids))
	for _, m := range ordered {
		if m != nil {
			msgs = append(msgs, m)
		}
	}
	return msgs, nil
}

// FetchRawFormat retrieves one message as raw RFC 822 bytes. Only the
// truncation-recovery path calls this.
func (s *Source) FetchRawFormat(ctx context.Context, messageID string) ([]byte, error) {
	msg, err := s.service.Users.Messages.Get("me", messageID).
		Format("raw").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("get raw message: %w", err)
	}
	raw, err := base64.URLEncoding.DecodeString(msg.Raw)
	if err != nil {
		return nil, fmt.Errorf("decode raw message: %w", err)
	}
	return raw, nil
}

func (s *Source) fetchOne(ctx context.Context, messageID string) (*domain.RawMessage, error) {
	msg, err := s.service.Users.Messages.Get("me", messageID).
		Format("full").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return toRawMessage(msg), nil
}

func toRawMessage(msg *gmailapi.Message) *domain.RawMessage {
	rm := &domain.RawMessage{
		ID:             msg.Id,
		ConversationID: msg.ThreadId,
		Snippet:        msg.Snippet,
		ReceivedAt:     time.Unix(msg.InternalDate/1000, 0),
	}

	if msg.Payload != nil {
		for _, header := range msg.Payload.Headers {
			switch header.Name {
			case "From":
				rm.Sender = header.Value
			case "Subject":
				rm.Subject = header.Value
			}
		}
		rm.BodyHTML, rm.BodyText = walkBody(msg.Payload)
	}
	return rm
}

// Parts shorter than this are noise (signatures, separators, empty
// alternates), not body candidates.
const minBodyPartLength = 20

// walkBody returns the longest text/html and text/plain bodies in the
// part tree. Short parts are skipped so a leading signature or preamble
// cannot shadow the substantive part.
func walkBody(payload *gmailapi.MessagePart) (html, text string) {
	if payload == nil {
		return "", ""
	}
	if payload.Body != nil && payload.Body.Data != "" {
		data, _ := base64.URLEncoding.DecodeString(payload.Body.Data)
		if len(strings.TrimSpace(string(data))) >= minBodyPartLength {
			switch payload.MimeType {
			case "text/html":
				html = string(data)
			case "text/plain":
				text = string(data)
			}
		}
	}
	for _, part := range payload.Parts {
		h, t := walkBody(part)
		if len(h) > len(html) {
			html = h
		}
		if len(t) > len(text) {
			text = t
		}
	}
	return html, text
}

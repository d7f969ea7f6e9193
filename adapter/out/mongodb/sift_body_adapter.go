// Package mongodb implements the MongoDB body archive.
package mongodb

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"jobsift/core/domain"
)

const (
	collectionBodies = "email_bodies"

	// only compress bodies larger than this
	compressionThreshold = 1024
)

// BodyAdapter implements out.BodyStore. Extracted plaintext bodies are
// large and immutable, so they live here instead of Postgres, gzipped
// past the threshold and expired by a TTL index.
type BodyAdapter struct {
	collection *mongo.Collection
	ttl        time.Duration
}

func NewBodyAdapter(db *mongo.Database, ttl time.Duration) *BodyAdapter {
	return &BodyAdapter{
		collection: db.Collection(collectionBodies),
		ttl:        ttl,
	}
}

// EnsureIndexes creates the unique id and TTL indexes.
func (a *BodyAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "message_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	}
	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

type bodyDocument struct {
	MessageID    string `bson:"message_id"`
	Body         []byte `bson:"body"`
	IsCompressed bool   `bson:"is_compressed"`
	OriginalSize int64  `bson:"original_size"`

	FromHTML    bool   `bson:"from_html"`
	FromRaw     bool   `bson:"from_raw"`
	UsedSnippet bool   `bson:"used_snippet"`
	Quality     string `bson:"quality"`

	ExtractedAt time.Time `bson:"extracted_at"`
	ExpiresAt   time.Time `bson:"expires_at"`
}

// SaveBody upserts one extracted body.
func (a *BodyAdapter) SaveBody(ctx context.Context, email *domain.ExtractedEmail) error {
	raw := []byte(email.Body)
	doc := &bodyDocument{
		MessageID:    email.MessageID,
		Body:         raw,
		OriginalSize: int64(len(raw)),
		FromHTML:     email.FromHTML,
		FromRaw:      email.FromRaw,
		UsedSnippet:  email.UsedSnippet,
		Quality:      email.Quality,
		ExtractedAt:  email.ExtractedAt,
		ExpiresAt:    time.Now().Add(a.ttl),
	}
	if len(raw) > compressionThreshold {
		compressed, err := compress(raw)
		if err != nil {
			return fmt.Errorf("failed to compress body: %w", err)
		}
		doc.Body = compressed
		doc.IsCompressed = true
	}

	opts := options.Replace().SetUpsert(true)
	filter := bson.M{"message_id": email.MessageID}
	if _, err := a.collection.ReplaceOne(ctx, filter, doc, opts); err != nil {
		return fmt.Errorf("failed to save body: %w", err)
	}
	return nil
}

// GetBody retrieves one body, or nil when absent or expired.
func (a *BodyAdapter) GetBody(ctx context.Context, messageID string) (*domain.ExtractedEmail, error) {
	var doc bodyDocument
	err := a.collection.FindOne(ctx, bson.M{"message_id": messageID}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get body: %w", err)
	}

	body := doc.Body
	if doc.IsCompressed {
		body, err = decompress(doc.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress body: %w", err)
		}
	}
	return &domain.ExtractedEmail{
		MessageID:   doc.MessageID,
		Body:        string(body),
		FromHTML:    doc.FromHTML,
		FromRaw:     doc.FromRaw,
		UsedSnippet: doc.UsedSnippet,
		Quality:     doc.Quality,
		ExtractedAt: doc.ExtractedAt,
	}, nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultCollection  = "idempotency_keys"
	defaultPurgeLimit  = 200
	transactionRetries = 5
)

// FirestoreStore keeps keys in a Firestore collection so every instance shares them.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreStore returns a store writing to collection, or "idempotency_keys" when empty.
func NewFirestoreStore(client *firestore.Client, collection string) (*FirestoreStore, error) {
	if client == nil {
		return nil, errors.New("idempotency: firestore client is required")
	}
	if collection == "" {
		collection = defaultCollection
	}
	return &FirestoreStore{client: client, collection: collection}, nil
}

type keyDocument struct {
	Key             string              `firestore:"key"`
	Fingerprint     string              `firestore:"fingerprint"`
	Completed       bool                `firestore:"completed"`
	ResponseStatus  int                 `firestore:"responseStatus,omitempty"`
	ResponseHeaders map[string][]string `firestore:"responseHeaders,omitempty"`
	ResponseBody    []byte              `firestore:"responseBody,omitempty"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	ExpiresAt       time.Time           `firestore:"expiresAt"`
}

func (d keyDocument) entry() Entry {
	return Entry{
		Key:         d.Key,
		Fingerprint: d.Fingerprint,
		Completed:   d.Completed,
		Response: StoredResponse{
			Status:  d.ResponseStatus,
			Headers: d.ResponseHeaders,
			Body:    d.ResponseBody,
		},
		CreatedAt: d.CreatedAt,
		ExpiresAt: d.ExpiresAt,
	}
}

func (s *FirestoreStore) doc(key string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(documentID(key))
}

func (s *FirestoreStore) Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, Entry, error) {
	ref := s.doc(key)
	var (
		outcome Outcome
		entry   Entry
	)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil {
			var existing keyDocument
			if err := snap.DataTo(&existing); err != nil {
				return fmt.Errorf("decode idempotency key: %w", err)
			}
			current := existing.entry()
			if !current.expired(now) {
				if current.Fingerprint != fingerprint {
					return ErrKeyReused
				}
				outcome, entry = InFlight, current
				if current.Completed {
					outcome = Replay
				}
				return nil
			}
		}

		fresh := keyDocument{Key: key, Fingerprint: fingerprint, CreatedAt: now, ExpiresAt: now.Add(ttl)}
		outcome, entry = Claimed, fresh.entry()
		return tx.Set(ref, fresh)
	}, firestore.MaxAttempts(transactionRetries))
	if err != nil {
		return 0, Entry{}, err
	}
	return outcome, entry, nil
}

func (s *FirestoreStore) Complete(ctx context.Context, key, fingerprint string, resp StoredResponse, now time.Time, ttl time.Duration) error {
	ref := s.doc(key)
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		createdAt := now
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			var existing keyDocument
			if err := snap.DataTo(&existing); err != nil {
				return fmt.Errorf("decode idempotency key: %w", err)
			}
			if existing.Fingerprint != fingerprint {
				return ErrKeyReused
			}
			createdAt = existing.CreatedAt
		case status.Code(err) != codes.NotFound:
			return err
		}
		return tx.Set(ref, keyDocument{
			Key:             key,
			Fingerprint:     fingerprint,
			Completed:       true,
			ResponseStatus:  resp.Status,
			ResponseHeaders: replayableHeaders(resp.Headers),
			ResponseBody:    resp.Body,
			CreatedAt:       createdAt,
			ExpiresAt:       now.Add(ttl),
		})
	}, firestore.MaxAttempts(transactionRetries))
}

func (s *FirestoreStore) Release(ctx context.Context, key string) error {
	if _, err := s.doc(key).Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
		return err
	}
	return nil
}

// Purge deletes up to limit expired keys in one batch.
func (s *FirestoreStore) Purge(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultPurgeLimit
	}
	docs, err := s.client.Collection(s.collection).
		Where("expiresAt", "<=", now).
		OrderBy("expiresAt", firestore.Asc).
		Limit(limit).
		Documents(ctx).GetAll()
	if err != nil {
		return 0, fmt.Errorf("query expired idempotency keys: %w", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}
	bw := s.client.BulkWriter(ctx)
	for _, doc := range docs {
		if _, err := bw.Delete(doc.Ref); err != nil {
			bw.End()
			return 0, err
		}
	}
	bw.End()
	return len(docs), nil
}

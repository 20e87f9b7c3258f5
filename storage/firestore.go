package storage

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig contains Firestore connection settings.
type FirestoreConfig struct {
	ProjectID       string
	CredentialsFile string
	Collection      string
}

// FirestoreStore persists records as documents in a single collection, one
// document per key. Update and CreateIfAbsent run inside Firestore
// transactions, which retry the whole closure on contention.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreStore connects to Firestore. Credentials come from the
// configured service-account file, or from application default credentials
// when none is set.
func NewFirestoreStore(ctx context.Context, config FirestoreConfig) (*FirestoreStore, error) {
	var opts []option.ClientOption
	if config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, config.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	collection := config.Collection
	if collection == "" {
		collection = "aip_records"
	}
	return &FirestoreStore{client: client, collection: collection}, nil
}

func (s *FirestoreStore) doc(key string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(key)
}

// Put writes value under key, replacing any previous record.
func (s *FirestoreStore) Put(ctx context.Context, key string, value map[string]any) error {
	_, err := s.doc(key).Set(ctx, value)
	return err
}

// Get returns the record stored under key, or ErrNotFound.
func (s *FirestoreStore) Get(ctx context.Context, key string) (map[string]any, error) {
	snap, err := s.doc(key).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return snap.Data(), nil
}

// Update applies mutate inside a Firestore transaction.
func (s *FirestoreStore) Update(ctx context.Context, key string, mutate Mutator) (map[string]any, error) {
	var next map[string]any
	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		var current map[string]any
		snap, err := tx.Get(s.doc(key))
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return err
		default:
			current = snap.Data()
		}

		value, err := mutate(current)
		if err != nil {
			return err
		}
		next = value
		return tx.Set(s.doc(key), value)
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

// CreateIfAbsent creates the document, reporting ErrExists when present.
func (s *FirestoreStore) CreateIfAbsent(ctx context.Context, key string, value map[string]any) error {
	_, err := s.doc(key).Create(ctx, value)
	if status.Code(err) == codes.AlreadyExists {
		return ErrExists
	}
	return err
}

// AppendEvent appends event to the record's events array.
func (s *FirestoreStore) AppendEvent(ctx context.Context, key string, event map[string]any) error {
	return appendEventViaUpdate(ctx, s, key, event)
}

// List returns all records whose document ID starts with prefix. Document
// IDs are the storage keys, so the range scan runs on __name__.
func (s *FirestoreStore) List(ctx context.Context, prefix string) ([]map[string]any, error) {
	query := s.client.Collection(s.collection).
		OrderBy(firestore.DocumentID, firestore.Asc).
		StartAt(prefix).
		EndBefore(prefix + "\uf8ff")

	var out []map[string]any
	iter := query.Documents(ctx)
	defer iter.Stop()
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, snap.Data())
	}
	return out, nil
}

// Close closes the underlying client.
func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

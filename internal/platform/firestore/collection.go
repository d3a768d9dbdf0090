package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Document is a decoded snapshot.
type Document[T any] struct {
	ID         string
	Data       T
	CreateTime time.Time
	UpdateTime time.Time
}

// Collection is a typed view over one Firestore collection. Every method joins the
// transaction carried by ctx when there is one.
type Collection[T any] struct {
	provider *Provider
	name     string
}

// NewCollection binds T to the named collection.
func NewCollection[T any](provider *Provider, name string) *Collection[T] {
	return &Collection[T]{provider: provider, name: strings.TrimSpace(name)}
}

// Get reads and decodes one document.
func (c *Collection[T]) Get(ctx context.Context, id string) (Document[T], error) {
	snap, err := c.read(ctx, "get", id)
	if err != nil {
		return Document[T]{}, err
	}
	return c.decode(snap)
}

// Exists reports whether the document is present.
func (c *Collection[T]) Exists(ctx context.Context, id string) (bool, error) {
	snap, err := c.read(ctx, "exists", id)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return snap.Exists(), nil
}

// Create writes value and fails with a conflict when the document exists.
func (c *Collection[T]) Create(ctx context.Context, id string, value T) error {
	return c.write(ctx, "create", id,
		func(tx *firestore.Transaction, ref *firestore.DocumentRef) error { return tx.Create(ref, value) },
		func(ref *firestore.DocumentRef) error { _, err := ref.Create(ctx, value); return err },
	)
}

// Set overwrites the document with value.
func (c *Collection[T]) Set(ctx context.Context, id string, value T, opts ...firestore.SetOption) error {
	return c.write(ctx, "set", id,
		func(tx *firestore.Transaction, ref *firestore.DocumentRef) error { return tx.Set(ref, value, opts...) },
		func(ref *firestore.DocumentRef) error { _, err := ref.Set(ctx, value, opts...); return err },
	)
}

// Update applies field updates; a missing document is reported as not found.
func (c *Collection[T]) Update(ctx context.Context, id string, updates []firestore.Update, preconds ...firestore.Precondition) error {
	return c.write(ctx, "update", id,
		func(tx *firestore.Transaction, ref *firestore.DocumentRef) error {
			return tx.Update(ref, updates, preconds...)
		},
		func(ref *firestore.DocumentRef) error { _, err := ref.Update(ctx, updates, preconds...); return err },
	)
}

// Query runs the query shaped by build and decodes every match.
func (c *Collection[T]) Query(ctx context.Context, build func(firestore.Query) firestore.Query) ([]Document[T], error) {
	coll, err := c.collection(ctx)
	if err != nil {
		return nil, err
	}
	query := coll.Query
	if build != nil {
		query = build(query)
	}

	var it *firestore.DocumentIterator
	if tx, ok := TxFromContext(ctx); ok {
		it = tx.Documents(query)
	} else {
		it = query.Documents(ctx)
	}
	defer it.Stop()

	var docs []Document[T]
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return docs, nil
		}
		if err != nil {
			return nil, WrapError(c.op("query"), err)
		}
		doc, err := c.decode(snap)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
}

func (c *Collection[T]) read(ctx context.Context, action, id string) (*firestore.DocumentSnapshot, error) {
	ref, err := c.ref(ctx, id)
	if err != nil {
		return nil, err
	}
	var snap *firestore.DocumentSnapshot
	if tx, ok := TxFromContext(ctx); ok {
		snap, err = tx.Get(ref)
	} else {
		snap, err = ref.Get(ctx)
	}
	if err != nil {
		return nil, WrapError(c.op(action), err)
	}
	return snap, nil
}

func (c *Collection[T]) write(ctx context.Context, action, id string, inTx func(*firestore.Transaction, *firestore.DocumentRef) error, direct func(*firestore.DocumentRef) error) error {
	ref, err := c.ref(ctx, id)
	if err != nil {
		return err
	}
	if tx, ok := TxFromContext(ctx); ok {
		err = inTx(tx, ref)
	} else {
		err = direct(ref)
	}
	return WrapError(c.op(action), err)
}

func (c *Collection[T]) decode(snap *firestore.DocumentSnapshot) (Document[T], error) {
	var data T
	if err := snap.DataTo(&data); err != nil {
		return Document[T]{}, fmt.Errorf("%s: decode %s: %w", c.op("decode"), snap.Ref.ID, err)
	}
	return Document[T]{
		ID:         snap.Ref.ID,
		Data:       data,
		CreateTime: snap.CreateTime,
		UpdateTime: snap.UpdateTime,
	}, nil
}

func (c *Collection[T]) collection(ctx context.Context) (*firestore.CollectionRef, error) {
	if c.provider == nil || c.name == "" {
		return nil, WrapError(c.op("collection"), errors.New("firestore: collection is not configured"))
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(c.name), nil
}

func (c *Collection[T]) ref(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(c.op("document"), errors.New("firestore: document id is required"))
	}
	coll, err := c.collection(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

func (c *Collection[T]) op(action string) string {
	return c.name + "." + action
}

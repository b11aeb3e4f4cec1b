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

// tenantsCollection is the root under which every tenant's data lives.
const tenantsCollection = "tenants"

// Document represents a strongly typed Firestore document with metadata timestamps.
type Document[T any] struct {
	ID         string
	Data       T
	UpdateTime time.Time
}

// QueryBuilder customises Firestore queries before execution.
type QueryBuilder func(query firestore.Query) firestore.Query

// TenantCollection provides typed access to a per-tenant subcollection
// (tenants/{tenantID}/{collection}). Reads and writes go through the transaction bound to the
// context when one is present.
type TenantCollection[T any] struct {
	provider   *Provider
	collection string
}

// NewTenantCollection binds a typed accessor to a subcollection name.
func NewTenantCollection[T any](provider *Provider, collection string) *TenantCollection[T] {
	return &TenantCollection[T]{
		provider:   provider,
		collection: strings.TrimSpace(collection),
	}
}

// Get fetches and decodes a document.
func (c *TenantCollection[T]) Get(ctx context.Context, tenantID, id string) (Document[T], error) {
	ref, err := c.DocumentRef(ctx, tenantID, id)
	if err != nil {
		return Document[T]{}, err
	}
	var snapshot *firestore.DocumentSnapshot
	if tx, ok := TransactionFromContext(ctx); ok {
		snapshot, err = tx.Get(ref)
	} else {
		snapshot, err = ref.Get(ctx)
	}
	if err != nil {
		return Document[T]{}, WrapError(c.op("get"), err)
	}
	return decodeSnapshot[T](snapshot)
}

// Create writes a new document, failing with a conflict when the id is taken.
func (c *TenantCollection[T]) Create(ctx context.Context, tenantID, id string, value T) error {
	ref, err := c.DocumentRef(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if tx, ok := TransactionFromContext(ctx); ok {
		err = tx.Create(ref, value)
	} else {
		_, err = ref.Create(ctx, value)
	}
	return WrapError(c.op("create"), err)
}

// Set replaces a document, creating it when absent.
func (c *TenantCollection[T]) Set(ctx context.Context, tenantID, id string, value T) error {
	ref, err := c.DocumentRef(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if tx, ok := TransactionFromContext(ctx); ok {
		err = tx.Set(ref, value)
	} else {
		_, err = ref.Set(ctx, value)
	}
	return WrapError(c.op("set"), err)
}

// Replace overwrites an existing document, failing with not found when it is absent.
func (c *TenantCollection[T]) Replace(ctx context.Context, tenantID, id string, value T) error {
	ref, err := c.DocumentRef(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if tx, ok := TransactionFromContext(ctx); ok {
		err = tx.Set(ref, value)
		return WrapError(c.op("replace"), err)
	}
	_, err = ref.Get(ctx)
	if err != nil {
		return WrapError(c.op("replace"), err)
	}
	_, err = ref.Set(ctx, value)
	return WrapError(c.op("replace"), err)
}

// Delete removes a document. When mustExist is set a missing document is reported as not found.
func (c *TenantCollection[T]) Delete(ctx context.Context, tenantID, id string, mustExist bool) error {
	ref, err := c.DocumentRef(ctx, tenantID, id)
	if err != nil {
		return err
	}
	var preconds []firestore.Precondition
	if mustExist {
		preconds = append(preconds, firestore.Exists)
	}
	if tx, ok := TransactionFromContext(ctx); ok {
		err = tx.Delete(ref, preconds...)
	} else {
		_, err = ref.Delete(ctx, preconds...)
	}
	return WrapError(c.op("delete"), err)
}

// Query executes a query over the tenant's subcollection and decodes the results.
func (c *TenantCollection[T]) Query(ctx context.Context, tenantID string, build QueryBuilder) ([]Document[T], error) {
	coll, err := c.CollectionRef(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	query := coll.Query
	if build != nil {
		query = build(query)
	}

	var iter *firestore.DocumentIterator
	if tx, ok := TransactionFromContext(ctx); ok {
		iter = tx.Documents(query)
	} else {
		iter = query.Documents(ctx)
	}
	defer iter.Stop()

	var docs []Document[T]
	for {
		snapshot, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, WrapError(c.op("query"), err)
		}
		doc, err := decodeSnapshot[T](snapshot)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// CollectionRef resolves the tenant's subcollection.
func (c *TenantCollection[T]) CollectionRef(ctx context.Context, tenantID string) (*firestore.CollectionRef, error) {
	if c == nil || c.provider == nil {
		return nil, WrapError(c.op("collection"), errors.New("firestore: provider is nil"))
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, WrapError(c.op("collection"), errors.New("firestore: tenant id is required"))
	}
	if c.collection == "" {
		return nil, WrapError(c.op("collection"), errors.New("firestore: collection name is required"))
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(tenantsCollection).Doc(tenantID).Collection(c.collection), nil
}

// DocumentRef resolves a document in the tenant's subcollection.
func (c *TenantCollection[T]) DocumentRef(ctx context.Context, tenantID, id string) (*firestore.DocumentRef, error) {
	id = strings.TrimSpace(id)
	if id == "" || strings.Contains(id, "/") {
		return nil, WrapError(c.op("document"), errors.New("firestore: invalid document id"))
	}
	coll, err := c.CollectionRef(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

func (c *TenantCollection[T]) op(action string) string {
	name := "firestore"
	if c != nil && c.collection != "" {
		name = c.collection
	}
	return fmt.Sprintf("%s.%s", name, strings.ToLower(action))
}

func decodeSnapshot[T any](snapshot *firestore.DocumentSnapshot) (Document[T], error) {
	var data T
	if err := snapshot.DataTo(&data); err != nil {
		return Document[T]{}, fmt.Errorf("firestore: decode document %s: %w", snapshot.Ref.ID, err)
	}
	return Document[T]{
		ID:         snapshot.Ref.ID,
		Data:       data,
		UpdateTime: snapshot.UpdateTime,
	}, nil
}

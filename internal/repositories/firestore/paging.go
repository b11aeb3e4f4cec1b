package firestore

import (
	"cloud.google.com/go/firestore"

	domain "github.com/storefront-commerce/api/internal/domain"
	pfirestore "github.com/storefront-commerce/api/internal/platform/firestore"
	"github.com/storefront-commerce/api/internal/platform/pagination"
)

// listing describes one paged read: the scope binds page tokens to the tenant and filter that
// issued them.
type listing struct {
	scope  string
	cursor pagination.Cursor
	limit  int
}

func newListing(p domain.Pagination, scopeParts ...string) (listing, error) {
	scope := pagination.Scope(scopeParts...)
	cursor, err := pagination.DecodeScopedToken(p.PageToken, scope)
	if err != nil {
		return listing{}, err
	}
	limit := p.PageSize
	if limit <= 0 {
		limit = pagination.DefaultPageSize
	}
	return listing{scope: scope, cursor: cursor, limit: min(limit, pagination.DefaultMaxPageSize)}, nil
}

// apply orders by document id and resumes after the cursor. Ids are ULID based so id order is
// creation order. One extra document is fetched to learn whether another page exists.
func (l listing) apply(q firestore.Query, dir firestore.Direction) firestore.Query {
	q = q.OrderBy(firestore.DocumentID, dir)
	if !l.cursor.Empty() {
		q = q.StartAfter(l.cursor.AfterID)
	}
	return q.Limit(l.limit + 1)
}

// trim drops the look-ahead document and issues the next page token.
func trim[T any](l listing, docs []pfirestore.Document[T]) ([]pfirestore.Document[T], string, error) {
	if len(docs) <= l.limit {
		return docs, "", nil
	}
	docs = docs[:l.limit]
	token, err := pagination.EncodeToken(pagination.Cursor{AfterID: docs[l.limit-1].ID, Scope: l.scope})
	if err != nil {
		return nil, "", err
	}
	return docs, token, nil
}

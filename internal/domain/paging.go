package domain

// Pagination is the page size and opaque continuation token accepted by list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage is one page of results. An empty NextPageToken means the listing is exhausted.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Cursor is the payload of an opaque page token. AfterID is the last document returned; Scope
// names the listing (tenant and collection) the token was issued for.
type Cursor struct {
	AfterID string `json:"a"`
	Scope   string `json:"s,omitempty"`
}

// Empty reports whether the cursor points at the first page.
func (c Cursor) Empty() bool {
	return c.AfterID == ""
}

// Scope joins the parts that identify a listing, e.g. Scope("t1", "orders", "cust_9").
func Scope(parts ...string) string {
	return strings.Join(parts, "/")
}

// EncodeToken renders the cursor as a URL-safe token. The first page has no token.
func EncodeToken(cursor Cursor) (string, error) {
	if cursor.Empty() {
		return "", nil
	}
	data, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeToken parses a token produced by EncodeToken. Malformed tokens wrap ErrInvalidPageToken.
func DecodeToken(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: not base64", ErrInvalidPageToken)
	}
	var cursor Cursor
	if err := json.Unmarshal(raw, &cursor); err != nil || cursor.Empty() {
		return Cursor{}, fmt.Errorf("%w: unreadable cursor", ErrInvalidPageToken)
	}
	return cursor, nil
}

// DecodeScopedToken decodes token and rejects cursors issued for a different listing.
func DecodeScopedToken(token, scope string) (Cursor, error) {
	cursor, err := DecodeToken(token)
	if err != nil {
		return Cursor{}, err
	}
	if !cursor.Empty() && cursor.Scope != scope {
		return Cursor{}, fmt.Errorf("%w: token belongs to another listing", ErrInvalidPageToken)
	}
	return cursor, nil
}

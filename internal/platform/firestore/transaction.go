package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

// TxFunc is executed within a Firestore transaction. ctx carries the transaction, so tenant
// collections reached through it read and write transactionally.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxOption customises transaction behaviour.
type TxOption func(*txSettings)

type txSettings struct {
	attempts int
	timeout  time.Duration
}

func defaultTxSettings() txSettings {
	return txSettings{attempts: 5, timeout: 15 * time.Second}
}

// WithTxAttempts caps how often Firestore retries a contended checkout.
func WithTxAttempts(attempts int) TxOption {
	return func(s *txSettings) {
		if attempts > 0 {
			s.attempts = attempts
		}
	}
}

// WithTxTimeout bounds the whole transaction, retries included.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(s *txSettings) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

type txKey struct{}

// ContextWithTransaction binds tx to ctx.
func ContextWithTransaction(ctx context.Context, tx *firestore.Transaction) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TransactionFromContext returns the transaction bound to ctx, if any.
func TransactionFromContext(ctx context.Context) (*firestore.Transaction, bool) {
	if ctx == nil {
		return nil, false
	}
	tx, _ := ctx.Value(txKey{}).(*firestore.Transaction)
	return tx, tx != nil
}

// RunTransaction executes fn within a transaction on client. A timeout only shortens the
// caller's deadline, never extends it.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	switch {
	case client == nil:
		return WrapError("transaction", errors.New("firestore: client is nil"))
	case fn == nil:
		return WrapError("transaction", errors.New("firestore: transaction function is nil"))
	}

	settings := defaultTxSettings()
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}

	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > settings.timeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, settings.timeout)
		defer cancel()
	}

	err := client.RunTransaction(ctx, func(txCtx context.Context, tx *firestore.Transaction) error {
		return fn(ContextWithTransaction(txCtx, tx), tx)
	}, firestore.MaxAttempts(settings.attempts))
	if err == nil {
		return nil
	}

	// Errors raised by the body with their own classification, such as an exhausted promotion
	// usage limit, surface unchanged.
	var classified interface{ IsConflict() bool }
	if errors.As(err, &classified) {
		return err
	}
	return WrapError("transaction", err)
}

package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Status represents the lifecycle state of an idempotency record.
type Status string

const (
	DefaultTTL = 24 * time.Hour

	// StatusPending means a request holds the key but has not stored a response yet.
	StatusPending Status = "pending"
	// StatusCompleted means the stored response can be replayed.
	StatusCompleted Status = "completed"
)

// ReservationState describes the outcome of attempting to reserve an idempotency key.
type ReservationState int

const (
	ReservationStateNew ReservationState = iota
	ReservationStateCompleted
	ReservationStatePending
)

// Reservation is the result of Reserve, including the stored record when one exists.
type Reservation struct {
	State  ReservationState
	Record Record
}

// Record is the persisted response for a caller-scoped key.
type Record struct {
	Key             string
	Fingerprint     string
	Status          Status
	ResponseStatus  int
	ResponseHeaders map[string][]string
	ResponseBody    []byte
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ExpiresAt       time.Time
}

func (r Record) expiredAt(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// reservationFor reports what a live record means for a request with fingerprint.
func (r Record) reservationFor(fingerprint string) (Reservation, error) {
	switch {
	case r.Fingerprint != fingerprint:
		return Reservation{}, ErrFingerprintMismatch
	case r.Status == StatusCompleted:
		return Reservation{State: ReservationStateCompleted, Record: r}, nil
	default:
		return Reservation{State: ReservationStatePending, Record: r}, nil
	}
}

// completed stores resp on the record and restarts its retention window.
func (r Record) completed(resp Response, now time.Time, ttl time.Duration) Record {
	now = now.UTC()
	r.Status = StatusCompleted
	r.ResponseStatus = resp.Status
	r.ResponseHeaders = sanitizeHeaders(resp.Headers)
	r.ResponseBody = slices.Clone(resp.Body)
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	r.ExpiresAt = now.Add(retention(ttl))
	return r
}

func pendingRecord(key, fingerprint string, now time.Time, ttl time.Duration) Record {
	now = now.UTC()
	return Record{
		Key:         key,
		Fingerprint: fingerprint,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(retention(ttl)),
	}
}

func retention(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

// Response is the HTTP response stored for replays.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Store persists idempotency reservations and responses. Keys passed to a Store are already
// scoped to the tenant and customer.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key, fingerprint string) error
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

var ErrFingerprintMismatch = errors.New("idempotency: key reserved for different request fingerprint")

// documentID hashes the scoped key so arbitrary client keys are safe as document ids.
func documentID(key string) string {
	return sha256Hex([]byte(strings.TrimSpace(key)))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// hopHeaders are never stored for replay.
var hopHeaders = map[string]bool{
	"Content-Length":       true,
	"Date":                 true,
	"Connection":           true,
	"Keep-Alive":           true,
	"Proxy-Authenticate":   true,
	"Proxy-Authorization":  true,
	"Te":                   true,
	"Trailers":             true,
	"Transfer-Encoding":    true,
	"Upgrade":              true,
	"X-Cloud-Trace-Context": true,
}

func sanitizeHeaders(header http.Header) map[string][]string {
	filtered := make(map[string][]string, len(header))
	for name, values := range header {
		name = http.CanonicalHeaderKey(name)
		if !hopHeaders[name] {
			filtered[name] = slices.Clone(values)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	return filtered
}

// RunCleanup deletes expired records every interval until ctx is cancelled.
func RunCleanup(ctx context.Context, store Store, interval time.Duration, batchSize int, logger *zap.Logger) {
	if store == nil || interval <= 0 {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := store.CleanupExpired(ctx, now, batchSize)
			if err != nil {
				logger.Warn("idempotency cleanup failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("idempotency cleanup", zap.Int("removed", removed))
			}
		}
	}
}

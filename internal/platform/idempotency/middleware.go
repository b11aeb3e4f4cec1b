package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/storefront-commerce/api/internal/platform/httpx"
	"github.com/storefront-commerce/api/internal/platform/requestctx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
	maxKeyLength      = 255
	anonymous         = "anonymous"
)

var guardedMethods = []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}

type keyContextKey struct{}

// KeyFromContext returns the client-supplied idempotency key of the request being served.
// Checkout derives its payment idempotency key from it.
func KeyFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	key, _ := ctx.Value(keyContextKey{}).(string)
	return key
}

// MiddlewareOption customises middleware behaviour.
type MiddlewareOption func(*guard)

// WithHeader overrides the header carrying the key.
func WithHeader(name string) MiddlewareOption {
	return func(g *guard) {
		if name = strings.TrimSpace(name); name != "" {
			g.header = name
		}
	}
}

// WithTTL sets how long records are retained.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(g *guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithLogger sets the logger used for store failures.
func WithLogger(logger *zap.Logger) MiddlewareOption {
	return func(g *guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) MiddlewareOption {
	return func(g *guard) {
		if clock != nil {
			g.clock = clock
		}
	}
}

type guard struct {
	store  Store
	header string
	ttl    time.Duration
	clock  func() time.Time
	logger *zap.Logger
}

// keyedRequest is a mutating request with its key resolved against the caller.
type keyedRequest struct {
	key         string
	scoped      string
	requester   string
	fingerprint string
}

// Middleware makes mutating requests replay-safe. Keys are scoped to the caller's tenant and
// customer, and a key reused with a different request body is rejected. Responses with a 5xx
// status are not stored so the client can retry with the same key.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	g := &guard{
		store:  store,
		header: defaultHeaderName,
		ttl:    DefaultTTL,
		clock:  time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !slices.Contains(guardedMethods, r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			g.serve(w, r, next)
		})
	}
}

func (g *guard) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	ctx := r.Context()
	req, apiErr := g.resolve(r)
	if apiErr != nil {
		httpx.WriteError(ctx, w, *apiErr)
		return
	}

	reservation, err := g.store.Reserve(ctx, req.scoped, req.fingerprint, g.now(), g.ttl)
	switch {
	case errors.Is(err, ErrFingerprintMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_conflict", "idempotency key already used for a different request", http.StatusConflict))
		return
	case err != nil:
		g.logger.Error("idempotency store error", zap.String("requester", req.requester), zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_store_error", "unable to process idempotency key", http.StatusServiceUnavailable))
		return
	}

	switch reservation.State {
	case ReservationStateCompleted:
		replay(w, reservation.Record)
	case ReservationStatePending:
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "another request is processing this idempotency key", http.StatusConflict))
	case ReservationStateNew:
		rec := newBufferedResponse()
		next.ServeHTTP(rec, r.WithContext(context.WithValue(ctx, keyContextKey{}, req.key)))
		g.finish(ctx, w, req, rec)
	default:
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_unknown_state", "unexpected idempotency state", http.StatusInternalServerError))
	}
}

// resolve validates the key header and fingerprints the request. The body is buffered and
// restored for the handler.
func (g *guard) resolve(r *http.Request) (keyedRequest, *httpx.Error) {
	reject := func(code, message string) (keyedRequest, *httpx.Error) {
		apiErr := httpx.NewError(code, message, http.StatusBadRequest)
		return keyedRequest{}, &apiErr
	}
	key := strings.TrimSpace(r.Header.Get(g.header))
	switch {
	case key == "":
		return reject("idempotency_key_required", "missing "+g.header+" header")
	case len(key) > maxKeyLength:
		return reject("idempotency_key_invalid", "idempotency key too long")
	}
	body, err := readAndReplayBody(r)
	if err != nil {
		return reject("idempotency_read_body_failed", "unable to read request body")
	}
	requester := extractRequester(r.Context())
	return keyedRequest{
		key:         key,
		scoped:      scopedKey(key, requester),
		requester:   requester,
		fingerprint: requestFingerprint(r, body, requester),
	}, nil
}

// finish stores the buffered response, or releases the key, then flushes it to the client.
func (g *guard) finish(ctx context.Context, w http.ResponseWriter, req keyedRequest, rec *bufferedResponse) {
	if rec.Status() >= http.StatusInternalServerError {
		g.release(ctx, req)
		g.flush(rec, w)
		return
	}
	err := g.store.SaveResponse(ctx, req.scoped, req.fingerprint, rec.Response(), g.now(), g.ttl)
	if err != nil {
		g.logger.Error("idempotency save failed", zap.String("requester", req.requester), zap.Error(err))
		g.release(ctx, req)
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_store_error", "unable to persist idempotency state", http.StatusInternalServerError))
		return
	}
	g.flush(rec, w)
}

func (g *guard) release(ctx context.Context, req keyedRequest) {
	if err := g.store.Release(ctx, req.scoped, req.fingerprint); err != nil {
		g.logger.Warn("idempotency release failed", zap.String("requester", req.requester), zap.Error(err))
	}
}

func (g *guard) flush(rec *bufferedResponse, w http.ResponseWriter) {
	if err := rec.copyTo(w); err != nil {
		g.logger.Warn("idempotency flush failed", zap.Error(err))
	}
}

func (g *guard) now() time.Time { return g.clock().UTC() }

func readAndReplayBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

// requestFingerprint binds a key to the method, target, content type, caller and body.
func requestFingerprint(r *http.Request, body []byte, requester string) string {
	bodyHash := ""
	if len(body) > 0 {
		bodyHash = sha256Hex(body)
	}
	parts := []string{
		strings.ToUpper(r.Method),
		r.URL.Path,
		r.URL.RawQuery,
		r.Header.Get("Content-Type"),
		requester,
		bodyHash,
	}
	return sha256Hex([]byte(strings.Join(parts, "|")))
}

// extractRequester is "tenant/customer" for the resolved caller.
func extractRequester(ctx context.Context) string {
	caller, ok := requestctx.CallerFrom(ctx)
	if !ok {
		return anonymous
	}
	customer := caller.CustomerID
	if customer == "" {
		customer = "-"
	}
	return caller.TenantID + "/" + customer
}

func scopedKey(key, requester string) string {
	if requester = strings.TrimSpace(requester); requester == "" {
		requester = anonymous
	}
	return requester + "|" + strings.TrimSpace(key)
}

func replay(w http.ResponseWriter, record Record) {
	header := w.Header()
	clear(header)
	for name, values := range record.ResponseHeaders {
		header[name] = slices.Clone(values)
	}
	header.Set(replayHeaderName, "true")

	w.WriteHeader(cmpStatus(record.ResponseStatus))
	if len(record.ResponseBody) > 0 {
		_, _ = w.Write(record.ResponseBody)
	}
}

func cmpStatus(status int) int {
	if status <= 0 {
		return http.StatusOK
	}
	return status
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/codetesla51/kvshape/algorithms"
	"github.com/codetesla51/kvshape/store"
)

func createTestRouter(t *testing.T, s store.Storage, opts RouteOptions) http.Handler {
	t.Helper()
	logger := zap.NewNop().Sugar()
	return NewHandler(s, logger).Routes(NewMiddleware(logger), opts)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestStringEndpoints(t *testing.T) {
	h := createTestRouter(t, store.NewMemoryStore(store.MemoryConfig{}), RouteOptions{})

	rec := do(t, h, http.MethodPut, "/v1/strings/greeting", "hello")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "new", decode[StateResponse](t, rec).State)

	rec = do(t, h, http.MethodPut, "/v1/strings/greeting", "hi")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "updated", decode[StateResponse](t, rec).State)

	rec = do(t, h, http.MethodGet, "/v1/strings/greeting", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hi", rec.Body.String())

	rec = do(t, h, http.MethodDelete, "/v1/strings/greeting", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodDelete, "/v1/strings/greeting", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/strings/greeting", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not found", decode[ErrorResponse](t, rec).Error)
}

func TestStringTTL(t *testing.T) {
	h := createTestRouter(t, store.NewMemoryStore(store.MemoryConfig{}), RouteOptions{})

	rec := do(t, h, http.MethodPut, "/v1/strings/k?ttl=0", "gone")
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = do(t, h, http.MethodGet, "/v1/strings/k", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPut, "/v1/strings/k?ttl=3600", "kept")
	require.Less(t, rec.Code, 300)
	rec = do(t, h, http.MethodGet, "/v1/strings/k", "")
	assert.Equal(t, "kept", rec.Body.String())

	rec = do(t, h, http.MethodPut, "/v1/strings/k?ttl=-1", "bad")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRawEndpoints(t *testing.T) {
	h := createTestRouter(t, store.NewMemoryStore(store.MemoryConfig{}), RouteOptions{})
	blob := string([]byte{0x00, 0xfe, 0x7f})

	rec := do(t, h, http.MethodPut, "/v1/raw/blob", blob)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/raw/blob", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.Equal([]byte(blob), rec.Body.Bytes()))

	// Shapes do not share keys.
	rec = do(t, h, http.MethodGet, "/v1/strings/blob", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodDelete, "/v1/raw/blob", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodGet, "/v1/raw/blob", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCounterEndpoints(t *testing.T) {
	h := createTestRouter(t, store.NewMemoryStore(store.MemoryConfig{}), RouteOptions{})

	rec := do(t, h, http.MethodPost, "/v1/counters/hits/increment", "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "increment must not create a counter")

	rec = do(t, h, http.MethodPut, "/v1/counters/hits", "10")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/counters/hits/increment?delta=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(10), decode[IncrementResponse](t, rec).Previous)

	rec = do(t, h, http.MethodPost, "/v1/counters/hits/increment", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(15), decode[IncrementResponse](t, rec).Previous)

	rec = do(t, h, http.MethodGet, "/v1/counters/hits", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(16), decode[ValueResponse](t, rec).Value)

	rec = do(t, h, http.MethodPut, "/v1/counters/hits", "ten")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodPost, "/v1/counters/hits/increment?delta=x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodDelete, "/v1/counters/hits", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodGet, "/v1/counters/hits", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# metrics"))
	})
	h := createTestRouter(t, store.NewMemoryStore(store.MemoryConfig{}), RouteOptions{Metrics: metrics})

	rec := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = do(t, h, http.MethodGet, "/ping", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, "# metrics", rec.Body.String())
}

func TestRateLimit(t *testing.T) {
	s := store.NewMemoryStore(store.MemoryConfig{})
	limiter := algorithms.NewFixedWindow(2, time.Hour, s)
	h := createTestRouter(t, s, RouteOptions{Limiter: limiter})

	for i := 0; i < 2; i++ {
		rec := do(t, h, http.MethodGet, "/v1/strings/k", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}
	rec := do(t, h, http.MethodGet, "/v1/strings/k", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	// Health checks are not limited.
	rec = do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLimiterStateNotAddressable(t *testing.T) {
	s := store.NewMemoryStore(store.MemoryConfig{})
	limiter := algorithms.NewFixedWindow(10, time.Hour, s)
	h := createTestRouter(t, s, RouteOptions{Limiter: limiter})

	rec := do(t, h, http.MethodGet, "/v1/strings/k", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	window := time.Now().UnixNano() / time.Hour.Nanoseconds()
	counter := "/v1/counters/" + algorithms.Namespace + "fw:192.0.2.1:" + strconv.FormatInt(window, 10)
	bucket := "/v1/raw/" + algorithms.Namespace + "tb:192.0.2.1"

	attempts := []struct {
		method, path, body string
	}{
		{http.MethodPut, counter, "-1000000"},
		{http.MethodGet, counter, ""},
		{http.MethodPost, counter + "/increment?delta=-1000000", ""},
		{http.MethodDelete, counter, ""},
		{http.MethodPut, bucket, `{"tokens":1000}`},
		{http.MethodGet, bucket, ""},
		{http.MethodDelete, bucket, ""},
		{http.MethodPut, "/v1/strings/" + algorithms.Namespace + "x", "v"},
	}
	for _, a := range attempts {
		rec := do(t, h, a.method, a.path, a.body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "%s %s", a.method, a.path)
	}

	// Rejected attempts spent budget but none of them reset it: the tenth
	// request is the last one allowed.
	rec = do(t, h, http.MethodGet, "/v1/strings/k", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, h, http.MethodGet, "/v1/strings/k", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRateLimitIgnoresForwardedHeaders(t *testing.T) {
	s := store.NewMemoryStore(store.MemoryConfig{})
	limiter := algorithms.NewFixedWindow(2, time.Hour, s)
	h := createTestRouter(t, s, RouteOptions{Limiter: limiter})

	allowed := 0
	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/strings/k", nil)
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		req.Header.Set("X-Real-IP", fmt.Sprintf("203.0.113.%d", i))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusTooManyRequests {
			allowed++
		}
	}
	assert.Equal(t, 2, allowed)
}

func TestCORS(t *testing.T) {
	h := createTestRouter(t, store.NewMemoryStore(store.MemoryConfig{}), RouteOptions{
		CORSOrigins: []string{"http://app.example"},
	})

	req := httptest.NewRequest(http.MethodOptions, "/v1/strings/k", nil)
	req.Header.Set("Origin", "http://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "http://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

// MockStorage fails on demand.
type MockStorage struct {
	store.Storage
	mock.Mock
}

func (m *MockStorage) LoadString(ctx context.Context, key string) (string, bool, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Bool(1), args.Error(2)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"connection", &store.Error{Kind: store.ErrConnection, Op: store.OpLoadString}, http.StatusServiceUnavailable},
		{"task failure", &store.Error{Kind: store.ErrTaskFailure, Op: store.OpLoadString}, http.StatusInternalServerError},
		{"deserialization", &store.Error{Kind: store.ErrDeserialization, Op: store.OpLoadString}, http.StatusInternalServerError},
		{"invalid key", &store.Error{Kind: store.ErrInvalidKey, Op: store.OpLoadString}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &MockStorage{}
			s.On("LoadString", mock.Anything, "k").Return("", false, tt.err)
			h := createTestRouter(t, s, RouteOptions{})

			rec := do(t, h, http.MethodGet, "/v1/strings/k", "")
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.err.Error(), decode[ErrorResponse](t, rec).Error)
			s.AssertExpectations(t)
		})
	}
}

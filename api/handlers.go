package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/codetesla51/kvshape/algorithms"
	"github.com/codetesla51/kvshape/store"
)

// maxBodyBytes bounds request bodies for stored values.
const maxBodyBytes = 1 << 20

type Handler struct {
	store  store.Storage
	logger *zap.SugaredLogger
}

func NewHandler(s store.Storage, logger *zap.SugaredLogger) *Handler {
	return &Handler{store: s, logger: logger}
}

type StateResponse struct {
	State string `json:"state"`
}

type ValueResponse struct {
	Value int64 `json:"value"`
}

type IncrementResponse struct {
	Previous int64 `json:"previous"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

var (
	errBadRequest = errors.New("bad request")
	errNotFound   = errors.New("not found")
)

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// Strings

func (h *Handler) PutString(w http.ResponseWriter, r *http.Request) {
	key, err := keyParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	ttl, err := parseTTL(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	state, err := h.store.StoreStringWithExpiry(r.Context(), key, string(body), ttl)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeState(w, state)
}

func (h *Handler) GetString(w http.ResponseWriter, r *http.Request) {
	key, err := keyParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	v, ok, err := h.store.LoadString(r.Context(), key)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !ok {
		h.writeError(w, errNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, v)
}

func (h *Handler) DeleteString(w http.ResponseWriter, r *http.Request) {
	key, err := keyParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.store.DeleteString(r.Context(), key); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Raw bytes

func (h *Handler) PutRaw(w http.ResponseWriter, r *http.Request) {
	key, err := keyParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	ttl, err := parseTTL(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	state, err := h.store.StoreRawWithExpiry(r.Context(), key, body, ttl)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeState(w, state)
}

func (h *Handler) GetRaw(w http.ResponseWriter, r *http.Request) {
	key, err := keyParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	v, ok, err := h.store.LoadRaw(r.Context(), key)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !ok {
		h.writeError(w, errNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(v)
}

func (h *Handler) DeleteRaw(w http.ResponseWriter, r *http.Request) {
	key, err := keyParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.store.DeleteRaw(r.Context(), key); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Counters

func (h *Handler) PutCounter(w http.ResponseWriter, r *http.Request) {
	key, err := keyParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	n, err := strconv.ParseInt(string(body), 10, 64)
	if err != nil {
		h.writeError(w, fmt.Errorf("%w: counter value must be a decimal int64", errBadRequest))
		return
	}
	state, err := h.store.AtomicStore(r.Context(), key, n)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeState(w, state)
}

func (h *Handler) GetCounter(w http.ResponseWriter, r *http.Request) {
	key, err := keyParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	n, ok, err := h.store.AtomicLoad(r.Context(), key)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !ok {
		h.writeError(w, errNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, ValueResponse{Value: n})
}

func (h *Handler) IncrementCounter(w http.ResponseWriter, r *http.Request) {
	key, err := keyParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	delta := int64(1)
	if raw := r.URL.Query().Get("delta"); raw != "" {
		d, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.writeError(w, fmt.Errorf("%w: delta must be a decimal int64", errBadRequest))
			return
		}
		delta = d
	}
	prev, ok, err := h.store.AtomicIncrement(r.Context(), key, delta)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !ok {
		h.writeError(w, errNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, IncrementResponse{Previous: prev})
}

func (h *Handler) DeleteCounter(w http.ResponseWriter, r *http.Request) {
	key, err := keyParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.store.AtomicDelete(r.Context(), key); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Utility methods

// keyParam returns the {key} URL parameter. Keys in the rate limiter
// namespace are not addressable.
func keyParam(r *http.Request) (string, error) {
	key := chi.URLParam(r, "key")
	if algorithms.IsLimiterKey(key) {
		return "", fmt.Errorf("%w: keys under %q are reserved", errBadRequest, algorithms.Namespace)
	}
	return key, nil
}

func parseTTL(r *http.Request) (store.TTL, error) {
	raw := r.URL.Query().Get("ttl")
	if raw == "" {
		return store.NoTTL, nil
	}
	secs, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return store.NoTTL, fmt.Errorf("%w: ttl must be whole seconds", errBadRequest)
	}
	return store.Seconds(secs), nil
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return body, nil
}

func (h *Handler) writeState(w http.ResponseWriter, state store.StoreState) {
	status := http.StatusOK
	if state == store.StateNew {
		status = http.StatusCreated
	}
	h.writeJSON(w, status, StateResponse{State: state.String()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// statusFor maps store failures onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest), errors.Is(err, store.ErrInvalidKey):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrConnection):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Errorw("API error", "error", err, "status", status)
	}
	h.writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"keyward/internal/domain"
	"keyward/internal/domain/types"
	"keyward/internal/matrix"
)

type deviceRef struct {
	user   domain.UserID
	device domain.DeviceID
}

type ctxKey struct{}

// server holds published key material in memory.
type server struct {
	log *slog.Logger

	mu     sync.RWMutex
	tokens map[string]deviceRef
	// deviceKeys keeps uploads verbatim so signatures still verify.
	deviceKeys  map[domain.UserID]map[domain.DeviceID]json.RawMessage
	oneTimeKeys map[deviceRef]map[string]json.RawMessage
}

func newServer(logger *slog.Logger) *server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &server{
		log:         logger,
		tokens:      make(map[string]deviceRef),
		deviceKeys:  make(map[domain.UserID]map[domain.DeviceID]json.RawMessage),
		oneTimeKeys: make(map[deviceRef]map[string]json.RawMessage),
	}
}

func (s *server) addToken(token string, dev deviceRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = dev
}

func (s *server) router() http.Handler {
	r := mux.NewRouter()
	r.Use(s.accessLog)

	api := r.PathPrefix("/_matrix/client/v3").Subrouter()
	api.Use(s.authenticate)
	api.HandleFunc("/keys/upload", s.handleUpload).Methods(http.MethodPost)
	api.HandleFunc("/keys/query", s.handleQuery).Methods(http.MethodPost)
	api.HandleFunc("/keys/claim", s.handleClaim).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, matrix.ErrCodeNotFound, "no such endpoint")
	})
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

func (s *server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, matrix.ErrCodeMissingToken, "missing access token")
			return
		}
		s.mu.RLock()
		dev, known := s.tokens[token]
		s.mu.RUnlock()
		if !known {
			writeError(w, http.StatusUnauthorized, matrix.ErrCodeUnknownToken, "unrecognised access token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, dev)))
	})
}

func caller(r *http.Request) deviceRef {
	dev, _ := r.Context().Value(ctxKey{}).(deviceRef)
	return dev
}

type uploadRequest struct {
	DeviceKeys  json.RawMessage            `json:"device_keys,omitempty"`
	OneTimeKeys map[string]json.RawMessage `json:"one_time_keys,omitempty"`
}

func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	me := caller(r)
	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, matrix.ErrCodeBadJSON, err.Error())
		return
	}

	if len(req.DeviceKeys) > 0 && string(req.DeviceKeys) != "null" {
		var dk domain.DeviceKeys
		if err := json.Unmarshal(req.DeviceKeys, &dk); err != nil {
			writeError(w, http.StatusBadRequest, matrix.ErrCodeBadJSON, err.Error())
			return
		}
		if dk.UserID != me.user || dk.DeviceID != me.device {
			writeError(w, http.StatusBadRequest, matrix.ErrCodeInvalidParam,
				"device_keys must be for the authenticated user and device")
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(req.DeviceKeys) > 0 && string(req.DeviceKeys) != "null" {
		if s.deviceKeys[me.user] == nil {
			s.deviceKeys[me.user] = make(map[domain.DeviceID]json.RawMessage)
		}
		s.deviceKeys[me.user][me.device] = req.DeviceKeys
	}
	pool := s.oneTimeKeys[me]
	if pool == nil {
		pool = make(map[string]json.RawMessage)
		s.oneTimeKeys[me] = pool
	}
	for id, key := range req.OneTimeKeys {
		pool[id] = key
	}
	s.log.Debug("keys uploaded", "user_id", string(me.user), "device_id", string(me.device),
		"one_time_keys", len(req.OneTimeKeys), "pool", len(pool))

	writeJSON(w, http.StatusOK, map[string]any{"one_time_key_counts": countByAlgorithm(pool)})
}

func countByAlgorithm(pool map[string]json.RawMessage) map[domain.KeyAlgorithm]int {
	counts := map[domain.KeyAlgorithm]int{types.KeyAlgorithmSignedCurve25519: 0}
	for id := range pool {
		alg, _, _ := strings.Cut(id, ":")
		counts[domain.KeyAlgorithm(alg)]++
	}
	return counts
}

type queryRequest struct {
	DeviceKeys map[domain.UserID][]domain.DeviceID `json:"device_keys"`
}

func (s *server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, matrix.ErrCodeBadJSON, err.Error())
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[domain.UserID]map[domain.DeviceID]json.RawMessage, len(req.DeviceKeys))
	for user, wanted := range req.DeviceKeys {
		devices := make(map[domain.DeviceID]json.RawMessage)
		for id, raw := range s.deviceKeys[user] {
			if len(wanted) == 0 || containsDevice(wanted, id) {
				devices[id] = raw
			}
		}
		out[user] = devices
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"failures":    map[string]any{},
		"device_keys": out,
	})
}

func containsDevice(list []domain.DeviceID, id domain.DeviceID) bool {
	for _, d := range list {
		if d == id {
			return true
		}
	}
	return false
}

type claimRequest struct {
	OneTimeKeys map[domain.UserID]map[domain.DeviceID]domain.KeyAlgorithm `json:"one_time_keys"`
}

func (s *server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, matrix.ErrCodeBadJSON, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.UserID]map[domain.DeviceID]map[string]json.RawMessage)
	for user, devices := range req.OneTimeKeys {
		for device, alg := range devices {
			pool := s.oneTimeKeys[deviceRef{user: user, device: device}]
			id, ok := firstKey(pool, alg)
			if !ok {
				continue
			}
			if out[user] == nil {
				out[user] = make(map[domain.DeviceID]map[string]json.RawMessage)
			}
			out[user][device] = map[string]json.RawMessage{id: pool[id]}
			delete(pool, id)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"failures":      map[string]any{},
		"one_time_keys": out,
	})
}

// firstKey picks the lowest key id of alg so claims are deterministic.
func firstKey(pool map[string]json.RawMessage, alg domain.KeyAlgorithm) (string, bool) {
	var ids []string
	prefix := string(alg) + ":"
	for id := range pool {
		if strings.HasPrefix(id, prefix) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return "", false
	}
	sort.Strings(ids)
	return ids[0], true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, matrix.MatrixError{Code: code, Message: msg})
}

package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"scriptorium/internal/auth"
	"scriptorium/internal/compare"
	"scriptorium/internal/rbac"
	"scriptorium/internal/search"
)

const maxSearchLimit = 100

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *zap.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: logger}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

// forbid writes a 403 Forbidden response and logs the denial
func (s *HTTPServer) forbid(w http.ResponseWriter, r *http.Request, session Session, action rbac.Action) {
	s.logger.Info("permission denied",
		zap.String("request_id", requestIDFrom(r.Context())),
		zap.String("user_id", session.UserID),
		zap.String("role", session.Role),
		zap.String("action", string(action)),
		zap.String("path", r.URL.Path),
	)
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	if !strings.HasPrefix(r.URL.Path, "/api/") {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/compare/match" {
		if !s.authorize(w, r, session, rbac.ActionRead) {
			return
		}
		var body struct {
			ManuscriptIDA string `json:"manuscriptIdA"`
			ManuscriptIDB string `json:"manuscriptIdB"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.CompareManuscripts(r.Context(), body.ManuscriptIDA, body.ManuscriptIDB)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/compare/diff" {
		if !s.authorize(w, r, session, rbac.ActionRead) {
			return
		}
		var body DiffInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		diff, err := s.service.DiffDocuments(r.Context(), body)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, diff)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/compare/merge" {
		if !s.authorize(w, r, session, rbac.ActionWrite) {
			return
		}
		var body MergeInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		report, err := s.service.MergeManuscripts(r.Context(), session.UserID, body)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, report)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		if !s.authorize(w, r, session, rbac.ActionRead) {
			return
		}
		query, err := searchQuery(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_QUERY", err.Error(), nil)
			return
		}
		writeJSON(w, http.StatusOK, s.service.Search(query))
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	if err := s.service.PingLocker(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["lock"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	} else {
		checks["lock"] = map[string]any{"status": "ok"}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) authorize(w http.ResponseWriter, r *http.Request, session Session, action rbac.Action) bool {
	if rbac.Can(rbac.Normalize(session.Role), action) {
		return true
	}
	s.forbid(w, r, session, action)
	return false
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	requestID, _ := ctx.Value(requestIDKey{}).(string)
	return requestID
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func searchQuery(r *http.Request) (search.Query, error) {
	values := r.URL.Query()
	query := search.Query{
		Text:               strings.TrimSpace(values.Get("q")),
		FilterManuscriptID: strings.TrimSpace(values.Get("manuscriptId")),
	}
	if raw := values.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return search.Query{}, fmt.Errorf("invalid limit")
		}
		query.Limit = min(limit, maxSearchLimit)
	}
	if raw := values.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return search.Query{}, fmt.Errorf("invalid offset")
		}
		query.Offset = offset
	}
	return query, nil
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var validationErr *compare.ValidationError
	if errors.As(err, &validationErr) {
		var details any
		if validationErr.PairIndex >= 0 {
			details = map[string]any{"pairIndex": validationErr.PairIndex}
		}
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", validationErr.Error(), details
	}
	if errors.Is(err, compare.ErrMergeFailed) {
		return http.StatusInternalServerError, "MERGE_FAILED", "Merge failed, no changes made", nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

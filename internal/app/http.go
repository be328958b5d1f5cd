package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"corretora/api/internal/reminder"
	"corretora/api/internal/settings"
)

// Identity arrives from the upstream auth proxy (the auth provider is an
// external collaborator); handlers read the owner from X-Owner-ID.
const ownerHeader = "X-Owner-ID"

const maxUploadBytes = 20 << 20 // 20 MiB

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
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

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/messages/send" {
		s.handleSendMessage(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/messages/notify" {
		s.handleNotify(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/logs" {
		writeJSON(w, http.StatusOK, map[string]any{"entries": s.service.Logs()})
		return
	}

	if r.Method == http.MethodDelete && r.URL.Path == "/api/logs" {
		s.service.ClearLogs()
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/settings" {
		s.handleGetSettings(w, r)
		return
	}

	if r.Method == http.MethodPut && r.URL.Path == "/api/settings" {
		s.handleSaveSettings(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/policies/upload" {
		s.handleUploadPolicy(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/policies/search" {
		s.handleSearchPolicies(w, r)
		return
	}

	if r.URL.Path == "/api/policies" {
		switch r.Method {
		case http.MethodGet:
			s.handleListPolicies(w, r)
		case http.MethodPost:
			s.handleCreatePolicy(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if parts := splitPath(r.URL.Path); len(parts) >= 3 && parts[0] == "api" && parts[1] == "policies" {
		policyID := parts[2]
		if len(parts) == 3 {
			switch r.Method {
			case http.MethodGet:
				s.handleGetPolicy(w, r, policyID)
			case http.MethodPut:
				s.handleUpdatePolicy(w, r, policyID)
			case http.MethodDelete:
				s.handleDeletePolicy(w, r, policyID)
			default:
				writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			}
			return
		}
		if len(parts) == 4 && parts[3] == "notifications" && r.Method == http.MethodGet {
			s.handlePolicyNotifications(w, r, policyID)
			return
		}
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/reminders/events" {
		s.handleEventReminders(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/jobs/check-policy-expirations" {
		s.handleExpirationJob(w, r)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Phone   string `json:"phone"`
		Message string `json:"message"`
		IsGroup bool   `json:"isGroup"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if strings.TrimSpace(body.Message) == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "message is required", nil)
		return
	}
	sent := s.service.SendMessage(r.Context(), body.Phone, body.Message, body.IsGroup)
	writeJSON(w, http.StatusOK, map[string]any{"sent": sent})
}

func (s *HTTPServer) handleNotify(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string `json:"message"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if strings.TrimSpace(body.Message) == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "message is required", nil)
		return
	}
	summary := s.service.NotifySystem(r.Context(), body.Message)
	writeJSON(w, http.StatusOK, summary)
}

func (s *HTTPServer) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	loaded, err := s.service.GetSettings(r.Context())
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, loaded)
}

func (s *HTTPServer) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	var body settings.Settings
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	saved, err := s.service.SaveSettings(r.Context(), body)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *HTTPServer) handleUploadPolicy(w http.ResponseWriter, r *http.Request) {
	ownerID := ownerFrom(r)
	if ownerID == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid multipart body", nil)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "file is required", nil)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "could not read file", nil)
		return
	}
	if len(data) > maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "file exceeds the upload limit", nil)
		return
	}

	policy, job, err := s.service.UploadPolicy(r.Context(), ownerID, header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		// the job carries the terminal error state and remediation message
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"job":   job,
			"error": job.Error,
		})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"policy": policy, "job": job})
}

func (s *HTTPServer) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	ownerID := ownerFrom(r)
	if ownerID == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}
	policies, err := s.service.ListPolicies(r.Context(), ownerID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"policies": policies})
}

func (s *HTTPServer) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	ownerID := ownerFrom(r)
	if ownerID == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}
	var body PolicyInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	policy, err := s.service.CreatePolicy(r.Context(), ownerID, body)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, policy)
}

func (s *HTTPServer) handleGetPolicy(w http.ResponseWriter, r *http.Request, policyID string) {
	ownerID := ownerFrom(r)
	if ownerID == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}
	policy, err := s.service.GetPolicy(r.Context(), ownerID, policyID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

func (s *HTTPServer) handleUpdatePolicy(w http.ResponseWriter, r *http.Request, policyID string) {
	ownerID := ownerFrom(r)
	if ownerID == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}
	var body PolicyInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	policy, err := s.service.UpdatePolicy(r.Context(), ownerID, policyID, body)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

func (s *HTTPServer) handleDeletePolicy(w http.ResponseWriter, r *http.Request, policyID string) {
	ownerID := ownerFrom(r)
	if ownerID == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}
	if err := s.service.DeletePolicy(r.Context(), ownerID, policyID); err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handlePolicyNotifications(w http.ResponseWriter, r *http.Request, policyID string) {
	ownerID := ownerFrom(r)
	if ownerID == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}
	notifications, err := s.service.PolicyNotifications(r.Context(), ownerID, policyID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": notifications})
}

func (s *HTTPServer) handleSearchPolicies(w http.ResponseWriter, r *http.Request) {
	ownerID := ownerFrom(r)
	if ownerID == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	response := s.service.SearchPolicies(r.Context(), ownerID, r.URL.Query().Get("q"), limit)
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleEventReminders(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Events      []reminder.Event `json:"events"`
		HoursBefore int              `json:"hoursBefore"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	summary := s.service.ScheduleEventReminders(r.Context(), body.Events, body.HoursBefore)
	writeJSON(w, http.StatusOK, summary)
}

func (s *HTTPServer) handleExpirationJob(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.CheckPolicyExpirations(r.Context(), bearerToken(r))
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "expiration check finished",
		"results": map[string]any{
			"processed":     result.Processed,
			"notifications": result.Notifications,
			"errors":        result.Errors,
			"records":       result.Results,
		},
	})
}

func ownerFrom(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(ownerHeader))
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

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

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
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Owner-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
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

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

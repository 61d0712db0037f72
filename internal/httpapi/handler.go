package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"qms/queueing-engine/internal/models"
	"qms/queueing-engine/internal/queue"
	"qms/queueing-engine/internal/status"
	"qms/queueing-engine/internal/store"

	"github.com/google/uuid"
)

// Caller is the claim path; queue.Coordinator implements it.
type Caller interface {
	CallNext(ctx context.Context, input store.CallNextInput) (models.Sequence, error)
}

// Notifier is the reconciler surface exposed over HTTP.
type Notifier interface {
	Notifications() []models.Notification
	Clear(ctx context.Context) error
	SetScope(ctx context.Context, officeIDs []string) error
}

type Handler struct {
	store    store.SequenceStore
	caller   Caller
	notifier Notifier
}

func NewHandler(st store.SequenceStore, caller Caller, notifier Notifier) *Handler {
	return &Handler{store: st, caller: caller, notifier: notifier}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/sequences", h.handleSequences)
	mux.HandleFunc("/api/sequences/actions/call-next", h.handleCallNext)
	mux.HandleFunc("/api/sequences/queue", h.handleQueue)
	mux.HandleFunc("/api/sequences/serving", h.handleServing)
	mux.HandleFunc("/api/sequences/", h.handleSequenceActions)
	mux.HandleFunc("/api/notifications", h.handleNotifications)
	mux.HandleFunc("/api/notifications/actions/clear", h.handleClearNotifications)
	mux.HandleFunc("/api/notifications/scope", h.handleNotificationScope)
	mux.HandleFunc("/api/offices", h.handleOffices)
	mux.HandleFunc("/api/windows", h.handleWindows)
	mux.HandleFunc("/api/priorities", h.handlePriorities)
	mux.HandleFunc("/api/statuses", h.handleStatuses)
	return mux
}

type createSequenceRequest struct {
	RequestID  string `json:"request_id"`
	OfficeID   string `json:"office_id"`
	PriorityID string `json:"priority_id"`
}

type callNextRequest struct {
	RequestID string `json:"request_id"`
	OfficeID  string `json:"office_id"`
	WindowID  string `json:"window_id"`
}

type sequenceActionRequest struct {
	RequestID string `json:"request_id"`
}

type transferSequenceRequest struct {
	RequestID  string `json:"request_id"`
	ToOfficeID string `json:"to_office_id"`
}

type scopeRequest struct {
	OfficeIDs []string `json:"office_ids"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleSequences(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req createSequenceRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.RequestID = strings.TrimSpace(req.RequestID)
	req.OfficeID = strings.TrimSpace(req.OfficeID)
	req.PriorityID = strings.TrimSpace(req.PriorityID)

	if req.RequestID == "" || req.OfficeID == "" || req.PriorityID == "" {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id, office_id, and priority_id are required")
		return
	}
	if !isValidUUID(req.RequestID) || !isValidUUID(req.OfficeID) || !isValidUUID(req.PriorityID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id, office_id, and priority_id must be UUIDs")
		return
	}

	seq, _, err := h.store.CreateSequence(r.Context(), store.CreateSequenceInput{
		RequestID:  req.RequestID,
		OfficeID:   req.OfficeID,
		PriorityID: req.PriorityID,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		statusCode, code, msg := mapError(err)
		writeError(w, req.RequestID, statusCode, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, seq)
}

func (h *Handler) handleCallNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req callNextRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.RequestID = strings.TrimSpace(req.RequestID)
	req.OfficeID = strings.TrimSpace(req.OfficeID)
	req.WindowID = strings.TrimSpace(req.WindowID)

	if req.RequestID == "" || req.OfficeID == "" || req.WindowID == "" {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id, office_id, and window_id are required")
		return
	}
	if !isValidUUID(req.RequestID) || !isValidUUID(req.OfficeID) || !isValidUUID(req.WindowID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id, office_id, and window_id must be UUIDs")
		return
	}

	servingStatus, err := h.resolveStatus(r.Context(), status.Serving)
	if err != nil {
		statusCode, code, msg := mapError(err)
		writeError(w, req.RequestID, statusCode, code, msg)
		return
	}

	seq, err := h.caller.CallNext(r.Context(), store.CallNextInput{
		RequestID:       req.RequestID,
		OfficeID:        req.OfficeID,
		WindowID:        req.WindowID,
		ServingStatusID: servingStatus.StatusID,
		CalledAt:        time.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, store.ErrNoSequence) {
			writeError(w, req.RequestID, http.StatusConflict, "queue_empty", "no pending sequences available")
			return
		}
		statusCode, code, msg := mapError(err)
		writeError(w, req.RequestID, statusCode, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, seq)
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	officeID := strings.TrimSpace(r.URL.Query().Get("office_id"))
	windowID := strings.TrimSpace(r.URL.Query().Get("window_id"))
	if officeID == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "office_id is required")
		return
	}
	if !isValidUUID(officeID) || (windowID != "" && !isValidUUID(windowID)) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "office_id and window_id must be UUIDs")
		return
	}

	snapshot, err := h.store.SnapshotSequences(r.Context(), []string{officeID})
	if err != nil {
		statusCode, code, msg := mapError(err)
		writeError(w, "", statusCode, code, msg)
		return
	}

	waiting := queue.WaitingList(snapshot, officeID, windowID)
	if waiting == nil {
		waiting = []models.Sequence{}
	}
	writeJSON(w, http.StatusOK, waiting)
}

func (h *Handler) handleServing(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	officeID := strings.TrimSpace(r.URL.Query().Get("office_id"))
	windowID := strings.TrimSpace(r.URL.Query().Get("window_id"))
	if officeID == "" || windowID == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "office_id and window_id are required")
		return
	}
	if !isValidUUID(officeID) || !isValidUUID(windowID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "office_id and window_id must be UUIDs")
		return
	}

	snapshot, err := h.store.SnapshotSequences(r.Context(), []string{officeID})
	if err != nil {
		statusCode, code, msg := mapError(err)
		writeError(w, "", statusCode, code, msg)
		return
	}

	seq, found := queue.ServingEntry(snapshot, officeID, windowID)
	if !found {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, seq)
}

func (h *Handler) handleSequenceActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/sequences/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 3 || parts[1] != "actions" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	sequenceID := parts[0]
	action := parts[2]
	if !isValidUUID(sequenceID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "sequence_id must be a UUID")
		return
	}

	switch action {
	case "arrive":
		h.handleArrive(w, r, sequenceID)
	case "complete":
		h.handleComplete(w, r, sequenceID)
	case "transfer":
		h.handleTransfer(w, r, sequenceID)
	case "recall":
		h.handleRecall(w, r, sequenceID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleArrive(w http.ResponseWriter, r *http.Request, sequenceID string) {
	var req sequenceActionRequest
	if !decodeActionRequest(w, r, &req) {
		return
	}

	arrivedStatus, err := h.resolveStatus(r.Context(), status.Arrived)
	if err != nil {
		statusCode, code, msg := mapError(err)
		writeError(w, req.RequestID, statusCode, code, msg)
		return
	}

	seq, err := h.store.MarkArrived(r.Context(), store.TransitionInput{
		RequestID:  req.RequestID,
		SequenceID: sequenceID,
		StatusID:   arrivedStatus.StatusID,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		statusCode, code, msg := mapError(err)
		writeError(w, req.RequestID, statusCode, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, seq)
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request, sequenceID string) {
	var req sequenceActionRequest
	if !decodeActionRequest(w, r, &req) {
		return
	}

	completedStatus, err := h.resolveStatus(r.Context(), status.Completed)
	if err != nil {
		statusCode, code, msg := mapError(err)
		writeError(w, req.RequestID, statusCode, code, msg)
		return
	}

	seq, err := h.store.CompleteSequence(r.Context(), store.TransitionInput{
		RequestID:  req.RequestID,
		SequenceID: sequenceID,
		StatusID:   completedStatus.StatusID,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		statusCode, code, msg := mapError(err)
		writeError(w, req.RequestID, statusCode, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, seq)
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request, sequenceID string) {
	var req transferSequenceRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.RequestID = strings.TrimSpace(req.RequestID)
	req.ToOfficeID = strings.TrimSpace(req.ToOfficeID)
	if req.RequestID == "" || req.ToOfficeID == "" {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id and to_office_id are required")
		return
	}
	if !isValidUUID(req.RequestID) || !isValidUUID(req.ToOfficeID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id and to_office_id must be UUIDs")
		return
	}

	pendingStatus, err := h.resolveStatus(r.Context(), status.Pending)
	if err != nil {
		statusCode, code, msg := mapError(err)
		writeError(w, req.RequestID, statusCode, code, msg)
		return
	}

	seq, err := h.store.TransferSequence(r.Context(), store.TransferInput{
		RequestID:       req.RequestID,
		SequenceID:      sequenceID,
		ToOfficeID:      req.ToOfficeID,
		PendingStatusID: pendingStatus.StatusID,
		OccurredAt:      time.Now().UTC(),
	})
	if err != nil {
		statusCode, code, msg := mapError(err)
		writeError(w, req.RequestID, statusCode, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, seq)
}

func (h *Handler) handleRecall(w http.ResponseWriter, r *http.Request, sequenceID string) {
	var req sequenceActionRequest
	if !decodeActionRequest(w, r, &req) {
		return
	}

	seq, err := h.store.RecallSequence(r.Context(), store.TransitionInput{
		RequestID:  req.RequestID,
		SequenceID: sequenceID,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		statusCode, code, msg := mapError(err)
		writeError(w, req.RequestID, statusCode, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, seq)
}

func (h *Handler) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	feed := h.notifier.Notifications()
	if feed == nil {
		feed = []models.Notification{}
	}
	writeJSON(w, http.StatusOK, feed)
}

func (h *Handler) handleClearNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := h.notifier.Clear(r.Context()); err != nil {
		statusCode, code, msg := mapError(err)
		writeError(w, "", statusCode, code, msg)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleNotificationScope(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req scopeRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	for _, id := range req.OfficeIDs {
		if !isValidUUID(strings.TrimSpace(id)) {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "office_ids must be UUIDs")
			return
		}
	}
	if err := h.notifier.SetScope(r.Context(), req.OfficeIDs); err != nil {
		statusCode, code, msg := mapError(err)
		writeError(w, "", statusCode, code, msg)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleOffices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	offices, err := h.store.ListOffices(r.Context())
	if err != nil {
		statusCode, code, msg := mapError(err)
		writeError(w, "", statusCode, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, offices)
}

func (h *Handler) handleWindows(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	officeID := strings.TrimSpace(r.URL.Query().Get("office_id"))
	if officeID == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "office_id is required")
		return
	}
	if !isValidUUID(officeID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "office_id must be a UUID")
		return
	}
	windows, err := h.store.ListWindows(r.Context(), officeID)
	if err != nil {
		statusCode, code, msg := mapError(err)
		writeError(w, "", statusCode, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, windows)
}

func (h *Handler) handlePriorities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	priorities, err := h.store.ListPriorityTypes(r.Context())
	if err != nil {
		statusCode, code, msg := mapError(err)
		writeError(w, "", statusCode, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, priorities)
}

func (h *Handler) handleStatuses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	statuses, err := h.store.ListStatusTypes(r.Context())
	if err != nil {
		statusCode, code, msg := mapError(err)
		writeError(w, "", statusCode, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (h *Handler) resolveStatus(ctx context.Context, bucket status.Bucket) (models.StatusType, error) {
	types, err := h.store.ListStatusTypes(ctx)
	if err != nil {
		return models.StatusType{}, err
	}
	st, found := status.Resolve(types, bucket)
	if !found {
		return models.StatusType{}, store.ErrStatusNotFound
	}
	return st, nil
}

func decodeActionRequest(w http.ResponseWriter, r *http.Request, req *sequenceActionRequest) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	req.RequestID = strings.TrimSpace(req.RequestID)
	if req.RequestID == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "request_id is required")
		return false
	}
	if !isValidUUID(req.RequestID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id must be a UUID")
		return false
	}
	return true
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrOfficeNotFound):
		return http.StatusNotFound, "office_not_found", "office not found"
	case errors.Is(err, store.ErrWindowNotFound):
		return http.StatusNotFound, "window_not_found", "window not found"
	case errors.Is(err, store.ErrPriorityNotFound):
		return http.StatusNotFound, "priority_not_found", "priority type not found"
	case errors.Is(err, store.ErrStatusNotFound):
		return http.StatusNotFound, "status_not_found", "status type not found"
	case errors.Is(err, store.ErrSequenceNotFound):
		return http.StatusNotFound, "sequence_not_found", "sequence not found"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "sequence state does not allow this action"
	case errors.Is(err, store.ErrWindowBusy):
		return http.StatusConflict, "window_busy", "window is already serving a sequence"
	case errors.Is(err, queue.ErrOfficeRequired), errors.Is(err, queue.ErrWindowRequired):
		return http.StatusBadRequest, "invalid_request", err.Error()
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

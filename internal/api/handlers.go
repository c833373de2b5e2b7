package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/archibridge/archibridge/internal/browser"
	"github.com/archibridge/archibridge/internal/syncer"
	"github.com/archibridge/archibridge/pkg/models"
)

// Orchestrator is the slice of sync behaviour the handlers need.
type Orchestrator interface {
	RequestSync(typ models.SyncType, priority int, userID string) error
	SmartCustomerSync(ctx context.Context, userID string) error
	ResumeOtherSyncs()
	Status() models.SyncStatus
	History(typ models.SyncType, limit int) ([]models.HistoryEntry, error)
	AllHistory(limit int) map[models.SyncType][]models.HistoryEntry
	UpdateInterval(typ models.SyncType, minutes int) error
	Intervals() map[models.SyncType]int
	StartStaggeredAutoSync()
	StopAutoSync()
	IsAutoSyncRunning() bool
}

// SessionPool is the slice of pool behaviour the handlers need.
type SessionPool interface {
	Stats() models.PoolStats
	CloseUserContext(ctx context.Context, userID string) error
}

// Accounts manages users and their cached ERP secrets.
type Accounts interface {
	UserByID(ctx context.Context, id string) (*models.User, error)
	SaveCredential(ctx context.Context, userID, secret string) error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	orch     Orchestrator
	pool     SessionPool
	accounts Accounts
	logger   *slog.Logger
}

// NewHandler creates a new HTTP handler.
func NewHandler(orch Orchestrator, pool SessionPool, accounts Accounts, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{orch: orch, pool: pool, accounts: accounts, logger: logger}
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Sync models.SyncStatus `json:"sync"`
	Pool models.PoolStats  `json:"pool"`
}

// GetStatus handles GET /v1/status.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Sync: h.orch.Status(),
		Pool: h.pool.Stats(),
	})
}

// GetHistory handles GET /v1/history. With ?type= it returns one type's
// history, otherwise all of them. ?limit= caps the entries per type.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	if raw := r.URL.Query().Get("type"); raw != "" {
		entries, err := h.orch.History(models.SyncType(raw), limit)
		if err != nil {
			writeError(w, syncErrorStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[models.SyncType][]models.HistoryEntry{models.SyncType(raw): entries})
		return
	}

	writeJSON(w, http.StatusOK, h.orch.AllHistory(limit))
}

type triggerSyncRequest struct {
	Priority int    `json:"priority"`
	UserID   string `json:"userId"`
}

// TriggerSync handles POST /v1/sync/{type}. The sync runs in the
// background; 202 only means it was admitted.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	typ := models.SyncType(mux.Vars(r)["type"])

	var req triggerSyncRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	if err := h.orch.RequestSync(typ, req.Priority, req.UserID); err != nil {
		writeError(w, syncErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"type":   string(typ),
	})
}

type smartSyncRequest struct {
	UserID string `json:"userId"`
}

// SmartSyncStart handles POST /v1/sync/customers/smart. Unlike the
// regular trigger this blocks until the customers sync has actually
// run, and its failure comes back as the response status.
func (h *Handler) SmartSyncStart(w http.ResponseWriter, r *http.Request) {
	var req smartSyncRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	if err := h.orch.SmartCustomerSync(r.Context(), req.UserID); err != nil {
		writeError(w, syncErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

// SmartSyncRelease handles POST /v1/sync/customers/smart/release.
func (h *Handler) SmartSyncRelease(w http.ResponseWriter, r *http.Request) {
	h.orch.ResumeOtherSyncs()
	writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

// GetIntervals handles GET /v1/sync/intervals.
func (h *Handler) GetIntervals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"intervalsMinutes": h.orch.Intervals()})
}

// UpdateIntervals handles PUT /v1/sync/intervals with a body like
// {"orders": 30, "customers": 60}. Either every change applies or none
// does.
func (h *Handler) UpdateIntervals(w http.ResponseWriter, r *http.Request) {
	var req map[string]int
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req) == 0 {
		writeError(w, http.StatusBadRequest, "no intervals given")
		return
	}

	for raw, minutes := range req {
		typ := models.SyncType(raw)
		if !typ.Valid() {
			writeError(w, http.StatusBadRequest, "unknown sync type "+strconv.Quote(raw))
			return
		}
		if minutes < syncer.MinIntervalMinutes || minutes > syncer.MaxIntervalMinutes {
			writeError(w, http.StatusBadRequest,
				"interval for "+raw+" must be between "+
					strconv.Itoa(syncer.MinIntervalMinutes)+" and "+
					strconv.Itoa(syncer.MaxIntervalMinutes)+" minutes")
			return
		}
	}
	for raw, minutes := range req {
		if err := h.orch.UpdateInterval(models.SyncType(raw), minutes); err != nil {
			writeError(w, syncErrorStatus(err), err.Error())
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"intervalsMinutes": h.orch.Intervals()})
}

// AutoSyncStart handles POST /v1/autosync/start.
func (h *Handler) AutoSyncStart(w http.ResponseWriter, r *http.Request) {
	h.orch.StartStaggeredAutoSync()
	writeJSON(w, http.StatusOK, map[string]bool{"autoSync": true})
}

// AutoSyncStop handles POST /v1/autosync/stop.
func (h *Handler) AutoSyncStop(w http.ResponseWriter, r *http.Request) {
	h.orch.StopAutoSync()
	writeJSON(w, http.StatusOK, map[string]bool{"autoSync": false})
}

// GetAutoSync handles GET /v1/autosync.
func (h *Handler) GetAutoSync(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"autoSync": h.orch.IsAutoSyncRunning()})
}

// GetPool handles GET /v1/pool.
func (h *Handler) GetPool(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.pool.Stats())
}

// LogoutUser handles POST /v1/users/{id}/logout. The user's browser
// session and persisted cookies are destroyed.
func (h *Handler) LogoutUser(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	if err := h.pool.CloseUserContext(r.Context(), userID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateCredentials handles PUT /v1/users/{id}/credentials. The old
// browser session is destroyed so the next sync logs in with the new
// secret.
func (h *Handler) UpdateCredentials(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	var req models.CredentialUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Password == "" {
		writeError(w, http.StatusBadRequest, "password is required")
		return
	}

	if _, err := h.accounts.UserByID(r.Context(), userID); err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err := h.accounts.SaveCredential(r.Context(), userID, req.Password); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := h.pool.CloseUserContext(r.Context(), userID); err != nil {
		h.logger.Warn("failed to close session after credential change", "user", userID, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

// syncErrorStatus maps domain errors onto HTTP statuses.
func syncErrorStatus(err error) int {
	switch {
	case errors.Is(err, browser.ErrCredentialsMissing):
		return http.StatusConflict
	case errors.Is(err, browser.ErrLoginFailed), errors.Is(err, browser.ErrNavigationTimeout):
		return http.StatusBadGateway
	case errors.Is(err, syncer.ErrConfigInvalid):
		return http.StatusBadRequest
	case errors.Is(err, syncer.ErrUnknownType):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

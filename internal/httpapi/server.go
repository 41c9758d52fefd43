// Package httpapi is the local dashboard and operations API.  It runs
// on the gate itself and keeps working offline; everything it serves
// comes from the local stores.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/maxpark/gatekeeper/internal/config"
	"github.com/maxpark/gatekeeper/internal/gatekeeper/authz"
	"github.com/maxpark/gatekeeper/internal/gatekeeper/relay"
	"github.com/maxpark/gatekeeper/internal/gatekeeper/txcache"
	"github.com/maxpark/gatekeeper/internal/gatekeeper/types"
)

const defaultTransactionLimit = 50

// Synchronizer triggers an immediate sync pass.
type Synchronizer interface {
	SyncNow()
}

type Dependencies struct {
	Logger   *logrus.Logger
	Addr     string
	APIKey   string
	EntityID string

	Store     *authz.Store
	Cache     *txcache.Cache
	Relays    *relay.Controller
	Syncer    Synchronizer
	Settings  *config.Runtime
	ReaderIDs []int
	ImagesDir string
}

type Server struct {
	httpServer *http.Server
	logger     *logrus.Logger
	mux        *http.ServeMux

	entityID  string
	store     *authz.Store
	cache     *txcache.Cache
	relays    *relay.Controller
	syncer    Synchronizer
	settings  *config.Runtime
	readerIDs []int
	imagesDir string
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()

	s := &Server{
		logger:    d.Logger,
		mux:       mux,
		entityID:  d.EntityID,
		store:     d.Store,
		cache:     d.Cache,
		relays:    d.Relays,
		syncer:    d.Syncer,
		settings:  d.Settings,
		readerIDs: d.ReaderIDs,
		imagesDir: d.ImagesDir,
	}

	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /v1/transactions", s.handleTransactions)
	mux.HandleFunc("GET /v1/stats/today", s.handleStatsToday)
	mux.HandleFunc("GET /v1/stats/daily", s.handleStatsDaily)
	mux.HandleFunc("GET /v1/users", s.handleListUsers)
	mux.HandleFunc("POST /v1/users", s.handleAddUser)
	mux.HandleFunc("DELETE /v1/users/{card}", s.handleDeleteUser)
	mux.HandleFunc("POST /v1/users/{card}/block", s.handleBlockUser)
	mux.HandleFunc("POST /v1/users/{card}/unblock", s.handleUnblockUser)
	mux.HandleFunc("GET /v1/settings", s.handleGetSettings)
	mux.HandleFunc("POST /v1/settings", s.handleUpdateSettings)
	mux.HandleFunc("POST /v1/relay", s.handleRelay)
	mux.HandleFunc("POST /v1/sync", s.handleSync)
	mux.HandleFunc("GET /v1/storage", s.handleStorage)

	handler := loggingMiddleware(d.Logger, authMiddleware(d.APIKey, mux))

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ── status & stats ─────────────────────────────────────────────────────

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	relays := map[string]string{}
	for _, id := range s.readerIDs {
		state, err := s.relays.State(id)
		if err != nil {
			continue
		}
		relays[strconv.Itoa(id)] = state.String()
	}
	settings := s.settings.Current()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":              "ok",
		"entity":              s.entityID,
		"server_time":         time.Now().Unix(),
		"relays":              relays,
		"alternate_transport": settings.AlternateTransport,
		"scan_cooldown":       settings.ScanCooldown.String(),
	})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	limit := defaultTransactionLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "bad_limit", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	txns, err := s.cache.Recent(limit)
	if err != nil {
		s.logger.WithError(err).Error("transactions read failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	if txns == nil {
		txns = []types.Transaction{}
	}
	writeJSON(w, http.StatusOK, txns)
}

func (s *Server) handleStatsToday(w http.ResponseWriter, r *http.Request) {
	day, err := s.cache.Today()
	if err != nil {
		s.logger.WithError(err).Error("stats read failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	writeJSON(w, http.StatusOK, day)
}

func (s *Server) handleStatsDaily(w http.ResponseWriter, r *http.Request) {
	days, err := s.cache.History()
	if err != nil {
		s.logger.WithError(err).Error("stats read failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	if days == nil {
		days = []txcache.DayStats{}
	}
	writeJSON(w, http.StatusOK, days)
}

// ── users ──────────────────────────────────────────────────────────────

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"users":   s.store.Users(),
		"blocked": s.store.BlockedCards(),
	})
}

func (s *Server) handleAddUser(w http.ResponseWriter, r *http.Request) {
	var rec types.UserRecord
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	if strings.TrimSpace(rec.Name) == "" {
		writeError(w, http.StatusBadRequest, "missing_name", "name is required")
		return
	}

	if err := s.store.Add(rec); err != nil {
		if errors.Is(err, authz.ErrCardNotNumeric) {
			writeError(w, http.StatusBadRequest, "bad_card", err.Error())
			return
		}
		s.logger.WithError(err).Error("user add failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	card := r.PathValue("card")
	if err := s.store.Delete(card); err != nil {
		if errors.Is(err, authz.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no user with that card")
			return
		}
		s.logger.WithError(err).Error("user delete failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBlockUser(w http.ResponseWriter, r *http.Request) {
	card := r.PathValue("card")
	if err := s.store.Block(card); err != nil {
		s.logger.WithError(err).Error("block failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"card": card, "state": "blocked"})
}

func (s *Server) handleUnblockUser(w http.ResponseWriter, r *http.Request) {
	card := r.PathValue("card")
	if err := s.store.Unblock(card); err != nil {
		s.logger.WithError(err).Error("unblock failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"card": card, "state": "unblocked"})
}

// ── settings ───────────────────────────────────────────────────────────

func settingsBody(s *config.Settings) map[string]any {
	cameras := make(map[string]bool, len(s.CameraEnabled))
	for id, on := range s.CameraEnabled {
		cameras[strconv.Itoa(id)] = on
	}
	return map[string]any{
		"scan_cooldown":       s.ScanCooldown.String(),
		"alternate_transport": s.AlternateTransport,
		"cameras":             cameras,
	}
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, settingsBody(s.settings.Current()))
}

// handleUpdateSettings applies a partial update; absent fields keep
// their current values.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScanCooldown       *string         `json:"scan_cooldown"`
		AlternateTransport *bool           `json:"alternate_transport"`
		Cameras            map[string]bool `json:"cameras"`
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	var cooldown time.Duration
	if req.ScanCooldown != nil {
		d, err := time.ParseDuration(*req.ScanCooldown)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "bad_cooldown", "scan_cooldown must be a non-negative duration")
			return
		}
		cooldown = d
	}
	cameras := make(map[int]bool, len(req.Cameras))
	for key, on := range req.Cameras {
		id, err := strconv.Atoi(key)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_camera", "camera keys must be reader IDs")
			return
		}
		cameras[id] = on
	}

	s.settings.Update(func(next *config.Settings) {
		if req.ScanCooldown != nil {
			next.ScanCooldown = cooldown
		}
		if req.AlternateTransport != nil {
			next.AlternateTransport = *req.AlternateTransport
		}
		for id, on := range cameras {
			next.CameraEnabled[id] = on
		}
	})
	writeJSON(w, http.StatusOK, settingsBody(s.settings.Current()))
}

// ── relay, sync, storage ───────────────────────────────────────────────

func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Relay  int    `json:"relay"`
		Action string `json:"action"`
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	if err := s.relays.Apply(req.Action, req.Relay); err != nil {
		writeError(w, http.StatusBadRequest, "bad_relay_command", err.Error())
		return
	}
	state, err := s.relays.State(req.Relay)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_relay_command", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"relay": req.Relay, "state": state.String()})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	s.syncer.SyncNow()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sync scheduled"})
}

func (s *Server) handleStorage(w http.ResponseWriter, r *http.Request) {
	var count int
	var bytes int64
	entries, err := os.ReadDir(s.imagesDir)
	if err != nil && !os.IsNotExist(err) {
		s.logger.WithError(err).Error("storage scan failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jpg") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		count++
		bytes += info.Size()
	}
	writeJSON(w, http.StatusOK, map[string]any{"images": count, "bytes": bytes})
}

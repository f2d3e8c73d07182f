package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/playforge/reconcile-cli/internal/model"
	"github.com/playforge/reconcile-cli/internal/pipeline"
	"github.com/playforge/reconcile-cli/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Error("write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	if _, err := s.store.CreateUser(r.Context(), req.UserID); err != nil {
		zap.L().Error("login create user", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not create user")
		return
	}

	token, err := s.auth.Issue(req.UserID)
	if err != nil {
		zap.L().Error("login issue token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not issue token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"token":  token,
		"userId": req.UserID,
	})
}

func (s *Server) handleEarn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount int64  `json:"amount"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	user, err := s.store.Credit(r.Context(), userID(r), req.Amount, req.Reason,
		r.Header.Get("Idempotency-Key"))
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown user")
			return
		}
		zap.L().Error("earn credit", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not apply credit")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"balance": user.Balance,
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	user, err := s.store.GetUser(r.Context(), userID(r))
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown user")
			return
		}
		zap.L().Error("balance lookup", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not read balance")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EventType    string          `json:"eventType"`
		Meta         json.RawMessage `json:"meta"`
		TimestampUTC string          `json:"timestampUtc"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.EventType == "" {
		writeError(w, http.StatusBadRequest, "eventType is required")
		return
	}

	// Meta must be a JSON object when present, not an opaque blob.
	meta := ""
	if len(req.Meta) > 0 {
		var obj map[string]any
		if err := json.Unmarshal(req.Meta, &obj); err != nil {
			writeError(w, http.StatusBadRequest, "meta must be a JSON object")
			return
		}
		meta = string(req.Meta)
	}

	occurredAt := time.Now().UTC()
	if req.TimestampUTC != "" {
		ts, err := time.Parse(time.RFC3339, req.TimestampUTC)
		if err != nil {
			writeError(w, http.StatusBadRequest, "timestampUtc must be RFC3339")
			return
		}
		occurredAt = ts.UTC()
	}

	event := model.Event{
		ID:         uuid.New().String(),
		UserID:     userID(r),
		Type:       req.EventType,
		OccurredAt: occurredAt,
		Meta:       meta,
	}
	if err := s.store.InsertEvent(r.Context(), event); err != nil {
		zap.L().Error("insert event", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not record event")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"eventId": event.ID,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.ListEvents(r.Context(), store.EventFilter{
		UserID: userID(r),
		Limit:  100,
	})
	if err != nil {
		zap.L().Error("list events", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not list events")
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.EventStats(r.Context(), r.URL.Query().Get("uid"))
	if err != nil {
		zap.L().Error("event stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not compute stats")
		return
	}
	if stats == nil {
		stats = []model.EventStat{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	uid := r.URL.Query().Get("uid")
	if uid == "" {
		uid = "anonymous"
	}
	if _, err := s.store.CreateUser(r.Context(), uid); err != nil {
		zap.L().Error("track create user", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not track")
		return
	}

	meta, _ := json.Marshal(map[string]string{
		"character": r.URL.Query().Get("character"),
		"campaign":  r.URL.Query().Get("campaign"),
	})
	event := model.Event{
		ID:         uuid.New().String(),
		UserID:     uid,
		Type:       "deeplink_open",
		OccurredAt: time.Now().UTC(),
		Meta:       string(meta),
	}
	if err := s.store.InsertEvent(r.Context(), event); err != nil {
		zap.L().Error("track insert event", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not track")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleRunPipeline(w http.ResponseWriter, r *http.Request) {
	if s.run == nil {
		writeError(w, http.StatusNotImplemented, "pipeline trigger not configured")
		return
	}

	// Collapse concurrent triggers into one run.
	v, err, _ := s.runGroup.Do("run", func() (any, error) {
		return s.run(r.Context())
	})
	result, _ := v.(*model.RunResult)

	if result != nil {
		record := model.PipelineRun{
			ID:        uuid.New().String(),
			Date:      result.Date,
			OK:        result.OK,
			Result:    *result,
			CreatedAt: time.Now().UTC(),
		}
		if insertErr := s.store.InsertPipelineRun(r.Context(), record); insertErr != nil {
			zap.L().Error("persist pipeline run", zap.Error(insertErr))
		}
	}

	if err != nil {
		if eris.Is(err, pipeline.ErrRunInFlight) {
			writeError(w, http.StatusConflict, "a run is already in flight")
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"ok":     false,
			"error":  eris.Cause(err).Error(),
			"result": result,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     result.OK,
		"result": result,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	counts, err := s.store.Counts(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"counts": counts,
	})
}

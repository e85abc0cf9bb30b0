// internal/handler/engine_handler.go
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	appErrors "github.com/hanamura/linebridge-backend/internal/errors"
	"github.com/hanamura/linebridge-backend/internal/service"
)

// EngineHandler exposes the engine operations to collaborators: direct
// dispatch of one message, and manual sweep/advance triggers (the same
// entry points the cron adapter calls).
type EngineHandler struct {
	Dispatcher *service.Dispatcher
	Sweeper    *service.Sweeper
	Advancer   *service.StepAdvancer
	Logger     *zap.Logger
}

func (h *EngineHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "id")
	if messageID == "" {
		http.Error(w, "message id is required", http.StatusBadRequest)
		return
	}

	result, err := h.Dispatcher.Deliver(r.Context(), messageID)
	if err != nil {
		var notFound *appErrors.ErrMessageNotFound
		if errors.As(err, &notFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		h.Logger.Error("dispatch failed", zap.String("message_id", messageID), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, result)
}

func (h *EngineHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.Sweeper.Sweep(r.Context(), time.Now())
	if err != nil {
		h.Logger.Error("sweep failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, result)
}

func (h *EngineHandler) Advance(w http.ResponseWriter, r *http.Request) {
	result, err := h.Advancer.Advance(r.Context(), time.Now())
	if err != nil {
		h.Logger.Error("advance failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, result)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

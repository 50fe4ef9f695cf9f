package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/dosewatch/internal/auth"
	"github.com/dukerupert/dosewatch/internal/model"
	"github.com/dukerupert/dosewatch/internal/push"
	"github.com/dukerupert/dosewatch/internal/store"
)

type PushHandler struct {
	pushStore *store.PushStore
	logger    *slog.Logger
}

func NewPushHandler(ps *store.PushStore, logger *slog.Logger) *PushHandler {
	return &PushHandler{pushStore: ps, logger: logger}
}

type pushTokenRequest struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

// Register saves a device push token for the calling user. Re-registering a
// token from another account moves it to the caller.
func (h *PushHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req pushTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	req.Token = strings.TrimSpace(req.Token)
	if !push.IsValidToken(req.Token) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid push token"})
		return
	}

	token, err := h.pushStore.Upsert(auth.UserID(r.Context()), req.Token, req.Platform)
	if err != nil {
		h.logger.Error("register push token", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to register token"})
		return
	}
	writeJSON(w, http.StatusCreated, token)
}

func (h *PushHandler) List(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.pushStore.ListByUser(auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("list push tokens", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list tokens"})
		return
	}
	if tokens == nil {
		tokens = []model.PushToken{}
	}
	writeJSON(w, http.StatusOK, tokens)
}

// Unregister deletes one of the caller's own push tokens.
func (h *PushHandler) Unregister(w http.ResponseWriter, r *http.Request) {
	var req pushTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	tokens, err := h.pushStore.ListByUser(auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("list push tokens", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	for _, t := range tokens {
		if t.Token == req.Token {
			if err := h.pushStore.DeleteByToken(t.Token); err != nil {
				h.logger.Error("delete push token", "error", err)
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete token"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "token not found"})
}

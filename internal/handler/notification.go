package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/dosewatch/internal/auth"
	"github.com/dukerupert/dosewatch/internal/model"
	"github.com/dukerupert/dosewatch/internal/store"
)

type NotificationHandler struct {
	notificationStore *store.NotificationStore
	logger            *slog.Logger
}

func NewNotificationHandler(ns *store.NotificationStore, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{notificationStore: ns, logger: logger}
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	notifs, err := h.notificationStore.ListByUser(auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("list notifications", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list notifications"})
		return
	}
	if notifs == nil {
		notifs = []model.Notification{}
	}
	writeJSON(w, http.StatusOK, notifs)
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	userID := auth.UserID(r.Context())
	notif, err := h.notificationStore.GetByID(id)
	if err != nil {
		h.logger.Error("get notification", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if notif == nil || notif.UserID != userID {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "notification not found"})
		return
	}

	if err := h.notificationStore.MarkRead(id, userID); err != nil {
		h.logger.Error("mark notification read", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.notificationStore.UnreadCount(auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("count unread notifications", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread": count})
}

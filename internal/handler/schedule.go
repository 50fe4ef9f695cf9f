package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/dosewatch/internal/auth"
	"github.com/dukerupert/dosewatch/internal/model"
	"github.com/dukerupert/dosewatch/internal/notify"
	"github.com/dukerupert/dosewatch/internal/store"
)

type ScheduleHandler struct {
	scheduleStore   *store.ScheduleStore
	medicationStore *store.MedicationStore
	notifier        *notify.Notifier
	logger          *slog.Logger
}

func NewScheduleHandler(ss *store.ScheduleStore, ms *store.MedicationStore, notifier *notify.Notifier, logger *slog.Logger) *ScheduleHandler {
	return &ScheduleHandler{
		scheduleStore:   ss,
		medicationStore: ms,
		notifier:        notifier,
		logger:          logger,
	}
}

func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.scheduleStore.ListByUser(auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("list schedules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list schedules"})
		return
	}
	if schedules == nil {
		schedules = []model.DoseSchedule{}
	}
	writeJSON(w, http.StatusOK, schedules)
}

func (h *ScheduleHandler) ListByMedication(w http.ResponseWriter, r *http.Request) {
	med, ok := h.ownedMedication(w, r)
	if !ok {
		return
	}
	schedules, err := h.scheduleStore.ListByMedication(med.ID)
	if err != nil {
		h.logger.Error("list medication schedules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list schedules"})
		return
	}
	if schedules == nil {
		schedules = []model.DoseSchedule{}
	}
	writeJSON(w, http.StatusOK, schedules)
}

// TakeDose records a dose taken right now without waiting for a due cycle.
// The new row is already taken so the monitor anchors the next due time on it.
func (h *ScheduleHandler) TakeDose(w http.ResponseWriter, r *http.Request) {
	med, ok := h.ownedMedication(w, r)
	if !ok {
		return
	}

	sched, err := h.scheduleStore.LogDose(med.ID, med.UserID, time.Now().UTC())
	if err != nil {
		h.logger.Error("log dose", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to record dose"})
		return
	}

	h.checkStock(r, med.ID)
	writeJSON(w, http.StatusCreated, sched)
}

// Confirm marks a pending dose as taken.
func (h *ScheduleHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	sched, err := h.scheduleStore.GetByID(id)
	if err != nil {
		h.logger.Error("get schedule", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get schedule"})
		return
	}
	if sched == nil || sched.UserID != auth.UserID(r.Context()) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "schedule not found"})
		return
	}

	confirmed, err := h.scheduleStore.ConfirmDose(id, time.Now().UTC())
	if err != nil {
		h.logger.Error("confirm dose", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to confirm dose"})
		return
	}
	if confirmed == nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "dose is not pending"})
		return
	}

	h.checkStock(r, sched.MedicationID)
	writeJSON(w, http.StatusOK, confirmed)
}

// checkStock re-reads the medication after a dose decrement and alerts the
// owner when stock hits zero or falls to the alert threshold.
func (h *ScheduleHandler) checkStock(r *http.Request, medicationID int64) {
	med, err := h.medicationStore.GetByID(medicationID)
	if err != nil || med == nil {
		h.logger.Error("reload medication for stock check", "medication_id", medicationID, "error", err)
		return
	}

	var notifType, title, message string
	switch {
	case med.Stock == 0:
		notifType = model.NotifTypeStockEmpty
		title = "Out of stock"
		message = fmt.Sprintf("%s is out of stock", med.Name)
	case med.Stock <= med.AlertThreshold:
		notifType = model.NotifTypeStockLow
		title = "Stock low"
		message = fmt.Sprintf("%s is running low: %d doses left", med.Name, med.Stock)
	default:
		return
	}

	if err := h.notifier.Send(r.Context(), []int64{med.UserID}, notifType, title, message, &med.ID); err != nil {
		h.logger.Error("send stock alert", "medication_id", med.ID, "error", err)
	}
}

func (h *ScheduleHandler) ownedMedication(w http.ResponseWriter, r *http.Request) (*model.Medication, bool) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return nil, false
	}
	med, err := h.medicationStore.GetByID(id)
	if err != nil {
		h.logger.Error("get medication", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get medication"})
		return nil, false
	}
	if med == nil || med.UserID != auth.UserID(r.Context()) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "medication not found"})
		return nil, false
	}
	return med, true
}

package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/dukerupert/dosewatch/internal/auth"
	"github.com/dukerupert/dosewatch/internal/model"
	"github.com/dukerupert/dosewatch/internal/store"
)

type MedicationHandler struct {
	medicationStore *store.MedicationStore
	logger          *slog.Logger
}

func NewMedicationHandler(ms *store.MedicationStore, logger *slog.Logger) *MedicationHandler {
	return &MedicationHandler{medicationStore: ms, logger: logger}
}

type medicationRequest struct {
	Name           string `json:"name"`
	Dosage         string `json:"dosage"`
	Stock          int    `json:"stock"`
	AlertThreshold int    `json:"alert_threshold"`
	IntervalHours  int    `json:"interval_hours"`
}

func (req *medicationRequest) validate() string {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return "name is required"
	}
	if req.IntervalHours <= 0 {
		return "interval_hours must be positive"
	}
	if req.Stock < 0 {
		return "stock cannot be negative"
	}
	if req.AlertThreshold < 0 {
		return "alert_threshold cannot be negative"
	}
	return ""
}

func (h *MedicationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req medicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if msg := req.validate(); msg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}

	med, err := h.medicationStore.Create(auth.UserID(r.Context()), req.Name, req.Dosage, req.Stock, req.AlertThreshold, req.IntervalHours)
	if err != nil {
		h.logger.Error("create medication", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create medication"})
		return
	}
	writeJSON(w, http.StatusCreated, med)
}

func (h *MedicationHandler) List(w http.ResponseWriter, r *http.Request) {
	meds, err := h.medicationStore.ListByUser(auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("list medications", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list medications"})
		return
	}
	if meds == nil {
		meds = []model.Medication{}
	}
	writeJSON(w, http.StatusOK, meds)
}

func (h *MedicationHandler) Get(w http.ResponseWriter, r *http.Request) {
	med, ok := h.ownedMedication(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, med)
}

func (h *MedicationHandler) Update(w http.ResponseWriter, r *http.Request) {
	med, ok := h.ownedMedication(w, r)
	if !ok {
		return
	}

	var req medicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if msg := req.validate(); msg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}

	updated, err := h.medicationStore.Update(med.ID, req.Name, req.Dosage, req.AlertThreshold, req.IntervalHours)
	if err != nil {
		h.logger.Error("update medication", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to update medication"})
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type stockRequest struct {
	Stock int `json:"stock"`
}

// UpdateStock sets the absolute stock count, used for refills and manual
// corrections. Dose confirmations decrement stock on their own.
func (h *MedicationHandler) UpdateStock(w http.ResponseWriter, r *http.Request) {
	med, ok := h.ownedMedication(w, r)
	if !ok {
		return
	}

	var req stockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.Stock < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "stock cannot be negative"})
		return
	}

	updated, err := h.medicationStore.UpdateStock(med.ID, req.Stock)
	if err != nil {
		h.logger.Error("update stock", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to update stock"})
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *MedicationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	med, ok := h.ownedMedication(w, r)
	if !ok {
		return
	}
	if err := h.medicationStore.Delete(med.ID); err != nil {
		h.logger.Error("delete medication", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete medication"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ownedMedication loads the {id} path medication and verifies the caller owns
// it, writing the error response itself when not.
func (h *MedicationHandler) ownedMedication(w http.ResponseWriter, r *http.Request) (*model.Medication, bool) {
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

func parseIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

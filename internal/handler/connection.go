package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/dosewatch/internal/auth"
	"github.com/dukerupert/dosewatch/internal/model"
	"github.com/dukerupert/dosewatch/internal/notify"
	"github.com/dukerupert/dosewatch/internal/store"
)

type ConnectionHandler struct {
	connectionStore *store.ConnectionStore
	userStore       *store.UserStore
	medicationStore *store.MedicationStore
	notifier        *notify.Notifier
	logger          *slog.Logger
}

func NewConnectionHandler(cs *store.ConnectionStore, us *store.UserStore, ms *store.MedicationStore, notifier *notify.Notifier, logger *slog.Logger) *ConnectionHandler {
	return &ConnectionHandler{
		connectionStore: cs,
		userStore:       us,
		medicationStore: ms,
		notifier:        notifier,
		logger:          logger,
	}
}

type connectionRequest struct {
	TargetEmail string `json:"target_email"`
}

// Create sends a connection request from the calling master to a dependent
// or controller, identified by email. Free-plan masters are limited to one
// connection in any status.
func (h *ConnectionHandler) Create(w http.ResponseWriter, r *http.Request) {
	ac, ok := auth.FromContext(r.Context())
	if !ok || ac.Role != model.RoleMaster {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "only masters can create connections"})
		return
	}

	var req connectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	req.TargetEmail = strings.ToLower(strings.TrimSpace(req.TargetEmail))
	if req.TargetEmail == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "target_email is required"})
		return
	}

	if ac.Plan == model.PlanFree {
		count, err := h.connectionStore.CountByMaster(ac.UserID)
		if err != nil {
			h.logger.Error("count connections", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			return
		}
		if count >= 1 {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "free plan allows one connection; upgrade to premium for more"})
			return
		}
	}

	target, err := h.userStore.GetByEmail(req.TargetEmail)
	if err != nil {
		h.logger.Error("lookup connection target", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if target == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no user with that email"})
		return
	}
	if target.ID == ac.UserID {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "cannot connect to yourself"})
		return
	}
	if target.Role == model.RoleMaster {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "target must be a dependent or controller"})
		return
	}

	conn, err := h.connectionStore.Create(ac.UserID, target.ID)
	if err != nil {
		h.logger.Error("create connection", "error", err)
		writeJSON(w, http.StatusConflict, map[string]string{"error": "connection already exists"})
		return
	}

	requester, err := h.userStore.GetByID(ac.UserID)
	if err != nil || requester == nil {
		h.logger.Error("load requester", "error", err)
	} else {
		message := fmt.Sprintf("%s wants to connect with you", requester.Name)
		if err := h.notifier.Send(r.Context(), []int64{target.ID}, model.NotifTypeConnectionRequest, "Connection request", message, &conn.ID); err != nil {
			h.logger.Error("notify connection request", "error", err)
		}
	}

	writeJSON(w, http.StatusCreated, conn)
}

// Accept transitions a pending connection to accepted. Only the target of
// the request may accept it.
func (h *ConnectionHandler) Accept(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	conn, err := h.connectionStore.GetByID(id)
	if err != nil {
		h.logger.Error("get connection", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if conn == nil || conn.TargetID != auth.UserID(r.Context()) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "connection not found"})
		return
	}
	if conn.Status != model.ConnectionPending {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "connection is not pending"})
		return
	}

	accepted, err := h.connectionStore.Accept(id)
	if err != nil {
		h.logger.Error("accept connection", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	target, err := h.userStore.GetByID(conn.TargetID)
	if err != nil || target == nil {
		h.logger.Error("load connection target", "error", err)
	} else {
		message := fmt.Sprintf("%s accepted your connection request", target.Name)
		if err := h.notifier.Send(r.Context(), []int64{conn.MasterID}, model.NotifTypeConnectionAccepted, "Connection accepted", message, &conn.ID); err != nil {
			h.logger.Error("notify connection accepted", "error", err)
		}
	}

	writeJSON(w, http.StatusOK, accepted)
}

func (h *ConnectionHandler) List(w http.ResponseWriter, r *http.Request) {
	conns, err := h.connectionStore.ListInvolving(auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("list connections", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list connections"})
		return
	}
	if conns == nil {
		conns = []model.Connection{}
	}
	writeJSON(w, http.StatusOK, conns)
}

// Delete removes a connection. Either side may sever it.
func (h *ConnectionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	conn, err := h.connectionStore.GetByID(id)
	if err != nil {
		h.logger.Error("get connection", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	userID := auth.UserID(r.Context())
	if conn == nil || (conn.MasterID != userID && conn.TargetID != userID) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "connection not found"})
		return
	}

	if err := h.connectionStore.Delete(id); err != nil {
		h.logger.Error("delete connection", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type dependentResponse struct {
	model.User
	Medications []model.Medication `json:"medications"`
}

// Dependents lists the dependent users the calling master has accepted
// connections to, with each dependent's medications for caregiver view.
func (h *ConnectionHandler) Dependents(w http.ResponseWriter, r *http.Request) {
	if !auth.IsMaster(r.Context()) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "only masters have dependents"})
		return
	}

	conns, err := h.connectionStore.ListAcceptedByMaster(auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("list accepted connections", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list dependents"})
		return
	}

	dependents := []dependentResponse{}
	for _, conn := range conns {
		target, err := h.userStore.GetByID(conn.TargetID)
		if err != nil {
			h.logger.Error("load dependent", "user_id", conn.TargetID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list dependents"})
			return
		}
		if target == nil || target.Role != model.RoleDependent {
			continue
		}
		meds, err := h.medicationStore.ListByUser(target.ID)
		if err != nil {
			h.logger.Error("load dependent medications", "user_id", target.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list dependents"})
			return
		}
		if meds == nil {
			meds = []model.Medication{}
		}
		dependents = append(dependents, dependentResponse{User: *target, Medications: meds})
	}
	writeJSON(w, http.StatusOK, dependents)
}

package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"usbscope/internal/dmesg"
	"usbscope/internal/domain"
	"usbscope/internal/logger"
	"usbscope/internal/service"
)

// ErrorSource supplies the recent kernel log error history.
type ErrorSource interface {
	Recent() []dmesg.USBError
}

// Handler serves the topology API.
type Handler struct {
	monitor *service.Monitor
	errors  ErrorSource
	started time.Time
	log     zerolog.Logger
}

// New creates a handler. errorSource may be nil when dmesg is unavailable.
func New(monitor *service.Monitor, errorSource ErrorSource) *Handler {
	return &Handler{
		monitor: monitor,
		errors:  errorSource,
		started: time.Now(),
		log:     logger.WithComponent("http"),
	}
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Register attaches every API route to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/devices", h.ListDevices)
	mux.HandleFunc("GET /api/devices/{addr}", h.GetDevice)
	mux.HandleFunc("POST /api/devices/{addr}/reset", h.ResetDevice)
	mux.HandleFunc("POST /api/devices/name", h.SetDeviceName)

	mux.HandleFunc("GET /api/hub-labels", h.GetHubLabels)
	mux.HandleFunc("POST /api/hub-labels", h.SetHubLabel)

	mux.HandleFunc("GET /api/physical-groups", h.ListGroups)
	mux.HandleFunc("POST /api/physical-groups", h.CreateGroup)
	mux.HandleFunc("PUT /api/physical-groups/{name}", h.UpdateGroup)
	mux.HandleFunc("DELETE /api/physical-groups/{name}", h.DeleteGroup)
	mux.HandleFunc("GET /api/physical-groups/candidates", h.GetCandidates)

	mux.HandleFunc("GET /api/learning/status", h.LearningStatus)
	mux.HandleFunc("POST /api/learning/start", h.StartLearning)
	mux.HandleFunc("POST /api/learning/stop", h.StopLearning)
	mux.HandleFunc("GET /api/learning/preview", h.PreviewLearning)
	mux.HandleFunc("GET /api/learning/hubs", h.ListLearningHubs)
	mux.HandleFunc("POST /api/learning/test-hub/{addr}", h.TestHub)

	mux.HandleFunc("GET /api/errors", h.ListErrors)
	mux.HandleFunc("GET /api/health", h.Health)

	mux.HandleFunc("GET /ws", h.ServeWS)
}

// DeviceTreeResponse is the body of GET /api/devices.
type DeviceTreeResponse struct {
	Devices []*domain.DeviceRecord `json:"devices"`
	TakenAt time.Time              `json:"taken_at"`
}

// ListDevices returns the current topology forest.
func (h *Handler) ListDevices(w http.ResponseWriter, r *http.Request) {
	snap := h.monitor.Snapshot()
	if snap == nil {
		h.writeJSON(w, DeviceTreeResponse{Devices: []*domain.DeviceRecord{}}, http.StatusOK)
		return
	}
	h.writeJSON(w, DeviceTreeResponse{Devices: snap.Roots, TakenAt: snap.Taken}, http.StatusOK)
}

// GetDevice returns a single device by port path.
func (h *Handler) GetDevice(w http.ResponseWriter, r *http.Request) {
	addr := r.PathValue("addr")

	d, err := h.monitor.Device(addr)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.writeError(w, "Device not found", addr, http.StatusNotFound)
			return
		}
		h.log.Error().Err(err).Str("port_path", addr).Msg("device lookup failed")
		h.writeError(w, "Failed to get device", err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, d, http.StatusOK)
}

// ResetDevice starts a re-enumeration of one device. The outcome arrives on
// the websocket as a reset_result event.
func (h *Handler) ResetDevice(w http.ResponseWriter, r *http.Request) {
	addr := r.PathValue("addr")

	if err := h.monitor.ResetDevice(r.Context(), addr); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.writeError(w, "Device not found", addr, http.StatusNotFound)
			return
		}
		h.log.Error().Err(err).Str("port_path", addr).Msg("reset request failed")
		h.writeError(w, "Failed to reset device", err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, map[string]string{
		"status":    "reset_started",
		"port_path": addr,
	}, http.StatusAccepted)
}

// NameRequest is the body of POST /api/devices/name.
type NameRequest struct {
	VendorID  string `json:"vendor_id"`
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
}

// SetDeviceName persists a custom name keyed on vendor:product identity.
func (h *Handler) SetDeviceName(w http.ResponseWriter, r *http.Request) {
	var req NameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return
	}
	if req.VendorID == "" || req.ProductID == "" {
		h.writeError(w, "vendor_id and product_id required", "", http.StatusBadRequest)
		return
	}

	if err := h.monitor.SetDeviceName(r.Context(), req.VendorID, req.ProductID, req.Name); err != nil {
		h.log.Error().Err(err).Str("vendor_id", req.VendorID).Msg("set name failed")
		h.writeError(w, "Failed to set device name", err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, map[string]string{"status": "updated"}, http.StatusOK)
}

// GetHubLabels returns the persisted hub labels.
func (h *Handler) GetHubLabels(w http.ResponseWriter, r *http.Request) {
	labels, err := h.monitor.HubLabels(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("hub labels lookup failed")
		h.writeError(w, "Failed to get hub labels", err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, labels, http.StatusOK)
}

// LabelRequest is the body of POST /api/hub-labels.
type LabelRequest struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

// SetHubLabel persists a hub label. An empty label clears the entry.
func (h *Handler) SetHubLabel(w http.ResponseWriter, r *http.Request) {
	var req LabelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return
	}
	if req.Key == "" {
		h.writeError(w, "key required", "", http.StatusBadRequest)
		return
	}

	if err := h.monitor.SetHubLabel(r.Context(), req.Key, req.Label); err != nil {
		h.log.Error().Err(err).Str("key", req.Key).Msg("set hub label failed")
		h.writeError(w, "Failed to set hub label", err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, map[string]string{"status": "updated"}, http.StatusOK)
}

// ListGroups returns the confirmed physical groups.
func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.monitor.Groups(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("group lookup failed")
		h.writeError(w, "Failed to get physical groups", err.Error(), http.StatusInternalServerError)
		return
	}
	if groups == nil {
		groups = []domain.PhysicalGroup{}
	}
	h.writeJSON(w, groups, http.StatusOK)
}

// CreateGroup persists a confirmed physical group.
func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var group domain.PhysicalGroup
	if err := json.NewDecoder(r.Body).Decode(&group); err != nil {
		h.writeError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.monitor.AddGroup(r.Context(), group); err != nil {
		h.writeError(w, "Failed to create physical group", err.Error(), http.StatusBadRequest)
		return
	}

	group.Confirmed = true
	h.writeJSON(w, group, http.StatusCreated)
}

// UpdateGroup changes an existing group's label or membership.
func (h *Handler) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var group domain.PhysicalGroup
	if err := json.NewDecoder(r.Body).Decode(&group); err != nil {
		h.writeError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return
	}
	group.Name = name

	if err := h.monitor.UpdateGroup(r.Context(), group); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.writeError(w, "Physical group not found", name, http.StatusNotFound)
			return
		}
		h.log.Error().Err(err).Str("group", name).Msg("group update failed")
		h.writeError(w, "Failed to update physical group", err.Error(), http.StatusBadRequest)
		return
	}

	h.writeJSON(w, group, http.StatusOK)
}

// DeleteGroup removes a persisted group.
func (h *Handler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	if err := h.monitor.RemoveGroup(r.Context(), name); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.writeError(w, "Physical group not found", name, http.StatusNotFound)
			return
		}
		h.log.Error().Err(err).Str("group", name).Msg("group delete failed")
		h.writeError(w, "Failed to delete physical group", err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetCandidates runs the grouping heuristic against the live snapshot.
func (h *Handler) GetCandidates(w http.ResponseWriter, r *http.Request) {
	candidates, err := h.monitor.CandidateGroups(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("candidate detection failed")
		h.writeError(w, "Failed to detect candidates", err.Error(), http.StatusInternalServerError)
		return
	}
	if candidates == nil {
		candidates = []domain.PhysicalGroup{}
	}
	h.writeJSON(w, candidates, http.StatusOK)
}

// LearningStatus reports whether the learning session is armed.
func (h *Handler) LearningStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.monitor.Learning(r.Context())
	if err != nil {
		h.writeError(w, "Failed to get learning status", err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, st, http.StatusOK)
}

// StartLearningResponse reports the armed session plus the storage devices
// an unplug would sever, so clients can warn before the user pulls a cable.
type StartLearningResponse struct {
	Status string `json:"status"`
	*service.LearningStart
}

// StartLearning arms the learning session.
func (h *Handler) StartLearning(w http.ResponseWriter, r *http.Request) {
	start, err := h.monitor.StartLearning(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyArmed) {
			h.writeError(w, "Learning already in progress", "", http.StatusConflict)
			return
		}
		h.log.Error().Err(err).Msg("learning start failed")
		h.writeError(w, "Failed to start learning", err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, StartLearningResponse{Status: "learning_started", LearningStart: start}, http.StatusOK)
}

// StopLearningRequest is the body of POST /api/learning/stop.
type StopLearningRequest struct {
	Save  bool   `json:"save"`
	Name  string `json:"name"`
	Label string `json:"label"`
}

// StopLearningResponse reports what the session detected, if anything.
type StopLearningResponse struct {
	Status   string                `json:"status"`
	Detected *domain.DetectedGroup `json:"detected,omitempty"`
}

// StopLearning disarms the session and optionally persists the detection.
func (h *Handler) StopLearning(w http.ResponseWriter, r *http.Request) {
	var req StopLearningRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
			return
		}
	}

	detected, err := h.monitor.StopLearning(r.Context(), req.Save, req.Name, req.Label)
	if err != nil {
		if errors.Is(err, domain.ErrNotArmed) {
			h.writeError(w, "Learning not in progress", "", http.StatusConflict)
			return
		}
		h.log.Error().Err(err).Msg("learning stop failed")
		h.writeError(w, "Failed to stop learning", err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, StopLearningResponse{Status: "learning_stopped", Detected: detected}, http.StatusOK)
}

// PreviewLearning shows what the armed session would detect if stopped now,
// without disarming it.
func (h *Handler) PreviewLearning(w http.ResponseWriter, r *http.Request) {
	detected, err := h.monitor.PreviewLearning(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrNotArmed) {
			h.writeError(w, "Learning not in progress", "", http.StatusConflict)
			return
		}
		h.log.Error().Err(err).Msg("learning preview failed")
		h.writeError(w, "Failed to preview learning", err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, map[string]any{
		"status":         "preview",
		"detected_group": detected,
	}, http.StatusOK)
}

// ListLearningHubs lists the external hubs a learning session could capture.
func (h *Handler) ListLearningHubs(w http.ResponseWriter, r *http.Request) {
	hubs, err := h.monitor.LearningHubs(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("hub listing failed")
		h.writeError(w, "Failed to list hubs", err.Error(), http.StatusInternalServerError)
		return
	}
	if hubs == nil {
		hubs = []service.LearningHub{}
	}
	h.writeJSON(w, map[string]any{"hubs": hubs}, http.StatusOK)
}

// TestHub power cycles one external hub so the user can spot which physical
// enclosure it belongs to.
func (h *Handler) TestHub(w http.ResponseWriter, r *http.Request) {
	addr := r.PathValue("addr")

	test, err := h.monitor.TestHub(r.Context(), addr)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			h.writeError(w, "Device not found", addr, http.StatusNotFound)
		case errors.Is(err, domain.ErrNotHub):
			h.writeError(w, "Not an external hub", addr, http.StatusBadRequest)
		default:
			h.log.Error().Err(err).Str("port_path", addr).Msg("hub test failed")
			h.writeError(w, "Failed to test hub", err.Error(), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, test, http.StatusAccepted)
}

// ListErrors returns the recent kernel log error history. An optional
// port_path query narrows it to one device, ancestor-port errors included.
func (h *Handler) ListErrors(w http.ResponseWriter, r *http.Request) {
	recent := []dmesg.USBError{}
	if h.errors != nil {
		if errs := h.errors.Recent(); errs != nil {
			recent = errs
		}
	}

	if addr := r.URL.Query().Get("port_path"); addr != "" {
		matched := dmesg.ErrorsFor(addr, recent)
		if matched == nil {
			matched = []string{}
		}
		h.writeJSON(w, map[string]any{
			"port_path": addr,
			"errors":    matched,
		}, http.StatusOK)
		return
	}

	h.writeJSON(w, recent, http.StatusOK)
}

// Health reports liveness plus a few cheap gauges.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	devices := 0
	if snap := h.monitor.Snapshot(); snap != nil {
		devices = snap.Len()
	}

	h.writeJSON(w, map[string]any{
		"status":         "ok",
		"devices":        devices,
		"clients":        h.monitor.Hub().ClientCount(),
		"uptime_seconds": int(time.Since(h.started).Seconds()),
	}, http.StatusOK)
}

// ServeWS upgrades to a websocket event stream.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	h.monitor.Hub().ServeWS(w, r, h.monitor.Control)
}

// Helper methods

func (h *Handler) writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("encoding response failed")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, error, details string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Details: details,
	}); err != nil {
		h.log.Error().Err(err).Msg("encoding error response failed")
	}
}

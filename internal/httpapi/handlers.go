package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nbhatti/whatsapi-bridge-sub002/internal/domain"
	"github.com/nbhatti/whatsapi-bridge-sub002/internal/health"
	"github.com/nbhatti/whatsapi-bridge-sub002/internal/queue"
)

type API struct {
	Dispatcher *queue.Dispatcher
	Health     *health.Monitor
}

func (a *API) Register(r *mux.Router) {
	r.HandleFunc("/v1/queue", a.handleEnqueue).Methods(http.MethodPost)
	r.HandleFunc("/v1/queue/status", a.handleQueueStatus).Methods(http.MethodGet)
	r.HandleFunc("/v1/queue/clear", a.handleClearQueue).Methods(http.MethodPost)
	r.HandleFunc("/v1/queue/config", a.handleUpdateConfig).Methods(http.MethodPut)
	r.HandleFunc("/v1/messages/{id}", a.handleGetMessage).Methods(http.MethodGet)
	r.HandleFunc("/v1/devices/{id}/health", a.handleDeviceHealth).Methods(http.MethodGet)
	r.HandleFunc("/v1/devices/{id}/queue-status", a.handleDeviceQueueStatus).Methods(http.MethodGet)
	r.HandleFunc("/v1/devices/{id}/warmup", a.handleWarmup).Methods(http.MethodPost)
	r.HandleFunc("/v1/health/devices", a.handleAllHealth).Methods(http.MethodGet)
	r.HandleFunc("/v1/health/attention", a.handleAttention).Methods(http.MethodGet)
}

func (a *API) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req domain.EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}

	msg, err := a.Dispatcher.Enqueue(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusAccepted, domain.EnqueueResponse{MessageID: msg.ID, Status: "queued"})
}

func (a *API) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Dispatcher.Queue.Status())
}

func (a *API) handleClearQueue(w http.ResponseWriter, r *http.Request) {
	removed := a.Dispatcher.Queue.Clear()
	writeJSON(w, http.StatusOK, map[string]int{"clearedMessages": removed})
}

func (a *API) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var patch queue.ConfigPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	cfg, err := a.Dispatcher.UpdateConfig(patch)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (a *API) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		http.Error(w, ErrMissingID, http.StatusBadRequest)
		return
	}
	msg, found := a.Dispatcher.Queue.Get(id)
	if !found {
		http.Error(w, ErrNotFound, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (a *API) handleDeviceHealth(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	h, found := a.Health.Get(id)
	if !found {
		http.Error(w, ErrNotFound, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

type deviceQueueStatusResponse struct {
	Queue              domain.DeviceQueueStatus `json:"queue"`
	Health             *health.DeviceHealth     `json:"health,omitempty"`
	Safety             health.Decision          `json:"safety"`
	RecommendedDelayMs int64                    `json:"recommendedDelayMs"`
}

func (a *API) handleDeviceQueueStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	resp := deviceQueueStatusResponse{
		Queue:              a.Dispatcher.DeviceStatus(id),
		Safety:             a.Health.IsSafeToSend(id),
		RecommendedDelayMs: a.Health.RecommendedDelay(id).Milliseconds(),
	}
	if h, found := a.Health.Get(id); found {
		resp.Health = &h
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleWarmup(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	a.Health.StartWarmup(id)
	h, _ := a.Health.Get(id)
	writeJSON(w, http.StatusAccepted, h)
}

func (a *API) handleAllHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Health.All())
}

func (a *API) handleAttention(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Health.NeedingAttention())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

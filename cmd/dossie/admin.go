package main

import (
	"encoding/json"
	"net/http"

	"github.com/dossie-intel/core/internal/dispatch"
	"github.com/dossie-intel/core/internal/store"
)

// launchRequest is the JSON body accepted by POST /investigations.
type launchRequest struct {
	InvestigationID string         `json:"investigation_id"`
	Params          map[string]any `json:"params"`
	Priority        int            `json:"priority"`
}

// registerAdminRoutes wires the Dispatch Facade's administrative surface
// onto mux, mirroring the handleListIncidents/handleReplayIncident
// JSON-handler shape in api_incidents.go -- no auth middleware, since REST
// authentication is out of scope for this core.
func registerAdminRoutes(mux *http.ServeMux, facade *dispatch.Facade) {
	mux.HandleFunc("/investigations", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req launchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		priority := store.Priority(req.Priority)
		if priority == 0 {
			priority = store.PriorityNormal
		}

		ids, err := facade.LaunchInvestigation(r.Context(), req.InvestigationID, req.Params, priority)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, ids)
	})

	mux.HandleFunc("/investigations/progress", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("investigation_id")
		writeJSON(w, facade.Progress(id))
	})

	mux.HandleFunc("/investigations/cancel", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id := r.URL.Query().Get("investigation_id")
		n, err := facade.CancelInvestigation(r.Context(), id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, map[string]int{"cancelled": n})
	})

	mux.HandleFunc("/tasks/status", func(w http.ResponseWriter, r *http.Request) {
		taskID := r.URL.Query().Get("task_id")
		task, err := facade.Status(r.Context(), taskID)
		if err == dispatch.ErrTaskNotFound {
			http.Error(w, "task not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, task)
	})

	mux.HandleFunc("/queues", func(w http.ResponseWriter, r *http.Request) {
		source := store.Source(r.URL.Query().Get("source"))
		stats, err := facade.QueueStats(r.Context(), source)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, stats)
	})

	mux.HandleFunc("/circuit-breakers", func(w http.ResponseWriter, r *http.Request) {
		source := store.Source(r.URL.Query().Get("source"))
		writeJSON(w, facade.CircuitBreaker(source))
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

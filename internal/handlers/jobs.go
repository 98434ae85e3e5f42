package handlers

import (
	"errors"
	"net/http"

	"media-pipeline/internal/jobs"
	"media-pipeline/internal/logging"
	"media-pipeline/internal/processor"

	"github.com/gorilla/mux"
)

// GetJobs returns the counts and paused state of every queue.
func (h *Handlers) GetJobs(w http.ResponseWriter, r *http.Request) {
	status, err := h.processor.AllJobsStatus(r.Context())
	if err != nil {
		logging.Error("Failed to read job status: %v", err)
		writeJSONError(w, "failed to read job status", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// SendJobCommand applies a start, pause, resume or empty command to a queue.
func (h *Handlers) SendJobCommand(w http.ResponseWriter, r *http.Request) {
	queue, err := jobs.ParseQueue(mux.Vars(r)["queue"])
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusNotFound)
		return
	}

	var cmd processor.JobCommand
	if err := decodeJSON(r, &cmd); err != nil {
		writeJSONError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	status, err := h.processor.HandleCommand(r.Context(), queue, cmd)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, status)
	case errors.Is(err, jobs.ErrAlreadyActive):
		writeJSONError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, processor.ErrUnknownCommand), errors.Is(err, processor.ErrNotStartable):
		writeJSONError(w, err.Error(), http.StatusBadRequest)
	default:
		logging.Error("Job command %s on %s failed: %v", cmd.Command, queue, err)
		writeJSONError(w, "job command failed", http.StatusInternalServerError)
	}
}

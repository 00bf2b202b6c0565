package handler

import (
	"net/http"
	"os"
)

const serviceName = "paperreader"

// QueueStats reports conversion queue depth.
type QueueStats interface {
	Stats() (queued, running int)
}

// HealthHandler reports whether the storage directories exist and how busy
// the conversion queue is.
type HealthHandler struct {
	uploadPath    string
	processedPath string
	queue         QueueStats
}

func NewHealthHandler(uploadPath, processedPath string, queue QueueStats) *HealthHandler {
	return &HealthHandler{uploadPath: uploadPath, processedPath: processedPath, queue: queue}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	components := map[string]string{
		"upload_dir":    dirState(h.uploadPath),
		"processed_dir": dirState(h.processedPath),
	}
	resp := map[string]interface{}{
		"status":     "healthy",
		"service":    serviceName,
		"components": components,
	}
	if h.queue != nil {
		queued, running := h.queue.Stats()
		resp["queue"] = map[string]int{"queued": queued, "running": running}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "pong", "service": serviceName})
}

func dirState(path string) string {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return "ready"
	}
	return "not_found"
}

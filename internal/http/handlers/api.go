package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	devicedomain "github.com/NickAnderegg/kasa-server/internal/domain/device"
	"github.com/NickAnderegg/kasa-server/internal/events"
)

// EventSource hands out subscriptions to device state change events.
type EventSource interface {
	Subscribe(buffer int) (<-chan events.Event, func())
}

// API groups HTTP handlers and dependencies.
type API struct {
	devices devicedomain.Service
	events  EventSource
	logger  *slog.Logger
}

// New creates HTTP handlers with explicit dependencies.
func New(devices devicedomain.Service, source EventSource, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{devices: devices, events: source, logger: logger}
}

// Logger returns request logger used by HTTP middleware.
func (a *API) Logger() *slog.Logger {
	return a.logger
}

// Health reports liveness and the number of registered devices.
func (a *API) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "devices": a.devices.Count()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

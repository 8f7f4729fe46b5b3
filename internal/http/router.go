package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	devicedomain "github.com/NickAnderegg/kasa-server/internal/domain/device"
	"github.com/NickAnderegg/kasa-server/internal/http/handlers"
)

const defaultRequestTimeout = 20 * time.Second

// NewRouter builds the HTTP routing tree for the device API.
func NewRouter(api *handlers.API, requestTimeout time.Duration) http.Handler {
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RecoverJSON)
	r.Use(RequestLogger(api))

	r.Get("/healthz", api.Health)
	r.Get("/events", api.StreamEvents)

	r.Group(func(devices chi.Router) {
		devices.Use(middleware.Timeout(requestTimeout))

		devices.Get("/devices", api.ListDevices)
		devices.Get("/devices/{name}", func(w http.ResponseWriter, r *http.Request) {
			api.GetDevice(w, r, deviceName(r))
		})
		devices.Put("/devices/{name}/toggle", func(w http.ResponseWriter, r *http.Request) {
			api.SetPower(w, r, deviceName(r), devicedomain.PowerToggle)
		})
		devices.Put("/devices/{name}/on", func(w http.ResponseWriter, r *http.Request) {
			api.SetPower(w, r, deviceName(r), devicedomain.PowerOn)
		})
		devices.Put("/devices/{name}/off", func(w http.ResponseWriter, r *http.Request) {
			api.SetPower(w, r, deviceName(r), devicedomain.PowerOff)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeErrorJSON(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeErrorJSON(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// deviceName returns the percent-decoded {name} path parameter. chi routes
// on the raw path when the request carries one, leaving escapes in place.
func deviceName(r *http.Request) string {
	name := chi.URLParam(r, "name")
	if r.URL.RawPath == "" {
		return name
	}
	if decoded, err := url.PathUnescape(name); err == nil {
		return decoded
	}
	return name
}

// RunServer starts and gracefully stops HTTP server with context cancellation.
func RunServer(ctx context.Context, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

package app

import (
	"encoding/json"
	"net/http"

	"github.com/zachfi/snowboot/pkg/icecast"
)

// registerHealthRoutes exposes the streamer's read-only snapshot on the
// embedded server, next to the instrumentation endpoints dskit registers.
func (a *App) registerHealthRoutes() {
	a.Server.HTTP.Path("/healthz").Methods("GET").HandlerFunc(a.healthHandler)
	a.Server.HTTP.Path("/ready").Methods("GET").HandlerFunc(a.readyHandler)
}

func (a *App) healthHandler(w http.ResponseWriter, _ *http.Request) {
	snap := a.streamer.Status().Snapshot()

	code := http.StatusOK
	if a.streamer.Status().State() == icecast.StateFailedPermanent {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(snap)
}

func (a *App) readyHandler(w http.ResponseWriter, _ *http.Request) {
	if a.streamer.Status().State() == icecast.StateConnected {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready\n"))
}

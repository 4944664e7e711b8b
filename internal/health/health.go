// Package health implements liveness and readiness probes.
package health

import (
	"net/http"

	"github.com/helio/solwind/internal/donki"
)

// Healthz returns 200 "ok\n" unconditionally.
func Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

// Readyz reports ready once a CME catalog has been loaded, from the network
// or from a disk snapshot. Serving propagation with no catalog would return
// empty keyframes to every client, so the pod stays unready until then.
func Readyz(store *donki.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		if store.Get() == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("no catalog\n"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready\n"))
	}
}

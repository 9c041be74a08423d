package httpapi

import (
	hpprof "net/http/pprof"

	"github.com/gorilla/mux"
)

// mountPprof exposes the runtime profiles under /debug/pprof/. The routes sit
// behind the same API key as the rest of the surface.
func mountPprof(r *mux.Router) {
	d := r.PathPrefix("/debug/pprof").Subrouter()
	d.HandleFunc("/cmdline", hpprof.Cmdline)
	d.HandleFunc("/profile", hpprof.Profile)
	d.HandleFunc("/symbol", hpprof.Symbol)
	d.HandleFunc("/trace", hpprof.Trace)
	d.PathPrefix("/").HandlerFunc(hpprof.Index)
}

package report

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/nredf-scheduler/internal/observability"
	"github.com/signalsfoundry/nredf-scheduler/internal/sim/engine"
	"github.com/signalsfoundry/nredf-scheduler/model"
)

// Source supplies live measurements, normally an *engine.Engine.
type Source interface {
	Summary() engine.Summary
}

// NewRouter serves the status API of a running simulation:
//
//	GET /health
//	GET /metrics
//	GET /api/v1/status
//	GET /api/v1/flows
//	GET /api/v1/flows/{node}/{lcid}
//
// gatherer may be nil, in which case /metrics is not routed.
func NewRouter(src Source, gatherer prometheus.Gatherer) *mux.Router {
	r := mux.NewRouter()
	h := handlers{src: src, now: time.Now}

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	if gatherer != nil {
		r.Handle("/metrics", observability.HandlerFor(gatherer)).Methods(http.MethodGet)
	}
	r.HandleFunc("/api/v1/status", h.status).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/flows", h.flows).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/flows/{node:[0-9]+}/{lcid:[0-9]+}", h.flow).Methods(http.MethodGet)
	return r
}

type handlers struct {
	src Source
	now func() time.Time
}

func (h handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h handlers) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, FromSummary(h.src.Summary(), h.now()))
}

func (h handlers) flows(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, FromSummary(h.src.Summary(), h.now()).Flows)
}

func (h handlers) flow(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	node, errNode := strconv.ParseUint(vars["node"], 10, 16)
	lcid, errLCID := strconv.ParseUint(vars["lcid"], 10, 16)
	if errNode != nil || errLCID != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": fmt.Sprintf("unknown connection %s/%s", vars["node"], vars["lcid"]),
		})
		return
	}
	cid := model.NewConnectionID(model.NodeID(node), model.LCID(lcid)).String()
	f, ok := FromSummary(h.src.Summary(), h.now()).Flow(cid)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown connection " + cid})
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

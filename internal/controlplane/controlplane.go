// Package controlplane implements the HTTP control-plane adapter (C6): the
// five REST endpoints operators use to create, inspect, and remove fault
// plans. Routing follows gorilla/mux the way abhyuday404-FaultLine wires its
// own fault-injection CLI's HTTP surface, and registry errors are translated
// to status codes purely via trace.Is* predicates, never by string-matching
// error text.
package controlplane

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gravitational/trace"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/Toyota-Connected-India/red-monkey/internal/registry"
)

// planJSON is the wire shape of a FaultPlan, matching the canonical
// representation: fault_type is case-insensitive on input and rendered in
// canonical casing on output.
type planJSON struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	FaultType   string `json:"fault_type"`
	DurationMs  uint64 `json:"duration,omitempty"`
	ErrorMsg    string `json:"error_msg,omitempty"`
	Command     string `json:"command"`
}

func toJSON(plan *registry.FaultPlan) planJSON {
	return planJSON{
		Name:        plan.Name,
		Description: plan.Description,
		FaultType:   string(plan.FaultType),
		DurationMs:  plan.DurationMs,
		ErrorMsg:    plan.ErrorMsg,
		Command:     plan.Command,
	}
}

func fromJSON(body planJSON) registry.FaultPlan {
	return registry.FaultPlan{
		Name:        body.Name,
		Description: body.Description,
		FaultType:   canonicalFaultType(body.FaultType),
		DurationMs:  body.DurationMs,
		ErrorMsg:    body.ErrorMsg,
		Command:     body.Command,
	}
}

// canonicalFaultType maps a case-insensitive fault_type input onto its
// canonical constant; an unrecognized value is passed through unchanged so
// registry.Create's validation rejects it with a clear BadParameter.
func canonicalFaultType(raw string) registry.FaultType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case strings.ToLower(string(registry.Delay)):
		return registry.Delay
	case strings.ToLower(string(registry.Error)):
		return registry.Error
	case strings.ToLower(string(registry.DropConn)):
		return registry.DropConn
	default:
		return registry.FaultType(raw)
	}
}

// Router builds the HTTP handler for the control plane, wiring the five
// endpoints in the external-interface contract plus CORS for browser-based
// operator tooling.
type Router struct {
	registry *registry.Registry
	logger   *zap.Logger
	mux      *mux.Router
}

// NewRouter constructs a Router bound to reg, logging every request through
// logger with a generated request id.
func NewRouter(reg *registry.Registry, logger *zap.Logger) *Router {
	r := &Router{registry: reg, logger: logger, mux: mux.NewRouter()}
	r.mux.HandleFunc("/fault", r.createFault).Methods(http.MethodPost)
	r.mux.HandleFunc("/fault/{name}", r.getFault).Methods(http.MethodGet)
	r.mux.HandleFunc("/faults", r.listFaults).Methods(http.MethodGet)
	r.mux.HandleFunc("/fault/{name}", r.deleteFault).Methods(http.MethodDelete)
	r.mux.HandleFunc("/faults", r.deleteAllFaults).Methods(http.MethodDelete)
	return r
}

// Handler returns the CORS-wrapped, request-logging http.Handler to mount on
// an *http.Server.
func (r *Router) Handler() http.Handler {
	logged := r.withRequestLogging(r.mux)
	return cors.Default().Handler(logged)
}

func (r *Router) withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		requestID := uuid.NewString()
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, req)

		r.logger.Info("control-plane request",
			zap.String("request_id", requestID),
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("latency", time.Since(start)),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (r *Router) createFault(w http.ResponseWriter, req *http.Request) {
	var body planJSON
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	created, err := r.registry.Create(fromJSON(body))
	if err != nil {
		writeRegistryError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toJSON(created))
}

func (r *Router) getFault(w http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]
	plan, ok := r.registry.GetByName(name)
	if !ok {
		writeError(w, http.StatusNotFound, "fault plan not found")
		return
	}
	writeJSON(w, http.StatusOK, toJSON(plan))
}

func (r *Router) listFaults(w http.ResponseWriter, req *http.Request) {
	plans := r.registry.List()
	out := make([]planJSON, 0, len(plans))
	for _, plan := range plans {
		out = append(out, toJSON(plan))
	}
	writeJSON(w, http.StatusOK, out)
}

func (r *Router) deleteFault(w http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]
	if err := r.registry.DeleteByName(name); err != nil {
		writeRegistryError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) deleteAllFaults(w http.ResponseWriter, req *http.Request) {
	r.registry.DeleteAll()
	w.WriteHeader(http.StatusNoContent)
}

func writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case trace.IsBadParameter(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case trace.IsAlreadyExists(err):
		writeError(w, http.StatusConflict, err.Error())
	case trace.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
